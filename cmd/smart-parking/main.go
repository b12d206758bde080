package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"smart-parking/internal/config"
	"smart-parking/internal/logging"
	"smart-parking/internal/parking"
	"smart-parking/internal/pricing"
	"smart-parking/internal/server"
	"smart-parking/internal/store/postgres"
	"smart-parking/internal/telemetry"
)

var (
	mode       = flag.String("mode", "cli", "Mode to run: cli, server, or both")
	configPath = flag.String("config", os.Getenv("PARKING_CONFIG"), "Path to a TOML config file")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "smart-parking: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	telemetryProvider, err := telemetry.Init(ctx, cfg.TelemetryConfig())
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdownTelemetry(telemetryProvider)

	logging.Init(cfg.Telemetry.ServiceName, cfg.Environment, cfg.Log.Level)

	engine, closeStores, err := buildEngine(ctx, cfg, telemetryProvider)
	if err != nil {
		return err
	}
	defer closeStores()

	switch *mode {
	case "cli":
		runCLI(ctx, engine, telemetryProvider)
		return nil
	case "server":
		return runServer(ctx, cfg, engine)
	case "both":
		return runBoth(ctx, cfg, engine, telemetryProvider)
	}
	return fmt.Errorf("invalid mode %q: must be cli, server, or both", *mode)
}

// buildEngine wires the engine onto PostgreSQL when a database URL is
// configured and onto in-memory stores otherwise.
func buildEngine(ctx context.Context, cfg *config.Config, tp *telemetry.Provider) (*parking.InstrumentedEngine, func(), error) {
	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, nil, err
	}
	seed, err := cfg.SeedSlots()
	if err != nil {
		return nil, nil, err
	}

	var (
		bookings parking.BookingStore = parking.NewMemoryBookingStore()
		sessions parking.SessionRepository
		pool     *pgxpool.Pool
	)
	cleanup := func() {}

	if cfg.Database.URL != "" {
		pool, err = postgres.NewPool(ctx, postgres.PoolConfig{
			URL:            cfg.Database.URL,
			MaxConns:       cfg.Database.MaxConns,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		cleanup = pool.Close

		if err := postgres.Migrate(ctx, pool); err != nil {
			cleanup()
			return nil, nil, err
		}

		catalog := postgres.NewSlotCatalog(pool)
		seed, err = loadLayout(ctx, catalog, seed)
		if err != nil {
			cleanup()
			return nil, nil, err
		}

		opts.Catalog = catalog
		bookings = postgres.NewBookingStore(pool)
		sessions = postgres.NewSessionRepository(pool)
	}

	registry := parking.NewRegistry()
	for _, s := range seed {
		if err := registry.Add(s); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("seed slot %s: %w", s.ID, err)
		}
	}

	pricer, err := pricing.NewEngine(cfg.PricingConfig())
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	ledger := parking.NewLedger(registry, sessions, cfg.Billing.Period)
	engine, err := parking.NewEngine(registry, bookings, ledger, pricer, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	restored, err := engine.Recover(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logging.Info(ctx, "parking engine ready",
		"slots", registry.Len(),
		"zones", registry.Zones(),
		"restored_sessions", restored,
		"persistent", pool != nil,
	)

	ie, err := parking.NewInstrumentedEngine(engine, tp.Tracer(), tp.Meter())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return ie, cleanup, nil
}

// loadLayout returns the persisted layout, writing the configured seed
// first when the catalog is still empty.
func loadLayout(ctx context.Context, catalog *postgres.SlotCatalog, seed []parking.Slot) ([]parking.Slot, error) {
	slots, err := catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		return slots, nil
	}

	for _, s := range seed {
		if err := catalog.Upsert(ctx, s); err != nil {
			return nil, err
		}
	}
	logging.Info(ctx, "seeded slot catalog", "slots", len(seed))
	return seed, nil
}

func newServer(cfg *config.Config, engine *parking.InstrumentedEngine) *server.Server {
	return server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		ServiceName: cfg.Telemetry.ServiceName,
		RateLimit: server.RateLimitConfig{
			Enabled: cfg.RateLimit.Enabled,
			RPS:     cfg.RateLimit.RPS,
			Burst:   cfg.RateLimit.Burst,
		},
	}, engine)
}

func runCLI(ctx context.Context, engine *parking.InstrumentedEngine, tp *telemetry.Provider) {
	shell := parking.NewShell(engine, tp.Tracer(), os.Stdin, os.Stdout)
	shell.Run(ctx)
}

func runServer(ctx context.Context, cfg *config.Config, engine *parking.InstrumentedEngine) error {
	srv := newServer(cfg, engine)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	select {
	case err := <-serverDone:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logging.Info(context.Background(), "received shutdown signal")
	}

	return shutdownServer(srv, cfg.Server.ShutdownTimeout)
}

func runBoth(ctx context.Context, cfg *config.Config, engine *parking.InstrumentedEngine, tp *telemetry.Provider) error {
	srv := newServer(cfg, engine)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	cliDone := make(chan struct{})
	go func() {
		runCLI(ctx, engine, tp)
		close(cliDone)
	}()

	select {
	case err := <-serverDone:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-cliDone:
		logging.Info(context.Background(), "CLI exited")
	case <-ctx.Done():
		logging.Info(context.Background(), "received shutdown signal")
	}

	return shutdownServer(srv, cfg.Server.ShutdownTimeout)
}

func shutdownServer(srv *server.Server, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func shutdownTelemetry(tp *telemetry.Provider) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "smart-parking: shutting down telemetry: %v\n", err)
	}
}
