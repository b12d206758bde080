package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smart-parking/internal/logging"
	"smart-parking/internal/metrics"
	"smart-parking/internal/parking"
)

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type Config struct {
	Port        string
	ServiceName string
	RateLimit   RateLimitConfig
}

type Server struct {
	httpServer *http.Server
	handler    *Handler
}

func NewServer(cfg Config, engine *parking.InstrumentedEngine) *Server {
	handler := NewHandler(engine, cfg.ServiceName)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewOccupancyCollector(engine.Engine),
	)

	r := chi.NewRouter()

	r.Use(RecoveryMiddleware)
	r.Use(TracingMiddleware(cfg.ServiceName))
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit.Enabled {
		limit = RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	r.Get("/health", handler.HealthCheck)
	r.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(limit).Post("/arrivals", handler.SubmitArrival)
		r.Get("/arrivals/recent", handler.GetRecentArrivals)
		r.With(limit).Post("/exits", handler.Exit)

		r.Get("/occupancy", handler.GetOccupancy)

		r.Get("/sessions", handler.GetActiveSessions)
		r.Get("/sessions/recent", handler.GetRecentSessions)
		r.Get("/sessions/{id}", handler.GetSession)

		r.Route("/slots", func(r chi.Router) {
			r.Get("/", handler.ListSlots)
			r.With(limit).Post("/", handler.AddSlot)
			r.With(limit).Delete("/{id}", handler.DeleteSlot)
			r.With(limit).Post("/{id}/out-of-service", handler.SetSlotOutOfService)
			r.With(limit).Post("/{id}/restore", handler.RestoreSlot)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.With(limit).Post("/", handler.CreateBooking)
			r.Get("/{id}", handler.GetBooking)
			r.With(limit).Delete("/{id}", handler.CancelBooking)
		})
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
	}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	logging.Info(context.Background(), "starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return fmt.Sprintf("http://localhost%s", s.httpServer.Addr)
}
