// Package config loads service settings from an optional TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"smart-parking/internal/parking"
	"smart-parking/internal/pricing"
	"smart-parking/internal/telemetry"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Environment   string              `toml:"environment"`
	Server        ServerConfig        `toml:"server"`
	Pricing       PricingConfig       `toml:"pricing"`
	Billing       BillingConfig       `toml:"billing"`
	Assignment    AssignmentConfig    `toml:"assignment"`
	Compatibility map[string][]string `toml:"compatibility"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
	Log           LogConfig           `toml:"log"`
	Database      DatabaseConfig      `toml:"database"`
	RateLimit     RateLimitConfig     `toml:"rate_limit"`
	Slots         []SlotConfig        `toml:"slots"`
}

type ServerConfig struct {
	Port            string        `toml:"port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type PricingConfig struct {
	BasePrice  decimal.Decimal `toml:"base_price"`
	Elasticity decimal.Decimal `toml:"elasticity"`
	Currency   string          `toml:"currency"`
	MinorUnits int32           `toml:"minor_units"`
}

type BillingConfig struct {
	Period time.Duration `toml:"period"`
}

type AssignmentConfig struct {
	DefaultSize      string `toml:"default_size"`
	RelaxBookingZone bool   `toml:"relax_booking_zone"`
	ArrivalLogSize   int    `toml:"arrival_log_size"`
}

type TelemetryConfig struct {
	ServiceName    string        `toml:"service_name"`
	Endpoint       string        `toml:"endpoint"`
	ExportInterval time.Duration `toml:"export_interval"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// DatabaseConfig is optional; an empty URL runs the service in memory.
type DatabaseConfig struct {
	URL            string        `toml:"url"`
	MaxConns       int32         `toml:"max_conns"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
}

type RateLimitConfig struct {
	Enabled bool    `toml:"enabled"`
	RPS     float64 `toml:"rps"`
	Burst   int     `toml:"burst"`
}

// SlotConfig describes one slot of the initial lot layout.
type SlotConfig struct {
	ID           string             `toml:"id"`
	Zone         string             `toml:"zone"`
	Size         string             `toml:"size"`
	Distance     float64            `toml:"distance"`
	Gates        map[string]float64 `toml:"gates"`
	OutOfService bool               `toml:"out_of_service"`
}

func Default() *Config {
	p := pricing.DefaultConfig()
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Pricing: PricingConfig{
			BasePrice:  p.BasePrice,
			Elasticity: p.Elasticity,
			Currency:   p.Currency,
			MinorUnits: p.MinorUnits,
		},
		Billing: BillingConfig{Period: time.Hour},
		Assignment: AssignmentConfig{
			DefaultSize:      string(parking.SizeStandard),
			RelaxBookingZone: true,
			ArrivalLogSize:   256,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    telemetry.DefaultServiceName,
			ExportInterval: 5 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:       10,
			ConnectTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     20,
			Burst:   40,
		},
	}
}

// Load reads path when it is not empty, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment. A variable that is
// set but does not parse is an error, never silently ignored.
func (c *Config) applyEnv() error {
	var errs []error
	c.Environment = envOr("ENVIRONMENT", c.Environment)
	c.Server.Port = envOr("APP_PORT", c.Server.Port)
	c.Database.URL = envOr("DATABASE_URL", c.Database.URL)
	c.Pricing.BasePrice = envParse("PRICING_BASE_PRICE", c.Pricing.BasePrice, decimal.NewFromString, &errs)
	c.Pricing.Elasticity = envParse("PRICING_ELASTICITY", c.Pricing.Elasticity, decimal.NewFromString, &errs)
	c.Pricing.Currency = envOr("PRICING_CURRENCY", c.Pricing.Currency)
	c.Billing.Period = envParse("BILLING_PERIOD", c.Billing.Period, time.ParseDuration, &errs)
	c.Telemetry.ServiceName = envOr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.Endpoint = envOr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.RateLimit.RPS = envParse("RATE_LIMIT_RPS", c.RateLimit.RPS, parseFloat, &errs)
	c.RateLimit.Burst = envParse("RATE_LIMIT_BURST", c.RateLimit.Burst, strconv.Atoi, &errs)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("%w: server port is required", ErrInvalid)
	}
	if err := c.PricingConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Billing.Period <= 0 {
		return fmt.Errorf("%w: billing period must be positive, got %s", ErrInvalid, c.Billing.Period)
	}
	if _, err := c.EngineOptions(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("%w: rate limit needs positive rps and burst", ErrInvalid)
	}
	if _, err := c.SeedSlots(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) PricingConfig() pricing.Config {
	return pricing.Config{
		BasePrice:  c.Pricing.BasePrice,
		Elasticity: c.Pricing.Elasticity,
		Currency:   c.Pricing.Currency,
		MinorUnits: c.Pricing.MinorUnits,
	}
}

func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.Telemetry.ServiceName,
		Environment:    c.Environment,
		Endpoint:       c.Telemetry.Endpoint,
		ExportInterval: c.Telemetry.ExportInterval,
	}
}

// EngineOptions converts the assignment and compatibility sections. A
// compatibility section replaces the default table class by class.
func (c *Config) EngineOptions() (parking.Options, error) {
	opts := parking.DefaultOptions()
	opts.RelaxBookingZone = c.Assignment.RelaxBookingZone
	if c.Assignment.ArrivalLogSize > 0 {
		opts.ArrivalLogSize = c.Assignment.ArrivalLogSize
	}

	if c.Assignment.DefaultSize != "" {
		size, err := parking.ParseSizeClass(c.Assignment.DefaultSize)
		if err != nil {
			return parking.Options{}, fmt.Errorf("assignment.default_size: %w", err)
		}
		opts.DefaultSize = size
	}

	for rawClass, rawTags := range c.Compatibility {
		class, err := parking.ParseSizeClass(rawClass)
		if err != nil {
			return parking.Options{}, fmt.Errorf("compatibility: %w", err)
		}
		tags := make([]parking.SizeClass, 0, len(rawTags))
		for _, raw := range rawTags {
			tag, err := parking.ParseSizeClass(raw)
			if err != nil {
				return parking.Options{}, fmt.Errorf("compatibility.%s: %w", rawClass, err)
			}
			tags = append(tags, tag)
		}
		opts.Compatibility[class] = tags
	}
	if err := opts.Compatibility.Validate(); err != nil {
		return parking.Options{}, err
	}
	return opts, nil
}

// SeedSlots converts the [[slots]] layout into registry slots.
func (c *Config) SeedSlots() ([]parking.Slot, error) {
	seen := make(map[string]bool, len(c.Slots))
	slots := make([]parking.Slot, 0, len(c.Slots))

	for i, sc := range c.Slots {
		if sc.ID == "" {
			return nil, fmt.Errorf("slots[%d]: id is required", i)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("slots[%d]: duplicate slot id %s", i, sc.ID)
		}
		seen[sc.ID] = true

		tag, err := parking.ParseSizeClass(sc.Size)
		if err != nil {
			return nil, fmt.Errorf("slots[%d] %s: %w", i, sc.ID, err)
		}
		if sc.Zone == "" {
			return nil, fmt.Errorf("slots[%d] %s: zone is required", i, sc.ID)
		}
		if sc.Distance < 0 {
			return nil, fmt.Errorf("slots[%d] %s: distance must not be negative", i, sc.ID)
		}

		status := parking.SlotFree
		if sc.OutOfService {
			status = parking.SlotOutOfService
		}
		slots = append(slots, parking.Slot{
			ID:            sc.ID,
			Zone:          sc.Zone,
			Tag:           tag,
			Distance:      sc.Distance,
			GateDistances: sc.Gates,
			Status:        status,
		})
	}
	return slots, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// envParse returns fallback when key is unset and records a parse failure
// in errs otherwise.
func envParse[T any](key string, fallback T, parse func(string) (T, error), errs *[]error) T {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := parse(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %v", key, v, err))
		return fallback
	}
	return parsed
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
