// Package pricing computes occupancy-driven session prices.
//
// The price function is
//
//	price = BasePrice × (1 + Elasticity × max(0, ratio − 0.5))
//
// rounded to the currency minor unit with round-half-to-even. It is pure:
// the same ratio always yields the same amount.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidConfig = errors.New("pricing: invalid config")
	ErrInvalidRatio  = errors.New("pricing: occupancy ratio out of range")
)

// Threshold is the occupancy ratio below which the base price applies.
var Threshold = decimal.RequireFromString("0.5")

type Config struct {
	BasePrice  decimal.Decimal
	Elasticity decimal.Decimal
	Currency   string
	// MinorUnits is the number of decimal places of the currency minor unit.
	MinorUnits int32
}

func DefaultConfig() Config {
	return Config{
		BasePrice:  decimal.NewFromInt(50),
		Elasticity: decimal.RequireFromString("1.2"),
		Currency:   "INR",
		MinorUnits: 2,
	}
}

func (c Config) Validate() error {
	if !c.BasePrice.IsPositive() {
		return fmt.Errorf("%w: base price must be greater than 0, got %s", ErrInvalidConfig, c.BasePrice)
	}
	if c.Elasticity.IsNegative() {
		return fmt.Errorf("%w: elasticity must not be negative, got %s", ErrInvalidConfig, c.Elasticity)
	}
	if c.MinorUnits < 0 || c.MinorUnits > 4 {
		return fmt.Errorf("%w: minor units must be between 0 and 4, got %d", ErrInvalidConfig, c.MinorUnits)
	}
	if c.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidConfig)
	}
	return nil
}

// Quote is the price attached to a session at the moment it was opened.
type Quote struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	OccupancyRatio float64         `json:"occupancy_ratio"`
	Scope          string          `json:"scope"`
	ComputedAt     time.Time       `json:"computed_at"`
}

type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine validates cfg and returns an engine. Invalid configuration is
// rejected here so that quoting never has to fail on it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, now: time.Now}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Price returns the rounded price for an occupancy ratio in [0, 1].
func (e *Engine) Price(ratio decimal.Decimal) (decimal.Decimal, error) {
	if ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRatio, ratio)
	}

	surge := ratio.Sub(Threshold)
	if surge.IsNegative() {
		surge = decimal.Zero
	}

	multiplier := decimal.NewFromInt(1).Add(e.cfg.Elasticity.Mul(surge))
	return e.cfg.BasePrice.Mul(multiplier).RoundBank(e.cfg.MinorUnits), nil
}

// PriceFloat is Price for callers holding a float ratio.
func (e *Engine) PriceFloat(ratio float64) (decimal.Decimal, error) {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
	}
	return e.Price(decimal.NewFromFloat(ratio))
}

// Quote prices a scope holding occupied of capacity slots. An empty scope
// (capacity 0) is quoted at ratio 0.
func (e *Engine) Quote(scope string, occupied, capacity int) (Quote, error) {
	if occupied < 0 || capacity < 0 || occupied > capacity {
		return Quote{}, fmt.Errorf("%w: %d of %d", ErrInvalidRatio, occupied, capacity)
	}

	ratio := decimal.Zero
	if capacity > 0 {
		ratio = decimal.NewFromInt(int64(occupied)).Div(decimal.NewFromInt(int64(capacity)))
	}

	amount, err := e.Price(ratio)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Amount:         amount,
		Currency:       e.cfg.Currency,
		OccupancyRatio: ratio.InexactFloat64(),
		Scope:          scope,
		ComputedAt:     e.now(),
	}, nil
}
