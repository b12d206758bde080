package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, base, elasticity string) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BasePrice = decimal.RequireFromString(base)
	cfg.Elasticity = decimal.RequireFromString(elasticity)
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero base price", func(c *Config) { c.BasePrice = decimal.Zero }},
		{"negative base price", func(c *Config) { c.BasePrice = decimal.NewFromInt(-1) }},
		{"negative elasticity", func(c *Config) { c.Elasticity = decimal.RequireFromString("-0.1") }},
		{"minor units out of range", func(c *Config) { c.MinorUnits = 7 }},
		{"missing currency", func(c *Config) { c.Currency = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(&cfg)
			_, err := NewEngine(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestPriceScenario(t *testing.T) {
	e := newTestEngine(t, "10", "2")

	price, err := e.PriceFloat(0.75)
	require.NoError(t, err)
	assert.Equal(t, "15.00", price.StringFixed(2))
}

func TestPriceFloorAtOrBelowThreshold(t *testing.T) {
	e := newTestEngine(t, "50", "1.2")

	for _, r := range []float64{0, 0.1, 0.25, 0.5} {
		price, err := e.PriceFloat(r)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(50)), "ratio %v priced %s", r, price)
	}
}

func TestPriceMonotonic(t *testing.T) {
	e := newTestEngine(t, "50", "1.2")

	p06, err := e.PriceFloat(0.6)
	require.NoError(t, err)
	p09, err := e.PriceFloat(0.9)
	require.NoError(t, err)
	p10, err := e.PriceFloat(1.0)
	require.NoError(t, err)

	assert.True(t, p06.LessThan(p09))
	assert.True(t, p09.LessThan(p10))
	assert.Equal(t, "80.00", p10.StringFixed(2))

	prev := decimal.Zero
	for i := 0; i <= 100; i++ {
		p, err := e.Price(decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(100)))
		require.NoError(t, err)
		assert.True(t, p.GreaterThanOrEqual(prev))
		prev = p
	}
}

func TestPriceRoundsHalfToEven(t *testing.T) {
	// 0.1 × (1 + 1 × 0.25) = 0.125
	e := newTestEngine(t, "0.1", "1")

	price, err := e.PriceFloat(0.75)
	require.NoError(t, err)
	assert.Equal(t, "0.12", price.StringFixed(2))
}

func TestPriceRejectsInvalidRatio(t *testing.T) {
	e := newTestEngine(t, "10", "2")

	for _, r := range []float64{-0.01, 1.01} {
		_, err := e.PriceFloat(r)
		assert.ErrorIs(t, err, ErrInvalidRatio)
	}
}

func TestQuote(t *testing.T) {
	e := newTestEngine(t, "10", "2")

	q, err := e.Quote("north", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "15.00", q.Amount.StringFixed(2))
	assert.Equal(t, 0.75, q.OccupancyRatio)
	assert.Equal(t, "north", q.Scope)
	assert.Equal(t, "INR", q.Currency)
	assert.False(t, q.ComputedAt.IsZero())

	empty, err := e.Quote("empty", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.OccupancyRatio)
	assert.True(t, empty.Amount.Equal(decimal.NewFromInt(10)))

	_, err = e.Quote("bad", 5, 4)
	assert.ErrorIs(t, err, ErrInvalidRatio)
}
