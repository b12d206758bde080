package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"smart-parking/internal/parking"
	"smart-parking/internal/pricing"
)

func newEngine(t *testing.T, slots ...parking.Slot) *parking.Engine {
	t.Helper()

	registry := parking.NewRegistry()
	for _, s := range slots {
		require.NoError(t, registry.Add(s))
	}
	pricer, err := pricing.NewEngine(pricing.DefaultConfig())
	require.NoError(t, err)

	engine, err := parking.NewEngine(registry, parking.NewMemoryBookingStore(),
		parking.NewLedger(registry, nil, time.Hour), pricer, parking.DefaultOptions())
	require.NoError(t, err)
	return engine
}

func TestOccupancyCollector(t *testing.T) {
	engine := newEngine(t,
		parking.Slot{ID: "A1", Zone: "north", Tag: parking.SizeStandard, Distance: 1},
		parking.Slot{ID: "A2", Zone: "north", Tag: parking.SizeStandard, Distance: 2},
		parking.Slot{ID: "B1", Zone: "south", Tag: parking.SizeStandard, Distance: 3, Status: parking.SlotOutOfService},
	)

	res, err := engine.SubmitArrival(context.Background(), parking.Arrival{Plate: "KA01HH1234", Time: time.Now()})
	require.NoError(t, err)
	require.True(t, res.Assigned())

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewOccupancyCollector(engine)))

	expected := `
# HELP parking_occupancy_ratio Claimed slots over in-service slots, per zone and for the whole lot.
# TYPE parking_occupancy_ratio gauge
parking_occupancy_ratio{zone="all"} 0.5
parking_occupancy_ratio{zone="north"} 0.5
parking_occupancy_ratio{zone="south"} 0
# HELP parking_slots_capacity Slots in service.
# TYPE parking_slots_capacity gauge
parking_slots_capacity{zone="all"} 2
parking_slots_capacity{zone="north"} 2
parking_slots_capacity{zone="south"} 0
# HELP parking_slots_occupied Slots currently reserved or occupied.
# TYPE parking_slots_occupied gauge
parking_slots_occupied{zone="all"} 1
parking_slots_occupied{zone="north"} 1
parking_slots_occupied{zone="south"} 0
# HELP parking_sessions_active Active parking sessions.
# TYPE parking_sessions_active gauge
parking_sessions_active 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))
}
