package parking

import (
	"fmt"
	"sync"
)

type SlotStatus string

const (
	SlotFree         SlotStatus = "free"
	SlotReserved     SlotStatus = "reserved"
	SlotOccupied     SlotStatus = "occupied"
	SlotOutOfService SlotStatus = "out_of_service"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotFree, SlotReserved, SlotOccupied, SlotOutOfService:
		return true
	}
	return false
}

// Claimed reports whether the slot counts towards occupancy.
func (s SlotStatus) Claimed() bool {
	return s == SlotReserved || s == SlotOccupied
}

// Slot is a point-in-time copy of a slot's state.
type Slot struct {
	ID            string             `json:"id"`
	Zone          string             `json:"zone"`
	Tag           SizeClass          `json:"tag"`
	Distance      float64            `json:"distance"`
	GateDistances map[string]float64 `json:"gate_distances,omitempty"`
	Status        SlotStatus         `json:"status"`
}

// DistanceFrom returns the walking distance from gate, falling back to the
// slot's default distance for unknown or empty gates.
func (s Slot) DistanceFrom(gate string) float64 {
	if d, ok := s.GateDistances[gate]; ok {
		return d
	}
	return s.Distance
}

func (s Slot) validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: slot id is required", ErrInvalidInput)
	}
	if s.Zone == "" {
		return fmt.Errorf("%w: slot %s: zone is required", ErrInvalidInput, s.ID)
	}
	if !s.Tag.Valid() {
		return fmt.Errorf("%w: slot %s: unknown tag %q", ErrInvalidInput, s.ID, s.Tag)
	}
	if s.Distance < 0 {
		return fmt.Errorf("%w: slot %s: distance must not be negative", ErrInvalidInput, s.ID)
	}
	for gate, d := range s.GateDistances {
		if d < 0 {
			return fmt.Errorf("%w: slot %s: distance from gate %s must not be negative", ErrInvalidInput, s.ID, gate)
		}
	}
	return nil
}

func (s Slot) clone() Slot {
	if s.GateDistances != nil {
		gates := make(map[string]float64, len(s.GateDistances))
		for k, v := range s.GateDistances {
			gates[k] = v
		}
		s.GateDistances = gates
	}
	return s
}

// slotEntry owns the mutable status of one slot. Its mutex is the only lock
// taken when claiming, so arrivals racing for different slots never contend.
type slotEntry struct {
	mu      sync.Mutex
	slot    Slot
	removed bool
}

func (e *slotEntry) snapshot() Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slot.clone()
}
