package parking

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the authoritative owner of slot status.
//
// The registry mutex guards only the set of slots. Status changes take the
// per-slot mutex, so TryClaim is linearizable per slot without serializing
// the whole lot.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slotEntry
}

type SlotFilter struct {
	Zone   string
	Tag    SizeClass
	Status SlotStatus
}

func (f SlotFilter) matches(s Slot) bool {
	if f.Zone != "" && s.Zone != f.Zone {
		return false
	}
	if f.Tag != "" && s.Tag != f.Tag {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[string]*slotEntry),
	}
}

// Add provisions a slot. New slots start free unless marked out of service.
func (r *Registry) Add(slot Slot) error {
	if err := slot.validate(); err != nil {
		return err
	}
	switch slot.Status {
	case "":
		slot.Status = SlotFree
	case SlotFree, SlotOutOfService:
	default:
		return fmt.Errorf("%w: slot %s cannot be provisioned as %s", ErrInvalidInput, slot.ID, slot.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[slot.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSlotExists, slot.ID)
	}
	r.slots[slot.ID] = &slotEntry{slot: slot.clone()}
	return nil
}

// Decommission removes a slot that is free or out of service.
func (r *Registry) Decommission(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.slot.Status.Claimed() {
		return fmt.Errorf("%w: %s is %s", ErrSlotBusy, id, e.slot.Status)
	}
	e.removed = true
	delete(r.slots, id)
	return nil
}

func (r *Registry) entry(id string) (*slotEntry, error) {
	r.mu.RLock()
	e, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	return e, nil
}

// transition applies from→to under the slot lock, returning failErr when the
// slot is not in one of the from states.
func (r *Registry) transition(id string, to SlotStatus, failErr error, from ...SlotStatus) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	for _, f := range from {
		if e.slot.Status == f {
			e.slot.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s is %s", failErr, id, e.slot.Status)
}

// TryClaim atomically moves a free slot to target, which must be reserved
// or occupied. It fails with ErrAlreadyClaimed when the slot is not free.
func (r *Registry) TryClaim(id string, target SlotStatus) error {
	if !target.Claimed() {
		return fmt.Errorf("%w: cannot claim slot as %s", ErrInvalidInput, target)
	}
	return r.transition(id, target, ErrAlreadyClaimed, SlotFree)
}

// Occupy promotes a reserved slot to occupied.
func (r *Registry) Occupy(id string) error {
	return r.transition(id, SlotOccupied, ErrSlotNotReserved, SlotReserved)
}

// Release frees a reserved or occupied slot. Releasing a slot that is not
// claimed is an error, never a silent no-op.
func (r *Registry) Release(id string) error {
	return r.transition(id, SlotFree, ErrSlotNotClaimed, SlotReserved, SlotOccupied)
}

func (r *Registry) SetOutOfService(id string) error {
	return r.transition(id, SlotOutOfService, ErrSlotBusy, SlotFree)
}

func (r *Registry) Restore(id string) error {
	return r.transition(id, SlotFree, ErrNotOutOfService, SlotOutOfService)
}

func (r *Registry) Get(id string) (Slot, error) {
	e, err := r.entry(id)
	if err != nil {
		return Slot{}, err
	}
	return e.snapshot(), nil
}

func (r *Registry) entries() []*slotEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*slotEntry, 0, len(r.slots))
	for _, e := range r.slots {
		out = append(out, e)
	}
	return out
}

// ListCandidates returns free slots with the given tag, optionally limited
// to a zone, nearest to gate first with ties broken by slot ID. The result
// is a snapshot: any slot in it may be claimed by the time it is tried.
func (r *Registry) ListCandidates(gate string, tag SizeClass, zone string) []Slot {
	filter := SlotFilter{Zone: zone, Tag: tag, Status: SlotFree}

	var candidates []Slot
	for _, e := range r.entries() {
		s := e.snapshot()
		if filter.matches(s) {
			candidates = append(candidates, s)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		di, dj := candidates[i].DistanceFrom(gate), candidates[j].DistanceFrom(gate)
		if di != dj {
			return di < dj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// List returns the slots matching filter ordered by ID.
func (r *Registry) List(filter SlotFilter) []Slot {
	var out []Slot
	for _, e := range r.entries() {
		s := e.snapshot()
		if filter.matches(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Zones returns the distinct zones in sorted order.
func (r *Registry) Zones() []string {
	seen := make(map[string]struct{})
	for _, e := range r.entries() {
		seen[e.snapshot().Zone] = struct{}{}
	}

	zones := make([]string, 0, len(seen))
	for z := range seen {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}
