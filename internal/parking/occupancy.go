package parking

// ScopeAll names the whole-lot occupancy scope.
const ScopeAll = "all"

// OccupancySnapshot is derived from slot status on every call and never
// stored. Out-of-service slots are excluded from capacity.
type OccupancySnapshot struct {
	Scope    string  `json:"scope"`
	Occupied int     `json:"occupied"`
	Capacity int     `json:"capacity"`
	Ratio    float64 `json:"ratio"`
}

func (o OccupancySnapshot) Available() int {
	return o.Capacity - o.Occupied
}

// Occupancy counts reserved and occupied slots in zone, or in the whole lot
// when zone is empty. The counts are a consistent-enough snapshot: each slot
// is read under its own lock but not all at once.
func (r *Registry) Occupancy(zone string) OccupancySnapshot {
	snap := OccupancySnapshot{Scope: zone}
	if zone == "" {
		snap.Scope = ScopeAll
	}

	for _, e := range r.entries() {
		s := e.snapshot()
		if zone != "" && s.Zone != zone {
			continue
		}
		if s.Status == SlotOutOfService {
			continue
		}
		snap.Capacity++
		if s.Status.Claimed() {
			snap.Occupied++
		}
	}

	if snap.Capacity > 0 {
		snap.Ratio = float64(snap.Occupied) / float64(snap.Capacity)
	}
	return snap
}
