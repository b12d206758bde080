package parking

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type Arrival struct {
	Plate string    `json:"plate"`
	Time  time.Time `json:"time"`
	Gate  string    `json:"gate,omitempty"`

	// Size is the vehicle class; empty means the configured default.
	Size string `json:"size,omitempty"`
}

type Outcome string

const (
	OutcomeAssigned Outcome = "assigned"
	OutcomeRejected Outcome = "rejected"
)

type RejectReason string

const (
	ReasonExpiredBooking   RejectReason = "expired_booking"
	ReasonAlreadyConsumed  RejectReason = "already_consumed"
	ReasonNoAvailableSlot  RejectReason = "no_available_slot"
	ReasonInvalidInput     RejectReason = "invalid_input"
	ReasonDuplicateArrival RejectReason = "duplicate_arrival"
)

// Result is either an assignment or a rejection; Outcome says which fields
// are meaningful.
type Result struct {
	Outcome        Outcome         `json:"outcome"`
	SessionID      string          `json:"session_id,omitempty"`
	SlotID         string          `json:"slot_id,omitempty"`
	Zone           string          `json:"zone,omitempty"`
	BookingID      string          `json:"booking_id,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency,omitempty"`
	OccupancyRatio float64         `json:"occupancy_ratio_at_quote"`
	Reason         RejectReason    `json:"reason,omitempty"`
	Detail         string          `json:"detail,omitempty"`
	Trail          []ArrivalState  `json:"trail"`
}

func (r Result) Assigned() bool {
	return r.Outcome == OutcomeAssigned
}

type ArrivalState string

const (
	StateReceived          ArrivalState = "received"
	StateValidating        ArrivalState = "validating"
	StateSelectingSlot     ArrivalState = "selecting_slot"
	StateClaiming          ArrivalState = "claiming"
	StatePersistingSession ArrivalState = "persisting_session"
	StateConfirmed         ArrivalState = "confirmed"
	StateReleasingSlot     ArrivalState = "releasing_slot"
	StateRejected          ArrivalState = "rejected"
)

var arrivalTransitions = map[ArrivalState][]ArrivalState{
	StateReceived:          {StateValidating, StateRejected},
	StateValidating:        {StateSelectingSlot, StateRejected},
	StateSelectingSlot:     {StateClaiming, StateRejected},
	StateClaiming:          {StatePersistingSession, StateRejected},
	StatePersistingSession: {StateConfirmed, StateReleasingSlot, StateRejected},
	StateReleasingSlot:     {StateRejected},
}

// arrivalFlow walks one arrival through its states. An illegal transition
// is a programming error and panics.
type arrivalFlow struct {
	state ArrivalState
	trail []ArrivalState
}

func newArrivalFlow() *arrivalFlow {
	return &arrivalFlow{
		state: StateReceived,
		trail: []ArrivalState{StateReceived},
	}
}

func (f *arrivalFlow) advance(next ArrivalState) {
	if !slices.Contains(arrivalTransitions[f.state], next) {
		panic(fmt.Sprintf("parking: illegal arrival transition %s -> %s", f.state, next))
	}
	f.state = next
	f.trail = append(f.trail, next)
}

// fail ends the flow for an arrival that errored rather than being
// rejected on business grounds.
func (f *arrivalFlow) fail() Result {
	f.advance(StateRejected)
	return Result{
		Outcome: OutcomeRejected,
		Trail:   f.trail,
	}
}

func (f *arrivalFlow) reject(reason RejectReason, detail string) Result {
	f.advance(StateRejected)
	return Result{
		Outcome: OutcomeRejected,
		Reason:  reason,
		Detail:  detail,
		Trail:   f.trail,
	}
}
