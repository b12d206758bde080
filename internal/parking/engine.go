package parking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"smart-parking/internal/logging"
	"smart-parking/internal/pricing"
)

// SlotCatalog persists the lot layout. Slot status is not part of it; it
// is rebuilt from active sessions on startup.
type SlotCatalog interface {
	Upsert(ctx context.Context, s Slot) error
	Delete(ctx context.Context, id string) error
	SetOutOfService(ctx context.Context, id string, outOfService bool) error
}

type Options struct {
	DefaultSize      SizeClass
	RelaxBookingZone bool
	Compatibility    Compatibility
	ArrivalLogSize   int

	// Catalog is optional; without it provisioning changes are memory only.
	Catalog SlotCatalog
	Now     func() time.Time
}

func DefaultOptions() Options {
	return Options{
		DefaultSize:      SizeStandard,
		RelaxBookingZone: true,
		Compatibility:    DefaultCompatibility(),
		ArrivalLogSize:   defaultHistorySize,
	}
}

// Engine turns arrivals into sessions. It is safe for concurrent use;
// arrivals only contend on the individual slots they try to claim.
type Engine struct {
	registry  *Registry
	bookings  BookingStore
	validator *BookingValidator
	ledger    *Ledger
	pricer    *pricing.Engine
	opts      Options
	arrivals  *arrivalLog
	now       func() time.Time
}

func NewEngine(registry *Registry, bookings BookingStore, ledger *Ledger, pricer *pricing.Engine, opts Options) (*Engine, error) {
	if opts.Compatibility == nil {
		opts.Compatibility = DefaultCompatibility()
	}
	if err := opts.Compatibility.Validate(); err != nil {
		return nil, err
	}
	if opts.DefaultSize == "" {
		opts.DefaultSize = SizeStandard
	}
	if !opts.DefaultSize.Valid() {
		return nil, fmt.Errorf("%w: unknown default size %q", ErrInvalidInput, opts.DefaultSize)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		registry:  registry,
		bookings:  bookings,
		validator: NewBookingValidator(bookings),
		ledger:    ledger,
		pricer:    pricer,
		opts:      opts,
		arrivals:  newArrivalLog(opts.ArrivalLogSize),
		now:       now,
	}, nil
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Now is the engine clock. Callers use it to stamp arrivals that carry no
// time of their own.
func (e *Engine) Now() time.Time {
	return e.now()
}

// SubmitArrival assigns a slot to an arriving vehicle.
//
// Business outcomes, including every rejection reason, come back as a
// Result with a nil error. A non-nil error means an infrastructure failure
// or a consistency violation; any slot claimed on the way has been released
// again unless the error says otherwise.
func (e *Engine) SubmitArrival(ctx context.Context, a Arrival) (Result, error) {
	flow := newArrivalFlow()
	res, err := e.submit(ctx, flow, a)

	e.arrivals.add(ArrivalRecord{
		Plate:     NormalizePlate(a.Plate),
		Gate:      a.Gate,
		Time:      a.Time,
		Outcome:   res.Outcome,
		Reason:    res.Reason,
		SlotID:    res.SlotID,
		SessionID: res.SessionID,
	})
	return res, err
}

func (e *Engine) submit(ctx context.Context, flow *arrivalFlow, a Arrival) (Result, error) {
	flow.advance(StateValidating)

	plate, err := ValidatePlate(a.Plate)
	if err != nil {
		return flow.reject(ReasonInvalidInput, err.Error()), nil
	}
	if a.Time.IsZero() {
		return flow.reject(ReasonInvalidInput, "arrival time is required"), nil
	}
	class := e.opts.DefaultSize
	if a.Size != "" {
		if class, err = ParseSizeClass(a.Size); err != nil {
			return flow.reject(ReasonInvalidInput, err.Error()), nil
		}
	}

	validation, err := e.validator.Validate(ctx, plate, a.Time)
	if err != nil {
		return flow.fail(), err
	}

	var booking *Booking
	zone := ""
	switch validation.Check {
	case ExpiredBooking:
		return flow.reject(ReasonExpiredBooking, fmt.Sprintf("booking %s ended at %s", validation.Booking.ID, validation.Booking.End.Format(time.RFC3339))), nil
	case AlreadyConsumed:
		return flow.reject(ReasonAlreadyConsumed, fmt.Sprintf("booking %s already used", validation.Booking.ID)), nil
	case ValidBooking:
		booking = validation.Booking
		zone = booking.Zone
		if booking.Tag != "" {
			class = booking.Tag
		}
	}

	// Booking outcomes win over the duplicate check so a reused booking
	// reads as consumed. A booked arrival racing another one on the same
	// booking is settled by MarkConsumed in persist.
	if s, ok := e.ledger.ActiveByPlate(plate); ok && booking == nil {
		return flow.reject(ReasonDuplicateArrival, fmt.Sprintf("plate %s already parked in slot %s", plate, s.SlotID)), nil
	}

	flow.advance(StateSelectingSlot)

	target := SlotOccupied
	if booking != nil {
		target = SlotReserved
	}

	claimed, err := e.claimNearest(ctx, flow, plate, a.Gate, class, zone, target)
	if err != nil {
		return flow.fail(), err
	}
	if claimed == nil {
		return flow.reject(ReasonNoAvailableSlot, fmt.Sprintf("no free slot for %s", class)), nil
	}

	flow.advance(StatePersistingSession)
	return e.persist(ctx, flow, plate, a, *claimed, booking, target)
}

// claimNearest walks the search plan nearest-first and claims the first
// slot it wins. Every slot is tried at most once, so the number of claim
// attempts is bounded by the number of slots.
func (e *Engine) claimNearest(ctx context.Context, flow *arrivalFlow, plate, gate string, class SizeClass, zone string, target SlotStatus) (*Slot, error) {
	tried := make(map[string]bool)

	for _, pass := range e.opts.Compatibility.searchPlan(class, zone, e.opts.RelaxBookingZone) {
		for _, candidate := range e.registry.ListCandidates(gate, pass.tag, pass.zone) {
			if tried[candidate.ID] {
				continue
			}
			tried[candidate.ID] = true

			if flow.state != StateClaiming {
				flow.advance(StateClaiming)
			}

			err := e.registry.TryClaim(candidate.ID, target)
			switch {
			case err == nil:
				candidate.Status = target
				return &candidate, nil
			case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrSlotNotFound):
				logging.Debug(ctx, "lost slot claim, trying next candidate",
					"plate", plate,
					"slot_id", candidate.ID,
				)
			default:
				return nil, fmt.Errorf("claim slot %s: %w", candidate.ID, err)
			}
		}
	}
	return nil, nil
}

func (e *Engine) persist(ctx context.Context, flow *arrivalFlow, plate string, a Arrival, slot Slot, booking *Booking, target SlotStatus) (Result, error) {
	bookingID := ""
	if booking != nil {
		if err := e.bookings.MarkConsumed(ctx, booking.ID); err != nil {
			if cerr := e.compensate(ctx, flow, slot.ID, ""); cerr != nil {
				return flow.fail(), cerr
			}
			if errors.Is(err, ErrBookingConsumed) || errors.Is(err, ErrBookingCancelled) {
				return flow.reject(ReasonAlreadyConsumed, err.Error()), nil
			}
			return flow.fail(), fmt.Errorf("consume booking %s: %w", booking.ID, err)
		}
		bookingID = booking.ID
	}

	occupancy := e.registry.Occupancy(slot.Zone)
	quote, err := e.pricer.Quote(slot.Zone, occupancy.Occupied, occupancy.Capacity)
	if err != nil {
		if cerr := e.compensate(ctx, flow, slot.ID, bookingID); cerr != nil {
			return flow.fail(), cerr
		}
		return flow.fail(), fmt.Errorf("quote zone %s: %w", slot.Zone, err)
	}

	session, err := e.ledger.Open(ctx, Session{
		ID:        uuid.NewString(),
		Plate:     plate,
		SlotID:    slot.ID,
		Zone:      slot.Zone,
		BookingID: bookingID,
		EntryTime: a.Time,
		Quote:     quote,
	})
	if err != nil {
		if errors.Is(err, ErrConsistency) {
			logging.Error(ctx, "ledger rejected freshly claimed slot",
				"plate", plate,
				"slot_id", slot.ID,
				"error", err,
			)
		}
		if cerr := e.compensate(ctx, flow, slot.ID, bookingID); cerr != nil {
			return flow.fail(), errors.Join(err, cerr)
		}
		if errors.Is(err, ErrDuplicateSession) {
			return flow.reject(ReasonDuplicateArrival, err.Error()), nil
		}
		return flow.fail(), err
	}

	if target == SlotReserved {
		if err := e.registry.Occupy(slot.ID); err != nil {
			logging.Error(ctx, "reserved slot changed under an open session",
				"session_id", session.ID,
				"slot_id", slot.ID,
				"error", err,
			)
			return flow.fail(), fmt.Errorf("%w: occupy slot %s: %w", ErrConsistency, slot.ID, err)
		}
	}

	flow.advance(StateConfirmed)
	return Result{
		Outcome:        OutcomeAssigned,
		SessionID:      session.ID,
		SlotID:         slot.ID,
		Zone:           slot.Zone,
		BookingID:      bookingID,
		Price:          quote.Amount,
		Currency:       quote.Currency,
		OccupancyRatio: quote.OccupancyRatio,
		Trail:          flow.trail,
	}, nil
}

// compensate undoes a claim, and the booking consumption when bookingID is
// set, after a failure downstream of the claim.
func (e *Engine) compensate(ctx context.Context, flow *arrivalFlow, slotID, bookingID string) error {
	flow.advance(StateReleasingSlot)

	if err := e.registry.Release(slotID); err != nil {
		logging.Error(ctx, "compensating release failed",
			"slot_id", slotID,
			"error", err,
		)
		return fmt.Errorf("%w: compensating release of %s: %w", ErrConsistency, slotID, err)
	}
	if bookingID != "" {
		if err := e.bookings.Unconsume(ctx, bookingID); err != nil {
			logging.Error(ctx, "booking rollback failed",
				"booking_id", bookingID,
				"error", err,
			)
			return fmt.Errorf("unconsume booking %s: %w", bookingID, err)
		}
	}

	logging.Warn(ctx, "released slot after failed arrival",
		"slot_id", slotID,
		"booking_id", bookingID,
	)
	return nil
}

type ExitRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	Plate     string    `json:"plate,omitempty"`
	Time      time.Time `json:"time"`
}

// Exit closes the session named by SessionID, or the active session of
// Plate, and frees its slot.
func (e *Engine) Exit(ctx context.Context, req ExitRequest) (Settlement, error) {
	id := req.SessionID
	if id == "" {
		plate, err := ValidatePlate(req.Plate)
		if err != nil {
			return Settlement{}, err
		}
		s, ok := e.ledger.ActiveByPlate(plate)
		if !ok {
			return Settlement{}, fmt.Errorf("%w: no active session for %s", ErrSessionNotFound, plate)
		}
		id = s.ID
	}

	exit := req.Time
	if exit.IsZero() {
		exit = e.now()
	}
	return e.ledger.Close(ctx, id, exit)
}

// Occupancy reports occupancy for zone, or the whole lot when zone is empty.
func (e *Engine) Occupancy(zone string) OccupancySnapshot {
	return e.registry.Occupancy(zone)
}

func (e *Engine) Zones() []string {
	return e.registry.Zones()
}

func (e *Engine) ListSlots(filter SlotFilter) []Slot {
	return e.registry.List(filter)
}

func (e *Engine) ActiveSessionBySlot(slotID string) (Session, bool) {
	return e.ledger.ActiveBySlot(slotID)
}

func (e *Engine) ActiveSessionByPlate(plate string) (Session, bool) {
	return e.ledger.ActiveByPlate(NormalizePlate(plate))
}

func (e *Engine) Session(id string) (Session, bool) {
	return e.ledger.Get(id)
}

func (e *Engine) ActiveSessions() []Session {
	return e.ledger.Active()
}

// SessionHistory is implemented by session repositories that keep closed
// sessions.
type SessionHistory interface {
	Recent(ctx context.Context, limit int) ([]Session, error)
}

// RecentSessions lists sessions newest first. It reads the repository when
// it keeps history and the ledger's bounded in-memory history otherwise.
func (e *Engine) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if h, ok := e.ledger.repo.(SessionHistory); ok {
		return h.Recent(ctx, limit)
	}
	return e.ledger.Recent(limit), nil
}

func (e *Engine) RecentArrivals(limit int) []ArrivalRecord {
	return e.arrivals.recent(limit)
}

type BookingRequest struct {
	Plate string    `json:"plate"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Zone  string    `json:"zone,omitempty"`
	Size  string    `json:"size,omitempty"`
}

func (e *Engine) CreateBooking(ctx context.Context, req BookingRequest) (Booking, error) {
	plate, err := ValidatePlate(req.Plate)
	if err != nil {
		return Booking{}, err
	}
	if req.Start.IsZero() || !req.End.After(req.Start) {
		return Booking{}, fmt.Errorf("%w: booking window must have start before end", ErrInvalidInput)
	}
	if req.Zone != "" && !slices.Contains(e.registry.Zones(), req.Zone) {
		return Booking{}, fmt.Errorf("%w: unknown zone %q", ErrInvalidInput, req.Zone)
	}

	var tag SizeClass
	if req.Size != "" {
		if tag, err = ParseSizeClass(req.Size); err != nil {
			return Booking{}, err
		}
	}

	b := Booking{
		ID:        uuid.NewString(),
		Plate:     plate,
		Start:     req.Start,
		End:       req.End,
		Zone:      req.Zone,
		Tag:       tag,
		CreatedAt: e.now(),
	}
	if err := e.bookings.Create(ctx, b); err != nil {
		return Booking{}, fmt.Errorf("create booking: %w", err)
	}
	return b, nil
}

func (e *Engine) GetBooking(ctx context.Context, id string) (Booking, error) {
	return e.bookings.Get(ctx, id)
}

// CancelBooking cancels a booking unless an active session was opened
// against it.
func (e *Engine) CancelBooking(ctx context.Context, id string) error {
	if _, err := e.bookings.Get(ctx, id); err != nil {
		return err
	}
	if e.ledger.HasActiveBooking(id) {
		return fmt.Errorf("%w: %s", ErrBookingInUse, id)
	}
	return e.bookings.Cancel(ctx, id)
}

func (e *Engine) AddSlot(ctx context.Context, s Slot) (Slot, error) {
	if err := e.registry.Add(s); err != nil {
		return Slot{}, err
	}
	if e.opts.Catalog != nil {
		if err := e.opts.Catalog.Upsert(ctx, s); err != nil {
			_ = e.registry.Decommission(s.ID)
			return Slot{}, fmt.Errorf("persist slot %s: %w", s.ID, err)
		}
	}
	return e.registry.Get(s.ID)
}

func (e *Engine) DecommissionSlot(ctx context.Context, id string) error {
	slot, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if err := e.registry.Decommission(id); err != nil {
		return err
	}
	if e.opts.Catalog != nil {
		if err := e.opts.Catalog.Delete(ctx, id); err != nil {
			_ = e.registry.Add(slot)
			return fmt.Errorf("delete slot %s: %w", id, err)
		}
	}
	return nil
}

func (e *Engine) SetSlotOutOfService(ctx context.Context, id string) error {
	if err := e.registry.SetOutOfService(id); err != nil {
		return err
	}
	if e.opts.Catalog != nil {
		if err := e.opts.Catalog.SetOutOfService(ctx, id, true); err != nil {
			_ = e.registry.Restore(id)
			return fmt.Errorf("persist slot %s: %w", id, err)
		}
	}
	return nil
}

func (e *Engine) RestoreSlot(ctx context.Context, id string) error {
	if err := e.registry.Restore(id); err != nil {
		return err
	}
	if e.opts.Catalog != nil {
		if err := e.opts.Catalog.SetOutOfService(ctx, id, false); err != nil {
			_ = e.registry.SetOutOfService(id)
			return fmt.Errorf("persist slot %s: %w", id, err)
		}
	}
	return nil
}

// Recover rebuilds slot status and the ledger from persisted active
// sessions. It returns the number of sessions restored.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	if e.ledger.repo == nil {
		return 0, nil
	}

	sessions, err := e.ledger.repo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	restored := 0
	for _, s := range sessions {
		if err := e.registry.TryClaim(s.SlotID, SlotOccupied); err != nil {
			logging.Error(ctx, "cannot restore session onto slot",
				"session_id", s.ID,
				"slot_id", s.SlotID,
				"error", err,
			)
			continue
		}
		if err := e.ledger.adopt(s); err != nil {
			_ = e.registry.Release(s.SlotID)
			logging.Error(ctx, "cannot restore session",
				"session_id", s.ID,
				"error", err,
			)
			continue
		}
		restored++
	}
	return restored, nil
}
