package parking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"smart-parking/internal/logging"
)

// Booking reserves a time window [Start, End) for a plate.
type Booking struct {
	ID        string    `json:"id"`
	Plate     string    `json:"plate"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Zone      string    `json:"zone,omitempty"`
	Tag       SizeClass `json:"tag,omitempty"`
	Consumed  bool      `json:"consumed"`
	Cancelled bool      `json:"cancelled"`
	CreatedAt time.Time `json:"created_at"`
}

func (b Booking) Covers(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// BookingStore persists bookings. MarkConsumed is a compare-and-set: of
// several concurrent callers exactly one succeeds and the rest get
// ErrBookingConsumed.
type BookingStore interface {
	Create(ctx context.Context, b Booking) error
	Get(ctx context.Context, id string) (Booking, error)
	FindByPlate(ctx context.Context, plate string) ([]Booking, error)
	MarkConsumed(ctx context.Context, id string) error
	Unconsume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

type MemoryBookingStore struct {
	mu       sync.Mutex
	bookings map[string]*Booking
	byPlate  map[string][]string
}

func NewMemoryBookingStore() *MemoryBookingStore {
	return &MemoryBookingStore{
		bookings: make(map[string]*Booking),
		byPlate:  make(map[string][]string),
	}
}

func (s *MemoryBookingStore) Create(_ context.Context, b Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookings[b.ID]; exists {
		return fmt.Errorf("%w: booking %s already exists", ErrInvalidInput, b.ID)
	}
	s.bookings[b.ID] = &b
	s.byPlate[b.Plate] = append(s.byPlate[b.Plate], b.ID)
	return nil
}

func (s *MemoryBookingStore) Get(_ context.Context, id string) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	return *b, nil
}

func (s *MemoryBookingStore) FindByPlate(_ context.Context, plate string) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byPlate[plate]
	out := make([]Booking, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.bookings[id])
	}
	return out, nil
}

func (s *MemoryBookingStore) MarkConsumed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	case b.Cancelled:
		return fmt.Errorf("%w: %s", ErrBookingCancelled, id)
	case b.Consumed:
		return fmt.Errorf("%w: %s", ErrBookingConsumed, id)
	}
	b.Consumed = true
	return nil
}

func (s *MemoryBookingStore) Unconsume(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	b.Consumed = false
	return nil
}

func (s *MemoryBookingStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	b.Cancelled = true
	b.Consumed = false
	return nil
}

type BookingCheck string

const (
	NoBooking       BookingCheck = "no_booking"
	ValidBooking    BookingCheck = "valid_booking"
	ExpiredBooking  BookingCheck = "expired_booking"
	AlreadyConsumed BookingCheck = "already_consumed"
)

type BookingValidation struct {
	Check   BookingCheck
	Booking *Booking
}

type BookingValidator struct {
	store BookingStore
}

func NewBookingValidator(store BookingStore) *BookingValidator {
	return &BookingValidator{store: store}
}

// Validate classifies the plate's bookings at time t.
//
// An unconsumed booking covering t wins. Failing that, a consumed booking
// covering t means the reservation was already used, and a booking that
// ended at or before t means it expired. Future bookings alone do not make
// the arrival a booked one.
func (v *BookingValidator) Validate(ctx context.Context, plate string, t time.Time) (BookingValidation, error) {
	bookings, err := v.store.FindByPlate(ctx, plate)
	if err != nil {
		return BookingValidation{}, fmt.Errorf("find bookings for %s: %w", plate, err)
	}

	var valid, consumed, expired []Booking
	for _, b := range bookings {
		if b.Cancelled {
			continue
		}
		switch {
		case b.Covers(t) && !b.Consumed:
			valid = append(valid, b)
		case b.Covers(t):
			consumed = append(consumed, b)
		case !b.End.After(t):
			expired = append(expired, b)
		}
	}

	switch {
	case len(valid) > 0:
		if len(valid) > 1 {
			logging.Warn(ctx, "multiple valid bookings for plate, using earliest",
				"plate", plate,
				"count", len(valid),
			)
		}
		chosen := earliest(valid)
		return BookingValidation{Check: ValidBooking, Booking: &chosen}, nil
	case len(consumed) > 0:
		chosen := earliest(consumed)
		return BookingValidation{Check: AlreadyConsumed, Booking: &chosen}, nil
	case len(expired) > 0:
		chosen := latestEnding(expired)
		return BookingValidation{Check: ExpiredBooking, Booking: &chosen}, nil
	}
	return BookingValidation{Check: NoBooking}, nil
}

func earliest(bookings []Booking) Booking {
	sort.Slice(bookings, func(i, j int) bool {
		if !bookings[i].Start.Equal(bookings[j].Start) {
			return bookings[i].Start.Before(bookings[j].Start)
		}
		return bookings[i].ID < bookings[j].ID
	})
	return bookings[0]
}

func latestEnding(bookings []Booking) Booking {
	sort.Slice(bookings, func(i, j int) bool {
		if !bookings[i].End.Equal(bookings[j].End) {
			return bookings[i].End.After(bookings[j].End)
		}
		return bookings[i].ID < bookings[j].ID
	})
	return bookings[0]
}
