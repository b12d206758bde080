package parking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"smart-parking/internal/logging"
	"smart-parking/internal/pricing"
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

type Session struct {
	ID        string        `json:"id"`
	Plate     string        `json:"plate"`
	SlotID    string        `json:"slot_id"`
	Zone      string        `json:"zone"`
	BookingID string        `json:"booking_id,omitempty"`
	EntryTime time.Time     `json:"entry_time"`
	ExitTime  *time.Time    `json:"exit_time,omitempty"`
	Quote     pricing.Quote `json:"quote"`
	Status    SessionStatus `json:"status"`
}

// Settlement is what a closed session owes.
type Settlement struct {
	SessionID string          `json:"session_id"`
	SlotID    string          `json:"slot_id"`
	Plate     string          `json:"plate"`
	EntryTime time.Time       `json:"entry_time"`
	ExitTime  time.Time       `json:"exit_time"`
	Duration  time.Duration   `json:"duration"`
	Periods   int64           `json:"periods"`
	Charge    decimal.Decimal `json:"charge"`
	Currency  string          `json:"currency"`
}

// SessionRepository is the durable side of the ledger. A nil repository
// keeps sessions in memory only.
type SessionRepository interface {
	Create(ctx context.Context, s Session) error
	Close(ctx context.Context, id string, exit time.Time) error
	ListActive(ctx context.Context) ([]Session, error)
}

// SlotReleaser frees the slot a closed session held.
type SlotReleaser interface {
	Release(id string) error
}

const defaultHistorySize = 256

// Ledger tracks active sessions and guarantees at most one active session
// per slot and per plate. Repository calls run outside the ledger lock;
// slot and plate are reserved with a pending marker while they do.
type Ledger struct {
	mu       sync.Mutex
	repo     SessionRepository
	releaser SlotReleaser
	period   time.Duration
	now      func() time.Time

	active  map[string]*Session
	bySlot  map[string]string
	byPlate map[string]string
	closing map[string]bool

	history     []Session
	historySize int
}

func NewLedger(releaser SlotReleaser, repo SessionRepository, billingPeriod time.Duration) *Ledger {
	return &Ledger{
		repo:        repo,
		releaser:    releaser,
		period:      billingPeriod,
		now:         time.Now,
		active:      make(map[string]*Session),
		bySlot:      make(map[string]string),
		byPlate:     make(map[string]string),
		closing:     make(map[string]bool),
		historySize: defaultHistorySize,
	}
}

// Open records a new active session. It fails with ErrSlotAttached, wrapped
// in ErrConsistency, when the slot already backs a session, and with
// ErrDuplicateSession when the plate does.
func (l *Ledger) Open(ctx context.Context, s Session) (Session, error) {
	s.Status = SessionActive
	s.ExitTime = nil

	l.mu.Lock()
	if other, ok := l.bySlot[s.SlotID]; ok {
		l.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %w: slot %s held by session %s", ErrConsistency, ErrSlotAttached, s.SlotID, other)
	}
	if _, ok := l.byPlate[s.Plate]; ok {
		l.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrDuplicateSession, s.Plate)
	}
	l.bySlot[s.SlotID] = s.ID
	l.byPlate[s.Plate] = s.ID
	l.mu.Unlock()

	if l.repo != nil {
		if err := l.repo.Create(ctx, s); err != nil {
			l.mu.Lock()
			delete(l.bySlot, s.SlotID)
			delete(l.byPlate, s.Plate)
			l.mu.Unlock()
			return Session{}, fmt.Errorf("persist session %s: %w", s.ID, err)
		}
	}

	l.mu.Lock()
	stored := s
	l.active[s.ID] = &stored
	l.mu.Unlock()

	return s, nil
}

// adopt installs an already-persisted active session, used on restart.
func (l *Ledger) adopt(s Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.bySlot[s.SlotID]; ok {
		return fmt.Errorf("%w: %w: %s", ErrConsistency, ErrSlotAttached, s.SlotID)
	}
	if _, ok := l.byPlate[s.Plate]; ok {
		return fmt.Errorf("%w: %w: %s", ErrConsistency, ErrDuplicateSession, s.Plate)
	}
	s.Status = SessionActive
	l.active[s.ID] = &s
	l.bySlot[s.SlotID] = s.ID
	l.byPlate[s.Plate] = s.ID
	return nil
}

// Close ends an active session, frees its slot and returns the settlement.
// The ledger forgets the slot before releasing it, so a new arrival can
// attach to the slot as soon as it is free.
func (l *Ledger) Close(ctx context.Context, sessionID string, exit time.Time) (Settlement, error) {
	l.mu.Lock()
	s, ok := l.active[sessionID]
	if !ok || l.closing[sessionID] {
		l.mu.Unlock()
		return Settlement{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if exit.IsZero() {
		exit = l.now()
	}
	if exit.Before(s.EntryTime) {
		l.mu.Unlock()
		return Settlement{}, fmt.Errorf("%w: exit %s precedes entry %s", ErrInvalidInput, exit.Format(time.RFC3339), s.EntryTime.Format(time.RFC3339))
	}
	l.closing[sessionID] = true
	session := *s
	l.mu.Unlock()

	if l.repo != nil {
		if err := l.repo.Close(ctx, sessionID, exit); err != nil {
			l.mu.Lock()
			delete(l.closing, sessionID)
			l.mu.Unlock()
			return Settlement{}, fmt.Errorf("persist session close %s: %w", sessionID, err)
		}
	}

	session.Status = SessionClosed
	session.ExitTime = &exit

	l.mu.Lock()
	delete(l.active, sessionID)
	delete(l.closing, sessionID)
	delete(l.bySlot, session.SlotID)
	delete(l.byPlate, session.Plate)
	l.remember(session)
	l.mu.Unlock()

	settlement := l.settle(session, exit)

	if err := l.releaser.Release(session.SlotID); err != nil {
		logging.Error(ctx, "slot release failed on session close",
			"session_id", sessionID,
			"slot_id", session.SlotID,
			"error", err,
		)
		return settlement, fmt.Errorf("%w: release slot %s: %w", ErrConsistency, session.SlotID, err)
	}

	return settlement, nil
}

func (l *Ledger) settle(s Session, exit time.Time) Settlement {
	duration := exit.Sub(s.EntryTime)

	periods := int64(1)
	if l.period > 0 && duration > l.period {
		periods = int64(duration / l.period)
		if duration%l.period != 0 {
			periods++
		}
	}

	return Settlement{
		SessionID: s.ID,
		SlotID:    s.SlotID,
		Plate:     s.Plate,
		EntryTime: s.EntryTime,
		ExitTime:  exit,
		Duration:  duration,
		Periods:   periods,
		Charge:    s.Quote.Amount.Mul(decimal.NewFromInt(periods)),
		Currency:  s.Quote.Currency,
	}
}

func (l *Ledger) remember(s Session) {
	l.history = append(l.history, s)
	if len(l.history) > l.historySize {
		l.history = l.history[len(l.history)-l.historySize:]
	}
}

func (l *Ledger) Get(sessionID string) (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.active[sessionID]; ok {
		return *s, true
	}
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].ID == sessionID {
			return l.history[i], true
		}
	}
	return Session{}, false
}

func (l *Ledger) lookup(index map[string]string, key string) (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := index[key]
	if !ok {
		return Session{}, false
	}
	s, ok := l.active[id]
	if !ok {
		// still being persisted
		return Session{}, false
	}
	return *s, true
}

func (l *Ledger) ActiveBySlot(slotID string) (Session, bool) {
	return l.lookup(l.bySlot, slotID)
}

func (l *Ledger) ActiveByPlate(plate string) (Session, bool) {
	return l.lookup(l.byPlate, plate)
}

// HasActiveBooking reports whether an active session was opened against
// the booking.
func (l *Ledger) HasActiveBooking(bookingID string) bool {
	if bookingID == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.active {
		if s.BookingID == bookingID {
			return true
		}
	}
	return false
}

// Active returns all active sessions ordered by entry time.
func (l *Ledger) Active() []Session {
	l.mu.Lock()
	out := make([]Session, 0, len(l.active))
	for _, s := range l.active {
		out = append(out, *s)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Recent returns up to limit sessions, active and closed, newest entry
// first.
func (l *Ledger) Recent(limit int) []Session {
	all := l.Active()

	l.mu.Lock()
	all = append(all, l.history...)
	l.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].EntryTime.After(all[j].EntryTime)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
