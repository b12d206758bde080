package parking

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	ErrSlotNotFound     = errors.New("slot not found")
	ErrSlotExists       = errors.New("slot already exists")
	ErrAlreadyClaimed   = errors.New("slot already claimed")
	ErrSlotNotClaimed   = errors.New("slot is not claimed")
	ErrSlotNotReserved  = errors.New("slot is not reserved")
	ErrSlotBusy         = errors.New("slot is in use")
	ErrNotOutOfService  = errors.New("slot is not out of service")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrBookingConsumed  = errors.New("booking already consumed")
	ErrBookingCancelled = errors.New("booking cancelled")
	ErrBookingInUse     = errors.New("booking backs an active session")
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("plate already has an active session")
	ErrSlotAttached     = errors.New("slot already attached to an active session")

	// ErrConsistency marks a broken internal invariant. Operations failing
	// with it leave shared state as they found it.
	ErrConsistency = errors.New("consistency violation")
)

// ErrorKind groups errors by how callers should react to them.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindBooking     ErrorKind = "booking"
	KindContention  ErrorKind = "contention"
	KindConsistency ErrorKind = "consistency_violation"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindInternal    ErrorKind = "internal"
)

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrAlreadyClaimed):
		return KindContention
	case errors.Is(err, ErrBookingConsumed), errors.Is(err, ErrBookingCancelled), errors.Is(err, ErrBookingInUse):
		return KindBooking
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrBookingNotFound), errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrSlotExists), errors.Is(err, ErrSlotBusy), errors.Is(err, ErrNotOutOfService),
		errors.Is(err, ErrSlotNotClaimed), errors.Is(err, ErrSlotNotReserved), errors.Is(err, ErrDuplicateSession):
		return KindConflict
	}
	return KindInternal
}
