package service

import (
	"errors"
	"fmt"
)

// Admission outcomes that reject a request. Capacity exhaustion on a
// CAPACITY_BASED event is not among them: it yields a WAITLIST registration.
var (
	ErrEventNotOpen           = errors.New("event is not open for registration")
	ErrInvalidSpotsCount      = errors.New("invalid spots count")
	ErrBanned                 = errors.New("identity is banned")
	ErrTableFull              = errors.New("table is full")
	ErrTableNotAvailable      = errors.New("table is not available")
	ErrTableNotFound          = errors.New("table not found for this event")
	ErrTableRequired          = errors.New("table_id is required for table-based events")
	ErrBelowMinOrder          = errors.New("spots count is below the table minimum order")
	ErrCapacityBelowConfirmed = errors.New("capacity is below confirmed spots")
	ErrAlreadyRegistered      = errors.New("phone number already registered for this event")
	ErrAlreadyCancelled       = errors.New("registration is already cancelled")
	ErrNotCancelled           = errors.New("registration is not cancelled")
	ErrEventClosed            = errors.New("event is closed")
	ErrEventNotCompleted      = errors.New("event has not completed")
	ErrWrongEventType         = errors.New("operation does not apply to this event type")
	ErrInvalidInput           = errors.New("invalid input")

	// ErrContention means a critical section kept conflicting until the
	// retry budget ran out. It indicates load beyond what the engine is
	// sized for and is logged at error level.
	ErrContention = errors.New("resource contention: retries exhausted")
)

// BannedError carries the operator-visible reason of a ban. It matches
// ErrBanned with errors.Is.
type BannedError struct {
	BanID  string
	Reason string
}

func (e *BannedError) Error() string {
	return ErrBanned.Error()
}

// Is reports whether target is ErrBanned.
func (e *BannedError) Is(target error) bool {
	return target == ErrBanned
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
