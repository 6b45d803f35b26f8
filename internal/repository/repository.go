// Package repository defines the storage contracts of the admission engine.
//
// Every capacity- or seat-affecting decision runs inside Store.InTx. The
// Lock* methods acquire an exclusive lock on exactly one row (an event, a
// table, or a registration) that is held until the transaction ends;
// concurrent transactions locking the same row wait for it. The engine
// never locks more than one contended resource per transaction.
//
// Inside an InTx callback all reads and writes must go through the Tx:
// the SQLite implementation runs on a single connection and a call on the
// Store from within the callback would wait for itself.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict marks a transient concurrency failure (serialization
// failure, deadlock, lock timeout, busy database) that is safe to retry.
var ErrConflict = errors.New("concurrent update conflict")

// ErrDuplicateCode is returned when a confirmation code is already taken
// in the event. Callers retry with a fresh code.
var ErrDuplicateCode = errors.New("confirmation code already in use")

// ErrDuplicatePhone is returned when the phone number already holds a
// non-cancelled registration for the event.
var ErrDuplicatePhone = errors.New("phone number already registered for this event")

// Reader holds the queries that may run either inside or outside a
// transaction.
type Reader interface {
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	GetTable(ctx context.Context, tableID string) (*model.Table, error)
	// ActiveBans returns bans with no lifted_at matching phone or, when
	// non-empty, email. Inertness by count or date is decided by the caller.
	ActiveBans(ctx context.Context, phone, email string) ([]model.Ban, error)
}

// Tx is the set of operations available inside a critical section.
type Tx interface {
	Reader

	LockEvent(ctx context.Context, eventID string) (*model.Event, error)
	LockTable(ctx context.Context, tableID string) (*model.Table, error)
	LockRegistration(ctx context.Context, registrationID string) (*model.Registration, error)
	LockRegistrationByToken(ctx context.Context, tokenHash string) (*model.Registration, error)
	LockRegistrationByCode(ctx context.Context, eventID, code string) (*model.Registration, error)

	// ConfirmedSpots sums spots_count over CONFIRMED registrations of the event.
	ConfirmedSpots(ctx context.Context, eventID string) (int, error)
	// TableSeatsUsed sums spots_count over CONFIRMED registrations on the table.
	TableSeatsUsed(ctx context.Context, tableID string) (int, error)
	ConfirmationCodeExists(ctx context.Context, eventID, code string) (bool, error)
	HasActiveRegistration(ctx context.Context, eventID, phone string) (bool, error)
	// OldestWaitlisted returns the first WAITLIST registration in creation
	// order, or ErrNotFound.
	OldestWaitlisted(ctx context.Context, eventID string) (*model.Registration, error)

	InsertRegistration(ctx context.Context, reg *model.Registration) error
	UpdateRegistrationStatus(ctx context.Context, registrationID string, status model.RegistrationStatus, at time.Time) error
	MarkCheckedIn(ctx context.Context, registrationID string, at time.Time) error

	UpdateEventCapacity(ctx context.Context, eventID string, capacity int) error
	UpdateEventStatus(ctx context.Context, eventID string, status model.EventStatus, completedAt *time.Time) error
	UpdateTable(ctx context.Context, table *model.Table) error

	// EnqueuePromotion records that the event's waitlist must be
	// re-examined. Every call stamps the row with a fresh version drawn
	// from a store-wide counter.
	EnqueuePromotion(ctx context.Context, eventID string, at time.Time) error

	// RecordBanExposure notes that the ban turned the identity away from
	// the event. Recording the same pair twice is a no-op.
	RecordBanExposure(ctx context.Context, banID, eventID string, at time.Time) error
	// ConsumeGameCountBans decrements, at most once for the event, every
	// active GAME_COUNT ban created before cutoff whose identity was
	// subject to the event: turned away by it (an exposure recorded no
	// later than cutoff) or holding a non-cancelled registration matched
	// by phone or email. It returns how many were decremented by this call.
	ConsumeGameCountBans(ctx context.Context, eventID string, cutoff time.Time) (int, error)
}

// PendingPromotion is an outbox row awaiting processing. Version changes
// on every enqueue and never repeats.
type PendingPromotion struct {
	EventID    string
	EnqueuedAt time.Time
	Version    int64
}

// Store is the full persistence surface of the engine.
type Store interface {
	Reader

	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateEvent(ctx context.Context, event *model.Event) error
	ListEvents(ctx context.Context) ([]model.Event, error)
	EventStats(ctx context.Context, eventID string) (model.EventStats, error)

	CreateTable(ctx context.Context, table *model.Table) error
	ListTables(ctx context.Context, eventID string) ([]model.Table, error)

	GetRegistration(ctx context.Context, registrationID string) (*model.Registration, error)
	GetRegistrationByCode(ctx context.Context, eventID, code string) (*model.Registration, error)
	ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error)
	ListNoShows(ctx context.Context, eventID string) ([]model.Registration, error)

	CreateBan(ctx context.Context, ban *model.Ban) error
	GetBan(ctx context.Context, banID string) (*model.Ban, error)
	ListBans(ctx context.Context, phone string) ([]model.Ban, error)
	LiftBan(ctx context.Context, banID string, at time.Time) error

	PendingPromotions(ctx context.Context, limit int) ([]PendingPromotion, error)
	// AckPromotion deletes the outbox row only if its version is still
	// p.Version, so a re-enqueue during processing survives the ack.
	AckPromotion(ctx context.Context, p PendingPromotion) error

	Close() error
}
