// Package model defines the core domain types for the admission engine.
package model

import (
	"strings"
	"time"
)

// EventType selects the admission path of an event.
type EventType string

const (
	EventCapacityBased EventType = "CAPACITY_BASED"
	EventTableBased    EventType = "TABLE_BASED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventCapacityBased || t == EventTableBased
}

// EventStatus gates new admissions.
type EventStatus string

const (
	EventOpen   EventStatus = "OPEN"
	EventPaused EventStatus = "PAUSED"
	EventClosed EventStatus = "CLOSED"
)

// Valid reports whether s is a known event status.
func (s EventStatus) Valid() bool {
	return s == EventOpen || s == EventPaused || s == EventClosed
}

// Event is an admission target. Capacity applies to CAPACITY_BASED
// events only; TABLE_BASED events are bounded per table.
type Event struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Description       string      `json:"description"`
	Type              EventType   `json:"event_type"`
	Capacity          int         `json:"capacity"`
	MaxSpotsPerPerson int         `json:"max_spots_per_person"`
	Status            EventStatus `json:"status"`
	StartsAt          *time.Time  `json:"starts_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Completed reports whether the event has ended.
func (e *Event) Completed() bool {
	return e.CompletedAt != nil
}

// EventStats is recomputed from registrations on every read.
type EventStats struct {
	ConfirmedSpots  int `json:"confirmed_spots"`
	WaitlistedSpots int `json:"waitlisted_spots"`
	WaitlistLength  int `json:"waitlist_length"`
	CheckedIn       int `json:"checked_in"`
}

// Remaining returns the number of unconfirmed spots for a capacity event.
func (s EventStats) Remaining(capacity int) int {
	if r := capacity - s.ConfirmedSpots; r > 0 {
		return r
	}
	return 0
}

// EventDetail is an event together with its derived counters.
type EventDetail struct {
	Event
	Stats     EventStats `json:"stats"`
	Remaining int        `json:"remaining"`
}

// TableStatus controls whether a table accepts allocations.
type TableStatus string

const (
	TableAvailable TableStatus = "AVAILABLE"
	TableReserved  TableStatus = "RESERVED"
	TableInactive  TableStatus = "INACTIVE"
)

// Valid reports whether s is a known table status.
func (s TableStatus) Valid() bool {
	return s == TableAvailable || s == TableReserved || s == TableInactive
}

// Table is a seat group of a TABLE_BASED event. SeatsUsed is derived.
type Table struct {
	ID           string      `json:"id"`
	EventID      string      `json:"event_id"`
	Name         string      `json:"name"`
	Capacity     int         `json:"capacity"`
	MinOrder     int         `json:"min_order"`
	AllowPartial bool        `json:"allow_partial"`
	Status       TableStatus `json:"status"`
	TableOrder   int         `json:"table_order"`
	SeatsUsed    int         `json:"seats_used"`
	CreatedAt    time.Time   `json:"created_at"`
}

// RegistrationStatus is the admission state of a registration.
type RegistrationStatus string

const (
	StatusConfirmed RegistrationStatus = "CONFIRMED"
	StatusWaitlist  RegistrationStatus = "WAITLIST"
	StatusCancelled RegistrationStatus = "CANCELLED"
)

// Registration is one admitted (or waitlisted) party. CancellationToken
// is only populated on the response that created the registration; the
// store keeps a hash.
type Registration struct {
	ID                string             `json:"id"`
	EventID           string             `json:"event_id"`
	TableID           *string            `json:"table_id,omitempty"`
	SpotsCount        int                `json:"spots_count"`
	Status            RegistrationStatus `json:"status"`
	ConfirmationCode  string             `json:"confirmation_code"`
	CancellationToken string             `json:"cancellation_token,omitempty"`
	TokenHash         string             `json:"-"`
	Name              string             `json:"name,omitempty"`
	PhoneNumber       string             `json:"phone_number"`
	Email             string             `json:"email,omitempty"`
	CheckedInAt       *time.Time         `json:"checked_in_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NoShow reports whether r was confirmed for a completed event but never
// checked in.
func (r *Registration) NoShow(event *Event) bool {
	return event.Completed() && r.Status == StatusConfirmed && r.CheckedInAt == nil
}

// BanKind selects how a ban expires.
type BanKind string

const (
	BanGameCount BanKind = "GAME_COUNT"
	BanDate      BanKind = "DATE"
)

// Ban blocks an identity from admission and check-in.
type Ban struct {
	ID              string     `json:"id"`
	PhoneNumber     string     `json:"phone_number"`
	Email           *string    `json:"email,omitempty"`
	Kind            BanKind    `json:"kind"`
	RemainingEvents int        `json:"remaining_events"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Reason          string     `json:"reason"`
	LiftedAt        *time.Time `json:"lifted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Active reports whether the ban blocks at now. Exhausted and expired
// bans are inert but kept.
func (b *Ban) Active(now time.Time) bool {
	if b.LiftedAt != nil {
		return false
	}
	switch b.Kind {
	case BanGameCount:
		return b.RemainingEvents > 0
	case BanDate:
		return b.ExpiresAt != nil && now.Before(*b.ExpiresAt)
	default:
		return false
	}
}

// BanCheck is the Ban Gate verdict. BanID and Reason describe the first
// blocking ban; BanIDs lists every ban that blocks.
type BanCheck struct {
	Blocked bool
	Reason  string
	BanID   string
	BanIDs  []string
}

// CheckInOutcome is the result of scanning a confirmation code.
type CheckInOutcome string

const (
	CheckInOK               CheckInOutcome = "OK"
	CheckInAlreadyCheckedIn CheckInOutcome = "ALREADY_CHECKED_IN"
	CheckInNotRegistered    CheckInOutcome = "NOT_REGISTERED"
	CheckInBanned           CheckInOutcome = "BANNED"
	CheckInCancelled        CheckInOutcome = "CANCELLED"
	CheckInWaitlisted       CheckInOutcome = "WAITLISTED"
)

// CheckInResult carries the outcome and, when resolved, the registration.
type CheckInResult struct {
	Outcome      CheckInOutcome `json:"outcome"`
	CheckedInAt  *time.Time     `json:"checked_in_at,omitempty"`
	Registration *Registration  `json:"registration,omitempty"`
}

// NormalizePhone strips formatting so that bans and registrations match
// regardless of how the number was typed.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
