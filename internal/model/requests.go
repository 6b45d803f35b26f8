package model

import "time"

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name              string     `json:"name" yaml:"name"`
	Description       string     `json:"description" yaml:"description"`
	Type              EventType  `json:"event_type" yaml:"event_type"`
	Capacity          int        `json:"capacity" yaml:"capacity"`
	MaxSpotsPerPerson int        `json:"max_spots_per_person" yaml:"max_spots_per_person"`
	StartsAt          *time.Time `json:"starts_at,omitempty" yaml:"starts_at"`
}

// CreateTableRequest is the payload for adding a table to an event.
type CreateTableRequest struct {
	Name         string `json:"name" yaml:"name"`
	Capacity     int    `json:"capacity" yaml:"capacity"`
	MinOrder     int    `json:"min_order" yaml:"min_order"`
	AllowPartial bool   `json:"allow_partial" yaml:"allow_partial"`
	TableOrder   int    `json:"table_order" yaml:"table_order"`
}

// RegisterRequest is the payload for registering for an event. TableID is
// required for TABLE_BASED events and ignored otherwise.
type RegisterRequest struct {
	SpotsCount  int     `json:"spots_count"`
	TableID     *string `json:"table_id,omitempty"`
	Name        string  `json:"name"`
	PhoneNumber string  `json:"phone_number"`
	Email       string  `json:"email,omitempty"`
}

// CancelRequest carries the self-service cancellation capability.
type CancelRequest struct {
	Token string `json:"cancellation_token"`
}

// CheckInRequest is a scanned code.
type CheckInRequest struct {
	Code string `json:"code"`
}

// UpdateCapacityRequest changes the capacity of a CAPACITY_BASED event.
type UpdateCapacityRequest struct {
	Capacity int `json:"capacity"`
}

// UpdateStatusRequest changes the status of an event.
type UpdateStatusRequest struct {
	Status EventStatus `json:"status"`
}

// TableChange is one entry of a bulk table update. Nil fields are left
// unchanged.
type TableChange struct {
	TableID      string       `json:"table_id"`
	Capacity     *int         `json:"capacity,omitempty"`
	MinOrder     *int         `json:"min_order,omitempty"`
	AllowPartial *bool        `json:"allow_partial,omitempty"`
	Status       *TableStatus `json:"status,omitempty"`
}

// BulkTableUpdateRequest applies changes to many tables of one event.
type BulkTableUpdateRequest struct {
	Changes []TableChange `json:"changes"`
}

// TableExclusion explains why a table was left out of a bulk update.
type TableExclusion struct {
	TableID   string `json:"table_id"`
	Reason    string `json:"reason"`
	SeatsUsed int    `json:"seats_used,omitempty"`
}

// BulkTableUpdateResult reports applied and excluded tables individually.
type BulkTableUpdateResult struct {
	Updated  []Table          `json:"updated"`
	Excluded []TableExclusion `json:"excluded"`
}

// CreateBanRequest is the operator payload for banning an identity.
type CreateBanRequest struct {
	PhoneNumber     string     `json:"phone_number" yaml:"phone_number"`
	Email           string     `json:"email,omitempty" yaml:"email"`
	Kind            BanKind    `json:"kind" yaml:"kind"`
	RemainingEvents int        `json:"remaining_events,omitempty" yaml:"remaining_events"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" yaml:"expires_at"`
	Reason          string     `json:"reason" yaml:"reason"`
}

// CompletionResult summarises an event completion.
type CompletionResult struct {
	Event        Event `json:"event"`
	BansConsumed int   `json:"bans_consumed"`
	NoShows      int   `json:"no_shows"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
