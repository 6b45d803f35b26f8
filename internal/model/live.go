package model

import "time"

// LiveEventType names the kind of change pushed to dashboards.
type LiveEventType string

const (
	LiveRegistrationConfirmed  LiveEventType = "registration.confirmed"
	LiveRegistrationWaitlisted LiveEventType = "registration.waitlisted"
	LiveRegistrationPromoted   LiveEventType = "registration.promoted"
	LiveRegistrationCancelled  LiveEventType = "registration.cancelled"
	LiveRegistrationRestored   LiveEventType = "registration.restored"
	LiveCheckIn                LiveEventType = "checkin"
	LiveEventCompleted         LiveEventType = "event.completed"
)

// LiveEvent is one dashboard update. It carries no contact details.
type LiveEvent struct {
	Type             LiveEventType      `json:"type"`
	EventID          string             `json:"event_id"`
	RegistrationID   string             `json:"registration_id,omitempty"`
	ConfirmationCode string             `json:"confirmation_code,omitempty"`
	Name             string             `json:"name,omitempty"`
	Status           RegistrationStatus `json:"status,omitempty"`
	SpotsCount       int                `json:"spots_count,omitempty"`
	TableID          *string            `json:"table_id,omitempty"`
	At               time.Time          `json:"at"`
}

// LiveEventFor builds the update describing reg.
func LiveEventFor(kind LiveEventType, reg *Registration, at time.Time) LiveEvent {
	return LiveEvent{
		Type:             kind,
		EventID:          reg.EventID,
		RegistrationID:   reg.ID,
		ConfirmationCode: reg.ConfirmationCode,
		Name:             reg.Name,
		Status:           reg.Status,
		SpotsCount:       reg.SpotsCount,
		TableID:          reg.TableID,
		At:               at,
	}
}
