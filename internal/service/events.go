package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const maxCapacity = 100_000

// CreateEvent validates the request and stores a new OPEN event.
func (e *Engine) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, invalidf("event name is required")
	}
	if req.MaxSpotsPerPerson == 0 {
		req.MaxSpotsPerPerson = 1
	}
	if req.MaxSpotsPerPerson < 1 {
		return nil, invalidf("max_spots_per_person must be a positive integer")
	}

	switch req.Type {
	case model.EventCapacityBased:
		if req.Capacity <= 0 {
			return nil, invalidf("capacity must be a positive integer")
		}
		if req.Capacity > maxCapacity {
			return nil, invalidf("capacity cannot exceed 100,000")
		}
	case model.EventTableBased:
		req.Capacity = 0
	default:
		return nil, invalidf("event_type must be CAPACITY_BASED or TABLE_BASED")
	}

	event := &model.Event{
		ID:                uuid.New().String(),
		Name:              req.Name,
		Description:       strings.TrimSpace(req.Description),
		Type:              req.Type,
		Capacity:          req.Capacity,
		MaxSpotsPerPerson: req.MaxSpotsPerPerson,
		Status:            model.EventOpen,
		StartsAt:          req.StartsAt,
		CreatedAt:         e.now(),
	}
	if err := e.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	e.logger.Info("event created", "event_id", event.ID, "type", event.Type, "capacity", event.Capacity)
	return event, nil
}

// ListEvents returns all events.
func (e *Engine) ListEvents(ctx context.Context) ([]model.Event, error) {
	return e.store.ListEvents(ctx)
}

// GetEvent returns an event with its derived counters.
func (e *Engine) GetEvent(ctx context.Context, eventID string) (*model.EventDetail, error) {
	if eventID == "" {
		return nil, invalidf("event id is required")
	}
	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	stats, err := e.store.EventStats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	detail := &model.EventDetail{Event: *event, Stats: stats}
	if event.Type == model.EventCapacityBased {
		detail.Remaining = stats.Remaining(event.Capacity)
	}
	return detail, nil
}

// ListRegistrations returns all registrations for an event.
func (e *Engine) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return e.store.ListRegistrations(ctx, eventID)
}

// RegistrationByCode resolves a confirmation code of an event. Cancelled
// registrations are reported as not found.
func (e *Engine) RegistrationByCode(ctx context.Context, eventID, code string) (*model.Registration, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, repository.ErrNotFound
	}
	reg, err := e.store.GetRegistrationByCode(ctx, eventID, code)
	if err != nil {
		return nil, err
	}
	if reg.Status == model.StatusCancelled {
		return nil, repository.ErrNotFound
	}
	return reg, nil
}

// UpdateEventCapacity changes the capacity of a CAPACITY_BASED event. A
// capacity below the confirmed spots is rejected, so no registration is
// ever demoted; an increase schedules waitlist promotion.
func (e *Engine) UpdateEventCapacity(ctx context.Context, eventID string, capacity int) (event *model.Event, err error) {
	ctx, span := e.startSpan(ctx, "Engine.UpdateEventCapacity",
		attribute.String("event.id", eventID), attribute.Int("capacity", capacity))
	defer func() { endSpan(span, err) }()

	if capacity <= 0 || capacity > maxCapacity {
		return nil, invalidf("capacity must be between 1 and 100,000")
	}

	var increased bool
	err = e.critical(ctx, "update_capacity", func(ctx context.Context, tx repository.Tx) error {
		increased = false
		ev, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Type != model.EventCapacityBased {
			return ErrWrongEventType
		}
		if ev.Completed() {
			return ErrEventClosed
		}
		confirmed, err := tx.ConfirmedSpots(ctx, eventID)
		if err != nil {
			return err
		}
		if capacity < confirmed {
			return fmt.Errorf("%w: %d confirmed, requested %d", ErrCapacityBelowConfirmed, confirmed, capacity)
		}
		if err := tx.UpdateEventCapacity(ctx, eventID, capacity); err != nil {
			return err
		}
		if capacity > ev.Capacity {
			increased = true
			if err := tx.EnqueuePromotion(ctx, eventID, e.now()); err != nil {
				return err
			}
		}
		ev.Capacity = capacity
		event = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	if increased {
		e.signalPromotion(eventID)
	}
	e.logger.Info("event capacity updated", "event_id", eventID, "capacity", capacity)
	return event, nil
}

// SetEventStatus moves an event between OPEN and PAUSED, or closes it.
// CLOSED is final.
func (e *Engine) SetEventStatus(ctx context.Context, eventID string, status model.EventStatus) (*model.Event, error) {
	if !status.Valid() {
		return nil, invalidf("unknown event status %q", status)
	}
	var event *model.Event
	err := e.critical(ctx, "set_event_status", func(ctx context.Context, tx repository.Tx) error {
		ev, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Status == model.EventClosed && status != model.EventClosed {
			return ErrEventClosed
		}
		if err := tx.UpdateEventStatus(ctx, eventID, status, nil); err != nil {
			return err
		}
		ev.Status = status
		event = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("event status updated", "event_id", eventID, "status", status)
	return event, nil
}

// CompleteEvent is the event-completion hook: it closes the event, stamps
// CompletedAt, and consumes one unit of each active GAME_COUNT ban whose
// identity was turned away from or registered for this event, at most
// once per ban. Calling it again changes nothing.
func (e *Engine) CompleteEvent(ctx context.Context, eventID string) (result *model.CompletionResult, err error) {
	ctx, span := e.startSpan(ctx, "Engine.CompleteEvent", attribute.String("event.id", eventID))
	defer func() { endSpan(span, err) }()

	var event *model.Event
	var consumed int
	err = e.critical(ctx, "complete_event", func(ctx context.Context, tx repository.Tx) error {
		ev, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.Completed() {
			now := e.now()
			if err := tx.UpdateEventStatus(ctx, eventID, model.EventClosed, &now); err != nil {
				return err
			}
			ev.Status = model.EventClosed
			ev.CompletedAt = &now
		}
		consumed, err = tx.ConsumeGameCountBans(ctx, eventID, *ev.CompletedAt)
		if err != nil {
			return err
		}
		event = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	noShows, err := e.store.ListNoShows(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list no-shows: %w", err)
	}
	e.notifier.Publish(model.LiveEvent{Type: model.LiveEventCompleted, EventID: eventID, At: e.now()})
	e.logger.Info("event completed",
		"event_id", eventID, "bans_consumed", consumed, "no_shows", len(noShows))
	return &model.CompletionResult{Event: *event, BansConsumed: consumed, NoShows: len(noShows)}, nil
}

// NoShows lists CONFIRMED registrations of a completed event that never
// checked in.
func (e *Engine) NoShows(ctx context.Context, eventID string) ([]model.Registration, error) {
	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.Completed() {
		return nil, ErrEventNotCompleted
	}
	regs, err := e.store.ListNoShows(ctx, eventID)
	if err != nil {
		return nil, err
	}
	noShows := regs[:0]
	for i := range regs {
		if regs[i].NoShow(event) {
			noShows = append(noShows, regs[i])
		}
	}
	return noShows, nil
}

// IsNotFound reports whether err means the addressed resource is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
