package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"go.opentelemetry.io/otel/attribute"
)

// Cancel cancels the registration holding token. For CAPACITY_BASED
// events a promotion outbox row is written in the same transaction, so
// the freed spots reach the waitlist even if the process stops right
// after commit.
func (e *Engine) Cancel(ctx context.Context, token string) (reg *model.Registration, err error) {
	ctx, span := e.startSpan(ctx, "Engine.Cancel")
	defer func() { endSpan(span, err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invalidf("cancellation_token is required")
	}
	hash := hashToken(token)

	var capacityEvent bool
	err = e.critical(ctx, "cancel", func(ctx context.Context, tx repository.Tx) error {
		reg, capacityEvent = nil, false
		r, err := tx.LockRegistrationByToken(ctx, hash)
		if err != nil {
			return err
		}
		if r.Status == model.StatusCancelled {
			return ErrAlreadyCancelled
		}
		event, err := tx.GetEvent(ctx, r.EventID)
		if err != nil {
			return err
		}
		if event.Completed() {
			return ErrEventClosed
		}
		now := e.now()
		if err := tx.UpdateRegistrationStatus(ctx, r.ID, model.StatusCancelled, now); err != nil {
			return err
		}
		if event.Type == model.EventCapacityBased {
			capacityEvent = true
			if err := tx.EnqueuePromotion(ctx, r.EventID, now); err != nil {
				return err
			}
		}
		r.Status = model.StatusCancelled
		r.UpdatedAt = now
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("event.id", reg.EventID))
	if capacityEvent {
		e.signalPromotion(reg.EventID)
	}
	e.publish(model.LiveRegistrationCancelled, reg)
	e.logger.Info("registration cancelled", "event_id", reg.EventID, "registration_id", reg.ID)
	return reg, nil
}

// Restore is the operator action that re-admits a CANCELLED registration.
// It goes through the same discipline as a new registration: on a
// CAPACITY_BASED event it rejoins the waitlist at its original arrival
// position and is confirmed only if it is then the head and fits; on a
// TABLE_BASED event it needs room on its original table.
func (e *Engine) Restore(ctx context.Context, registrationID string) (reg *model.Registration, err error) {
	ctx, span := e.startSpan(ctx, "Engine.Restore", attribute.String("registration.id", registrationID))
	defer func() { endSpan(span, err) }()

	current, err := e.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	event, err := e.store.GetEvent(ctx, current.EventID)
	if err != nil {
		return nil, err
	}

	var enqueued bool
	switch event.Type {
	case model.EventCapacityBased:
		reg, enqueued, err = e.restoreCapacity(ctx, current.EventID, registrationID)
	case model.EventTableBased:
		reg, err = e.restoreTable(ctx, current, registrationID)
	default:
		err = ErrWrongEventType
	}
	if err != nil {
		return nil, err
	}

	if enqueued {
		e.signalPromotion(reg.EventID)
	}
	e.publish(model.LiveRegistrationRestored, reg)
	e.logger.Info("registration restored",
		"event_id", reg.EventID, "registration_id", reg.ID, "status", reg.Status)
	return reg, nil
}

func (e *Engine) restoreCapacity(ctx context.Context, eventID, registrationID string) (*model.Registration, bool, error) {
	var reg *model.Registration
	var enqueued bool
	err := e.critical(ctx, "restore", func(ctx context.Context, tx repository.Tx) error {
		reg, enqueued = nil, false
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		r, err := lockCancelled(ctx, tx, registrationID)
		if err != nil {
			return err
		}
		if event.Completed() {
			return ErrEventClosed
		}
		if err := ensureNotRegistered(ctx, tx, eventID, r.PhoneNumber); err != nil {
			return err
		}

		now := e.now()
		if err := tx.UpdateRegistrationStatus(ctx, r.ID, model.StatusWaitlist, now); err != nil {
			if errors.Is(err, repository.ErrDuplicatePhone) {
				return ErrAlreadyRegistered
			}
			return err
		}
		status := model.StatusWaitlist
		head, err := tx.OldestWaitlisted(ctx, eventID)
		if err != nil {
			return err
		}
		if head.ID == r.ID {
			confirmed, err := tx.ConfirmedSpots(ctx, eventID)
			if err != nil {
				return err
			}
			if confirmed+r.SpotsCount <= event.Capacity {
				status = model.StatusConfirmed
				if err := tx.UpdateRegistrationStatus(ctx, r.ID, status, now); err != nil {
					return err
				}
			}
		}
		if status == model.StatusWaitlist {
			enqueued = true
			if err := tx.EnqueuePromotion(ctx, eventID, now); err != nil {
				return err
			}
		}
		r.Status = status
		r.UpdatedAt = now
		reg = r
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return reg, enqueued, nil
}

func (e *Engine) restoreTable(ctx context.Context, current *model.Registration, registrationID string) (*model.Registration, error) {
	if current.TableID == nil {
		return nil, ErrTableNotFound
	}
	var reg *model.Registration
	err := e.critical(ctx, "restore", func(ctx context.Context, tx repository.Tx) error {
		reg = nil
		event, err := tx.GetEvent(ctx, current.EventID)
		if err != nil {
			return err
		}
		if event.Completed() {
			return ErrEventClosed
		}
		table, err := tx.LockTable(ctx, *current.TableID)
		if err != nil {
			return err
		}
		r, err := lockCancelled(ctx, tx, registrationID)
		if err != nil {
			return err
		}
		if table.Status == model.TableInactive {
			return ErrTableNotAvailable
		}
		if err := ensureNotRegistered(ctx, tx, r.EventID, r.PhoneNumber); err != nil {
			return err
		}
		used, err := tx.TableSeatsUsed(ctx, table.ID)
		if err != nil {
			return err
		}
		if used+r.SpotsCount > table.Capacity {
			return ErrTableFull
		}
		now := e.now()
		if err := tx.UpdateRegistrationStatus(ctx, r.ID, model.StatusConfirmed, now); err != nil {
			if errors.Is(err, repository.ErrDuplicatePhone) {
				return ErrAlreadyRegistered
			}
			return err
		}
		r.Status = model.StatusConfirmed
		r.UpdatedAt = now
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func lockCancelled(ctx context.Context, tx repository.Tx, registrationID string) (*model.Registration, error) {
	r, err := tx.LockRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if r.Status != model.StatusCancelled {
		return nil, ErrNotCancelled
	}
	return r, nil
}
