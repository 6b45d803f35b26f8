package service

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"go.opentelemetry.io/otel/attribute"
)

// Promote moves WAITLIST registrations of a CAPACITY_BASED event to
// CONFIRMED in arrival order while the head of the waitlist fits. A head
// that does not fit blocks everyone behind it. Each promotion is its own
// critical section; running Promote twice, or concurrently, promotes each
// registration at most once.
func (e *Engine) Promote(ctx context.Context, eventID string) (promoted []model.Registration, err error) {
	ctx, span := e.startSpan(ctx, "Engine.Promote", attribute.String("event.id", eventID))
	defer func() {
		span.SetAttributes(attribute.Int("promoted", len(promoted)))
		endSpan(span, err)
	}()

	for {
		reg, err := e.promoteOne(ctx, eventID)
		if err != nil {
			return promoted, err
		}
		if reg == nil {
			return promoted, nil
		}
		promoted = append(promoted, *reg)
		e.publish(model.LiveRegistrationPromoted, reg)
		e.logger.Info("registration promoted",
			"event_id", eventID, "registration_id", reg.ID, "spots", reg.SpotsCount)
	}
}

// promoteOne confirms the head of the waitlist if it fits. It returns nil
// when there is nothing to promote.
func (e *Engine) promoteOne(ctx context.Context, eventID string) (*model.Registration, error) {
	var promoted *model.Registration
	err := e.critical(ctx, "promote", func(ctx context.Context, tx repository.Tx) error {
		promoted = nil
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Type != model.EventCapacityBased || event.Completed() {
			return nil
		}
		head, err := tx.OldestWaitlisted(ctx, eventID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		confirmed, err := tx.ConfirmedSpots(ctx, eventID)
		if err != nil {
			return err
		}
		if confirmed+head.SpotsCount > event.Capacity {
			return nil
		}
		now := e.now()
		if err := tx.UpdateRegistrationStatus(ctx, head.ID, model.StatusConfirmed, now); err != nil {
			return err
		}
		head.Status = model.StatusConfirmed
		head.UpdatedAt = now
		promoted = head
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// PendingPromotions returns outbox rows awaiting promotion.
func (e *Engine) PendingPromotions(ctx context.Context, limit int) ([]repository.PendingPromotion, error) {
	return e.store.PendingPromotions(ctx, limit)
}

// AckPromotion marks an outbox row processed.
func (e *Engine) AckPromotion(ctx context.Context, p repository.PendingPromotion) error {
	return e.store.AckPromotion(ctx, p)
}
