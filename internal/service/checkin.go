package service

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"go.opentelemetry.io/otel/attribute"
)

// CheckIn resolves a scanned confirmation code. Rejections are outcomes,
// not errors; an error means the check-in could not be evaluated.
//
// The registration row is locked for the whole evaluation, so two
// concurrent scans of one code yield exactly one OK.
func (e *Engine) CheckIn(ctx context.Context, eventID, code string) (result model.CheckInResult, err error) {
	ctx, span := e.startSpan(ctx, "Engine.CheckIn", attribute.String("event.id", eventID))
	defer func() {
		span.SetAttributes(attribute.String("checkin.outcome", string(result.Outcome)))
		endSpan(span, err)
	}()

	code = normalizeCode(code)
	if code == "" {
		return model.CheckInResult{Outcome: model.CheckInNotRegistered}, nil
	}
	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return model.CheckInResult{}, err
	}

	var banID string
	err = e.critical(ctx, "checkin", func(ctx context.Context, tx repository.Tx) error {
		result, banID = model.CheckInResult{}, ""
		reg, err := tx.LockRegistrationByCode(ctx, eventID, code)
		if errors.Is(err, repository.ErrNotFound) {
			result.Outcome = model.CheckInNotRegistered
			return nil
		}
		if err != nil {
			return err
		}
		result.Registration = reg

		switch {
		case reg.Status == model.StatusCancelled:
			result.Outcome = model.CheckInCancelled
			return nil
		case reg.CheckedInAt != nil:
			result.Outcome = model.CheckInAlreadyCheckedIn
			result.CheckedInAt = reg.CheckedInAt
			return nil
		case reg.Status == model.StatusWaitlist:
			result.Outcome = model.CheckInWaitlisted
			return nil
		}

		verdict, err := e.bans.Check(ctx, tx, reg.PhoneNumber, reg.Email)
		if err != nil {
			return err
		}
		if verdict.Blocked {
			if err := recordExposure(ctx, tx, verdict, eventID, e.now()); err != nil {
				return err
			}
			result.Outcome = model.CheckInBanned
			banID = verdict.BanID
			return nil
		}

		now := e.now()
		if err := tx.MarkCheckedIn(ctx, reg.ID, now); err != nil {
			return err
		}
		reg.CheckedInAt = &now
		reg.UpdatedAt = now
		result.Outcome = model.CheckInOK
		result.CheckedInAt = &now
		return nil
	})
	if err != nil {
		return model.CheckInResult{}, err
	}

	switch result.Outcome {
	case model.CheckInOK:
		e.publish(model.LiveCheckIn, result.Registration)
		e.logger.Info("checked in", "event_id", eventID, "registration_id", result.Registration.ID)
	case model.CheckInBanned:
		e.logger.Warn("check-in blocked by ban",
			"event_id", eventID, "registration_id", result.Registration.ID, "ban_id", banID)
	default:
		e.logger.Debug("check-in rejected", "event_id", eventID, "outcome", result.Outcome)
	}
	return result, nil
}
