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

// Register admits a party to an event. CAPACITY_BASED events confirm the
// registration while spots remain and waitlist it otherwise; TABLE_BASED
// events allocate seats on the requested table or reject the request.
func (e *Engine) Register(ctx context.Context, eventID string, req model.RegisterRequest) (reg *model.Registration, err error) {
	ctx, span := e.startSpan(ctx, "Engine.Register", attribute.String("event.id", eventID))
	defer func() { endSpan(span, err) }()

	req.Name = strings.TrimSpace(req.Name)
	req.PhoneNumber = model.NormalizePhone(req.PhoneNumber)
	req.Email = model.NormalizeEmail(req.Email)
	if req.PhoneNumber == "" {
		return nil, invalidf("phone_number is required")
	}
	if req.SpotsCount < 1 {
		return nil, fmt.Errorf("%w: spots_count must be at least 1", ErrInvalidSpotsCount)
	}

	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != model.EventOpen || event.Completed() {
		return nil, ErrEventNotOpen
	}
	if event.Type == model.EventCapacityBased && req.SpotsCount > event.MaxSpotsPerPerson {
		return nil, fmt.Errorf("%w: at most %d spots per person", ErrInvalidSpotsCount, event.MaxSpotsPerPerson)
	}

	verdict, err := e.bans.Check(ctx, e.store, req.PhoneNumber, req.Email)
	if err != nil {
		return nil, err
	}
	if verdict.Blocked {
		e.logger.Info("registration blocked by ban", "event_id", eventID, "ban_id", verdict.BanID)
		if err := e.critical(ctx, "ban_exposure", func(ctx context.Context, tx repository.Tx) error {
			return recordExposure(ctx, tx, verdict, eventID, e.now())
		}); err != nil {
			return nil, fmt.Errorf("record ban exposure: %w", err)
		}
		return nil, &BannedError{BanID: verdict.BanID, Reason: verdict.Reason}
	}

	switch event.Type {
	case model.EventCapacityBased:
		reg, err = e.admitCapacity(ctx, eventID, req)
	case model.EventTableBased:
		reg, err = e.allocateTable(ctx, eventID, req)
	default:
		return nil, ErrWrongEventType
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("registration.status", string(reg.Status)))
	if reg.Status == model.StatusConfirmed {
		e.publish(model.LiveRegistrationConfirmed, reg)
	} else {
		e.publish(model.LiveRegistrationWaitlisted, reg)
	}
	e.logger.Info("registration created",
		"event_id", eventID, "registration_id", reg.ID, "status", reg.Status, "spots", reg.SpotsCount)
	return reg, nil
}

// admitCapacity decides CONFIRMED or WAITLIST under the event lock, so
// the sum of confirmed spots never exceeds capacity.
func (e *Engine) admitCapacity(ctx context.Context, eventID string, req model.RegisterRequest) (*model.Registration, error) {
	var reg *model.Registration
	err := e.critical(ctx, "admit", func(ctx context.Context, tx repository.Tx) error {
		reg = nil
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Status != model.EventOpen || event.Completed() {
			return ErrEventNotOpen
		}
		if req.SpotsCount > event.Capacity {
			return fmt.Errorf("%w: party of %d exceeds event capacity %d",
				ErrInvalidSpotsCount, req.SpotsCount, event.Capacity)
		}
		if err := ensureNotRegistered(ctx, tx, eventID, req.PhoneNumber); err != nil {
			return err
		}
		confirmed, err := tx.ConfirmedSpots(ctx, eventID)
		if err != nil {
			return err
		}

		status := model.StatusWaitlist
		if confirmed+req.SpotsCount <= event.Capacity {
			status = model.StatusConfirmed
		}
		reg, err = e.insertRegistration(ctx, tx, eventID, nil, status, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func ensureNotRegistered(ctx context.Context, tx repository.Tx, eventID, phone string) error {
	exists, err := tx.HasActiveRegistration(ctx, eventID, phone)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyRegistered
	}
	return nil
}

// insertRegistration builds and stores a registration with a fresh
// confirmation code and cancellation token.
func (e *Engine) insertRegistration(ctx context.Context, tx repository.Tx, eventID string, tableID *string,
	status model.RegistrationStatus, req model.RegisterRequest) (*model.Registration, error) {
	code, err := uniqueConfirmationCode(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	token, hash, err := newCancellationToken()
	if err != nil {
		return nil, err
	}
	now := e.now()
	reg := &model.Registration{
		ID:                uuid.New().String(),
		EventID:           eventID,
		TableID:           tableID,
		SpotsCount:        req.SpotsCount,
		Status:            status,
		ConfirmationCode:  code,
		CancellationToken: token,
		TokenHash:         hash,
		Name:              req.Name,
		PhoneNumber:       req.PhoneNumber,
		Email:             req.Email,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.InsertRegistration(ctx, reg); err != nil {
		if errors.Is(err, repository.ErrDuplicatePhone) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}
	return reg, nil
}
