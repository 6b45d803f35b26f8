package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/clock"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/google/uuid"
)

// BanGate decides whether an identity is currently blocked. It only reads;
// GAME_COUNT bans are decremented by CompleteEvent, never by a check, so
// repeated attempts against one event cannot consume a ban twice.
type BanGate struct {
	clock clock.Clock
}

// NewBanGate constructs a BanGate.
func NewBanGate(clk clock.Clock) *BanGate {
	return &BanGate{clock: clk}
}

// Check looks up unlifted bans by phone and, if present, email. reader may
// be the Store or a Tx.
func (g *BanGate) Check(ctx context.Context, reader repository.Reader, phone, email string) (model.BanCheck, error) {
	bans, err := reader.ActiveBans(ctx, phone, email)
	if err != nil {
		return model.BanCheck{}, fmt.Errorf("check ban: %w", err)
	}
	now := g.clock.Now()
	var verdict model.BanCheck
	for i := range bans {
		if !bans[i].Active(now) {
			continue
		}
		if !verdict.Blocked {
			verdict = model.BanCheck{Blocked: true, Reason: bans[i].Reason, BanID: bans[i].ID}
		}
		verdict.BanIDs = append(verdict.BanIDs, bans[i].ID)
	}
	return verdict, nil
}

// recordExposure notes every blocking ban against the event so that
// completing the event can consume GAME_COUNT bans of this identity.
func recordExposure(ctx context.Context, tx repository.Tx, verdict model.BanCheck, eventID string, at time.Time) error {
	for _, banID := range verdict.BanIDs {
		if err := tx.RecordBanExposure(ctx, banID, eventID, at); err != nil {
			return err
		}
	}
	return nil
}

// CheckBan exposes the Ban Gate to collaborators.
func (e *Engine) CheckBan(ctx context.Context, phone, email string) (model.BanCheck, error) {
	return e.bans.Check(ctx, e.store, model.NormalizePhone(phone), model.NormalizeEmail(email))
}

// CreateBan records an operator ban.
func (e *Engine) CreateBan(ctx context.Context, req model.CreateBanRequest) (*model.Ban, error) {
	phone := model.NormalizePhone(req.PhoneNumber)
	if phone == "" {
		return nil, invalidf("phone_number is required")
	}
	now := e.now()
	ban := &model.Ban{
		ID:          uuid.New().String(),
		PhoneNumber: phone,
		Kind:        req.Kind,
		Reason:      strings.TrimSpace(req.Reason),
		CreatedAt:   now,
	}
	if email := model.NormalizeEmail(req.Email); email != "" {
		ban.Email = &email
	}

	switch req.Kind {
	case model.BanGameCount:
		if req.RemainingEvents < 1 {
			return nil, invalidf("remaining_events must be at least 1")
		}
		ban.RemainingEvents = req.RemainingEvents
	case model.BanDate:
		if req.ExpiresAt == nil || !req.ExpiresAt.After(now) {
			return nil, invalidf("expires_at must be in the future")
		}
		expires := req.ExpiresAt.UTC()
		ban.ExpiresAt = &expires
	default:
		return nil, invalidf("unknown ban kind %q", req.Kind)
	}

	if err := e.store.CreateBan(ctx, ban); err != nil {
		return nil, fmt.Errorf("create ban: %w", err)
	}
	e.logger.Info("ban created", "ban_id", ban.ID, "kind", ban.Kind)
	return ban, nil
}

// LiftBan ends a ban early.
func (e *Engine) LiftBan(ctx context.Context, banID string) (*model.Ban, error) {
	if err := e.store.LiftBan(ctx, banID, e.now()); err != nil {
		return nil, err
	}
	e.logger.Info("ban lifted", "ban_id", banID)
	return e.store.GetBan(ctx, banID)
}

// ListBans returns the ban history of a phone number.
func (e *Engine) ListBans(ctx context.Context, phone string) ([]model.Ban, error) {
	phone = model.NormalizePhone(phone)
	if phone == "" {
		return nil, invalidf("phone is required")
	}
	return e.store.ListBans(ctx, phone)
}
