// Package worker drains the promotion outbox. Cancellations and capacity
// increases write an outbox row in the same transaction that frees the
// spots; the worker promotes the waitlist for each row and acknowledges
// it only afterwards, so every freed spot is offered at least once.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
)

const (
	defaultSweepInterval = 5 * time.Second
	batchSize            = 50
)

// Promoter is the slice of the engine the worker drives.
type Promoter interface {
	PromotionSignals() <-chan string
	Promote(ctx context.Context, eventID string) ([]model.Registration, error)
	PendingPromotions(ctx context.Context, limit int) ([]repository.PendingPromotion, error)
	AckPromotion(ctx context.Context, p repository.PendingPromotion) error
}

// Promotions runs waitlist promotion for outbox rows.
type Promotions struct {
	engine   Promoter
	interval time.Duration
	logger   *slog.Logger
}

// NewPromotions constructs the worker. interval <= 0 selects the default
// sweep interval.
func NewPromotions(engine Promoter, interval time.Duration, logger *slog.Logger) *Promotions {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Promotions{engine: engine, interval: interval, logger: logger}
}

// Run sweeps the outbox on start, on every signal, and on every tick
// until ctx is cancelled. Signals only shorten the delay; rows missed
// because a signal was dropped are picked up by the next tick.
func (w *Promotions) Run(ctx context.Context) error {
	w.logger.Info("promotion worker started", "interval", w.interval)
	w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("promotion worker stopped")
			return nil
		case <-w.engine.PromotionSignals():
			w.Sweep(ctx)
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep processes every pending outbox row once and returns how many
// registrations were promoted. A failed row stays in the outbox for the
// next sweep.
func (w *Promotions) Sweep(ctx context.Context) int {
	pending, err := w.engine.PendingPromotions(ctx, batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("list pending promotions failed", "error", err)
		}
		return 0
	}

	total := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return total
		}
		promoted, err := w.engine.Promote(ctx, p.EventID)
		total += len(promoted)
		if err != nil {
			w.logger.Error("promotion failed", "event_id", p.EventID, "error", err)
			continue
		}
		if err := w.engine.AckPromotion(ctx, p); err != nil {
			w.logger.Error("ack promotion failed", "event_id", p.EventID, "error", err)
			continue
		}
		if len(promoted) > 0 {
			w.logger.Info("waitlist promoted", "event_id", p.EventID, "promoted", len(promoted))
		}
	}
	return total
}
