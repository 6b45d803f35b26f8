// Package service implements the admission engine: the Ban Gate, the
// capacity Admission Controller, the Table Allocator, waitlist promotion,
// cancellation, and the check-in state machine, plus the operator actions
// that change capacity or status.
//
// Every decision that can consume capacity runs inside one critical
// section on one contended row (see repository.Tx). Critical sections
// that hit a transient conflict are retried with backoff; live updates
// are published only after commit and never affect the outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/clock"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Notifier receives live updates after the change is committed.
type Notifier interface {
	Publish(ev model.LiveEvent)
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	MaxRetries             uint
	CriticalSectionTimeout time.Duration
	Clock                  clock.Clock
	Logger                 *slog.Logger
	Notifier               Notifier
}

// Engine orchestrates admission, allocation, promotion and check-in.
type Engine struct {
	store    repository.Store
	bans     *BanGate
	clock    clock.Clock
	logger   *slog.Logger
	notifier Notifier
	tracer   trace.Tracer

	maxRetries uint
	timeout    time.Duration

	promotions chan string
}

type nopNotifier struct{}

func (nopNotifier) Publish(model.LiveEvent) {}

// NewEngine constructs an Engine on store.
func NewEngine(store repository.Store, opts Options) *Engine {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.CriticalSectionTimeout <= 0 {
		opts.CriticalSectionTimeout = 3 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	return &Engine{
		store:      store,
		bans:       NewBanGate(opts.Clock),
		clock:      opts.Clock,
		logger:     opts.Logger,
		notifier:   opts.Notifier,
		tracer:     otel.Tracer("github.com/Shivanand-hulikatti/event-admission/internal/service"),
		maxRetries: opts.MaxRetries,
		timeout:    opts.CriticalSectionTimeout,
		promotions: make(chan string, 256),
	}
}

// PromotionSignals delivers event IDs whose waitlist should be examined
// promptly. Signals are hints; the promotion outbox is authoritative.
func (e *Engine) PromotionSignals() <-chan string {
	return e.promotions
}

func (e *Engine) signalPromotion(eventID string) {
	select {
	case e.promotions <- eventID:
	default:
	}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Engine) publish(kind model.LiveEventType, reg *model.Registration) {
	e.notifier.Publish(model.LiveEventFor(kind, reg, e.now()))
}

// critical runs fn as one transaction, retrying transient conflicts with
// exponential backoff. fn may run more than once and must not leak state
// between attempts.
func (e *Engine) critical(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	attempts := 0
	var lastConflict error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		sectionCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		err := e.store.InTx(sectionCtx, func(tx repository.Tx) error {
			return fn(sectionCtx, tx)
		})
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrDuplicateCode):
			lastConflict = err
			return struct{}{}, err
		case sectionCtx.Err() != nil && ctx.Err() == nil:
			lastConflict = fmt.Errorf("%w: critical section timed out", repository.ErrConflict)
			return struct{}{}, lastConflict
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(e.maxRetries))
	if err == nil {
		return nil
	}
	if lastConflict != nil && (errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrDuplicateCode)) {
		e.logger.Error("critical section retries exhausted",
			"op", op, "attempts", attempts, "error", lastConflict)
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrContention, op, attempts, lastConflict)
	}
	return err
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
