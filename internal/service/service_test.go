package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/clock"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository/sqlite"
)

var testEpoch = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.LiveEvent
}

func (n *recordingNotifier) Publish(ev model.LiveEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) count(kind model.LiveEventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, ev := range n.events {
		if ev.Type == kind {
			total++
		}
	}
	return total
}

type fixture struct {
	engine   *Engine
	store    *sqlite.Store
	clock    *clock.FakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "admission.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.Fake(testEpoch)
	notifier := &recordingNotifier{}
	engine := NewEngine(store, Options{
		MaxRetries:             20,
		CriticalSectionTimeout: 10 * time.Second,
		Clock:                  clk,
		Notifier:               notifier,
	})
	return &fixture{engine: engine, store: store, clock: clk, notifier: notifier}
}

func (f *fixture) capacityEvent(t *testing.T, capacity, maxSpots int) *model.Event {
	t.Helper()
	event, err := f.engine.CreateEvent(context.Background(), model.CreateEventRequest{
		Name:              "Friday Game Night",
		Type:              model.EventCapacityBased,
		Capacity:          capacity,
		MaxSpotsPerPerson: maxSpots,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return event
}

func (f *fixture) register(t *testing.T, eventID, phone string, spots int) *model.Registration {
	t.Helper()
	reg, err := f.engine.Register(context.Background(), eventID, model.RegisterRequest{
		SpotsCount:  spots,
		Name:        "Guest " + phone,
		PhoneNumber: phone,
	})
	if err != nil {
		t.Fatalf("register %s: %v", phone, err)
	}
	// Distinct timestamps keep FIFO order observable.
	f.clock.Advance(time.Second)
	return reg
}

func phone(i int) string {
	return fmt.Sprintf("+1555%07d", i)
}

func TestRegisterConfirmsUntilCapacityThenWaitlists(t *testing.T) {
	f := newFixture(t)
	event := f.capacityEvent(t, 3, 2)

	first := f.register(t, event.ID, phone(1), 2)
	second := f.register(t, event.ID, phone(2), 1)
	third := f.register(t, event.ID, phone(3), 1)

	if first.Status != model.StatusConfirmed || second.Status != model.StatusConfirmed {
		t.Fatalf("expected first two confirmed, got %s and %s", first.Status, second.Status)
	}
	if third.Status != model.StatusWaitlist {
		t.Fatalf("expected waitlist once full, got %s", third.Status)
	}
	if len(first.ConfirmationCode) != codeLength {
		t.Fatalf("unexpected confirmation code %q", first.ConfirmationCode)
	}
	if first.CancellationToken == "" || first.TokenHash != hashToken(first.CancellationToken) {
		t.Fatal("expected cancellation token with matching hash")
	}

	detail, err := f.engine.GetEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if detail.Stats.ConfirmedSpots != 3 || detail.Remaining != 0 || detail.Stats.WaitlistLength != 1 {
		t.Fatalf("unexpected stats %+v remaining %d", detail.Stats, detail.Remaining)
	}
	if got := f.notifier.count(model.LiveRegistrationWaitlisted); got != 1 {
		t.Fatalf("expected 1 waitlisted update, got %d", got)
	}
}

func TestRegisterConcurrentNeverOversells(t *testing.T) {
	f := newFixture(t)
	event := f.capacityEvent(t, 10, 1)

	const attempts = 12
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Register(context.Background(), event.ID, model.RegisterRequest{
				SpotsCount:  1,
				PhoneNumber: phone(i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	regs, err := f.engine.ListRegistrations(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	confirmed, waitlisted := 0, 0
	for _, r := range regs {
		switch r.Status {
		case model.StatusConfirmed:
			confirmed++
		case model.StatusWaitlist:
			waitlisted++
		}
	}
	if confirmed != 10 || waitlisted != 2 {
		t.Fatalf("expected 10 confirmed and 2 waitlisted, got %d and %d", confirmed, waitlisted)
	}
}

func TestRegisterRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 4, 2)

	tests := []struct {
		name string
		req  model.RegisterRequest
		want error
	}{
		{"zero spots", model.RegisterRequest{SpotsCount: 0, PhoneNumber: phone(1)}, ErrInvalidSpotsCount},
		{"above max per person", model.RegisterRequest{SpotsCount: 3, PhoneNumber: phone(1)}, ErrInvalidSpotsCount},
		{"missing phone", model.RegisterRequest{SpotsCount: 1}, ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Register(ctx, event.ID, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	f.register(t, event.ID, phone(9), 1)
	_, err := f.engine.Register(ctx, event.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: "+1 555 000 0009"})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected duplicate phone rejection, got %v", err)
	}

	if _, err := f.engine.SetEventStatus(ctx, event.ID, model.EventPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err = f.engine.Register(ctx, event.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(2)})
	if !errors.Is(err, ErrEventNotOpen) {
		t.Fatalf("expected paused event rejection, got %v", err)
	}

	_, err = f.engine.Register(ctx, "missing", model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(3)})
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPartyLargerThanCapacityIsRejected(t *testing.T) {
	f := newFixture(t)
	event := f.capacityEvent(t, 2, 4)

	_, err := f.engine.Register(context.Background(), event.ID, model.RegisterRequest{SpotsCount: 3, PhoneNumber: phone(1)})
	if !errors.Is(err, ErrInvalidSpotsCount) {
		t.Fatalf("expected invalid spots, got %v", err)
	}
}

func TestCancelPromotesWaitlistExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 1, 1)

	holder := f.register(t, event.ID, phone(1), 1)
	waiter := f.register(t, event.ID, phone(2), 1)
	if waiter.Status != model.StatusWaitlist {
		t.Fatalf("expected waitlist, got %s", waiter.Status)
	}

	cancelled, err := f.engine.Cancel(ctx, holder.CancellationToken)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	select {
	case id := <-f.engine.PromotionSignals():
		if id != event.ID {
			t.Fatalf("unexpected promotion signal %q", id)
		}
	default:
		t.Fatal("expected promotion signal after cancel")
	}

	pending, err := f.engine.PendingPromotions(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].EventID != event.ID {
		t.Fatalf("expected outbox row for event, got %+v", pending)
	}

	var wg sync.WaitGroup
	results := make([][]model.Registration, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			promoted, err := f.engine.Promote(ctx, event.ID)
			if err != nil {
				t.Errorf("promote: %v", err)
			}
			results[i] = promoted
		}(i)
	}
	wg.Wait()

	total := 0
	for _, promoted := range results {
		for _, r := range promoted {
			if r.ID != waiter.ID {
				t.Fatalf("promoted unexpected registration %s", r.ID)
			}
			total++
		}
	}
	if total != 1 {
		t.Fatalf("expected exactly one promotion, got %d", total)
	}
	if got := f.notifier.count(model.LiveRegistrationPromoted); got != 1 {
		t.Fatalf("expected one promoted update, got %d", got)
	}

	if _, err := f.engine.Cancel(ctx, holder.CancellationToken); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("expected already cancelled, got %v", err)
	}
	if _, err := f.engine.Cancel(ctx, "not-a-token"); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown token, got %v", err)
	}
}

func TestPromoteIsFIFOWithoutSkipAhead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 2, 2)

	holder := f.register(t, event.ID, phone(1), 2)
	big := f.register(t, event.ID, phone(2), 2)
	small := f.register(t, event.ID, phone(3), 1)

	if _, err := f.engine.UpdateEventCapacity(ctx, event.ID, 3); err != nil {
		t.Fatalf("raise capacity: %v", err)
	}
	promoted, err := f.engine.Promote(ctx, event.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(promoted) != 0 {
		t.Fatalf("head of waitlist does not fit, expected no promotion, got %+v", promoted)
	}

	if _, err := f.engine.Cancel(ctx, holder.CancellationToken); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	promoted, err = f.engine.Promote(ctx, event.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(promoted) != 2 || promoted[0].ID != big.ID || promoted[1].ID != small.ID {
		t.Fatalf("expected FIFO promotion of big then small, got %+v", promoted)
	}

	again, err := f.engine.Promote(ctx, event.ID)
	if err != nil || len(again) != 0 {
		t.Fatalf("second promote must be a no-op, got %+v, %v", again, err)
	}
}

func TestPromoteFreesSingleSeatForEarliestEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 1, 1)

	holder := f.register(t, event.ID, phone(1), 1)
	t1 := f.register(t, event.ID, phone(2), 1)
	f.register(t, event.ID, phone(3), 1)
	f.register(t, event.ID, phone(4), 1)

	if _, err := f.engine.Cancel(ctx, holder.CancellationToken); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	promoted, err := f.engine.Promote(ctx, event.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(promoted) != 1 || promoted[0].ID != t1.ID {
		t.Fatalf("expected only the t1 entry promoted, got %+v", promoted)
	}
}

func TestUpdateEventCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 4, 2)
	f.register(t, event.ID, phone(1), 2)
	f.register(t, event.ID, phone(2), 1)

	if _, err := f.engine.UpdateEventCapacity(ctx, event.ID, 2); !errors.Is(err, ErrCapacityBelowConfirmed) {
		t.Fatalf("expected capacity below confirmed, got %v", err)
	}
	updated, err := f.engine.UpdateEventCapacity(ctx, event.ID, 3)
	if err != nil {
		t.Fatalf("lower to confirmed: %v", err)
	}
	if updated.Capacity != 3 {
		t.Fatalf("expected capacity 3, got %d", updated.Capacity)
	}
	pending, err := f.engine.PendingPromotions(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("decrease must not enqueue promotion, got %+v", pending)
	}
}

func TestSetEventStatusClosedIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 4, 1)

	if _, err := f.engine.SetEventStatus(ctx, event.ID, model.EventClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.engine.SetEventStatus(ctx, event.ID, model.EventOpen); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("expected closed to be final, got %v", err)
	}
	if _, err := f.engine.SetEventStatus(ctx, event.ID, "ARCHIVED"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestRestoreReadmitsThroughCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 1, 1)

	first := f.register(t, event.ID, phone(1), 1)
	if _, err := f.engine.Cancel(ctx, first.CancellationToken); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second := f.register(t, event.ID, phone(2), 1)
	if second.Status != model.StatusConfirmed {
		t.Fatalf("expected freed spot confirmed, got %s", second.Status)
	}

	restored, err := f.engine.Restore(ctx, first.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Status != model.StatusWaitlist {
		t.Fatalf("expected restore onto waitlist when full, got %s", restored.Status)
	}
	if _, err := f.engine.Restore(ctx, first.ID); !errors.Is(err, ErrNotCancelled) {
		t.Fatalf("expected not cancelled, got %v", err)
	}
}

func TestReEnqueueDuringSweepSurvivesAck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 2, 1)
	a := f.register(t, event.ID, phone(1), 1)
	b := f.register(t, event.ID, phone(2), 1)
	c := f.register(t, event.ID, phone(3), 1)
	if c.Status != model.StatusWaitlist {
		t.Fatalf("expected third party waitlisted, got %s", c.Status)
	}

	// Everything below happens at one clock instant.
	if _, err := f.engine.Cancel(ctx, a.CancellationToken); err != nil {
		t.Fatalf("cancel a: %v", err)
	}
	pending, err := f.engine.PendingPromotions(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one outbox row, got %+v, %v", pending, err)
	}
	promoted, err := f.engine.Promote(ctx, event.ID)
	if err != nil || len(promoted) != 1 || promoted[0].ID != c.ID {
		t.Fatalf("expected c promoted, got %+v, %v", promoted, err)
	}

	d, err := f.engine.Register(ctx, event.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(4)})
	if err != nil || d.Status != model.StatusWaitlist {
		t.Fatalf("expected d waitlisted, got %+v, %v", d, err)
	}
	if _, err := f.engine.Cancel(ctx, b.CancellationToken); err != nil {
		t.Fatalf("cancel b: %v", err)
	}
	if err := f.engine.AckPromotion(ctx, pending[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}

	remaining, err := f.engine.PendingPromotions(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(remaining) != 1 || remaining[0].EventID != event.ID {
		t.Fatalf("expected the re-enqueued row to survive the ack, got %+v", remaining)
	}
	if remaining[0].Version == pending[0].Version {
		t.Fatal("expected a new outbox version after re-enqueue")
	}

	promoted, err = f.engine.Promote(ctx, event.ID)
	if err != nil || len(promoted) != 1 || promoted[0].ID != d.ID {
		t.Fatalf("expected d promoted into the freed seat, got %+v, %v", promoted, err)
	}
	if err := f.engine.AckPromotion(ctx, remaining[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if left, _ := f.engine.PendingPromotions(ctx, 10); len(left) != 0 {
		t.Fatalf("expected empty outbox, got %+v", left)
	}
}

// conflictingStore fails every transaction with a retryable conflict.
type conflictingStore struct {
	repository.Store
	mu    sync.Mutex
	calls int
}

func (s *conflictingStore) InTx(context.Context, func(repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return repository.ErrConflict
}

func TestRetriesExhaustedReturnContention(t *testing.T) {
	base := newFixture(t)
	event := base.capacityEvent(t, 5, 1)

	store := &conflictingStore{Store: base.store}
	engine := NewEngine(store, Options{
		MaxRetries:             3,
		CriticalSectionTimeout: time.Second,
		Clock:                  base.clock,
	})
	_, err := engine.Register(context.Background(), event.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(1)})
	if !errors.Is(err, ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", store.calls)
	}
}
