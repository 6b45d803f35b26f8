package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
)

func TestCheckInOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 2, 1)

	confirmed := f.register(t, event.ID, phone(1), 1)
	cancelled := f.register(t, event.ID, phone(2), 1)
	waiting := f.register(t, event.ID, phone(3), 1)
	if _, err := f.engine.Cancel(ctx, cancelled.CancellationToken); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if waiting.Status != model.StatusWaitlist {
		t.Fatalf("expected waitlist, got %s", waiting.Status)
	}

	tests := []struct {
		name string
		code string
		want model.CheckInOutcome
	}{
		{"unknown code", "ZZZZZZ", model.CheckInNotRegistered},
		{"empty code", "  ", model.CheckInNotRegistered},
		{"cancelled", cancelled.ConfirmationCode, model.CheckInCancelled},
		{"waitlisted", waiting.ConfirmationCode, model.CheckInWaitlisted},
		{"lower case", strings.ToLower(confirmed.ConfirmationCode), model.CheckInOK},
		{"second scan", confirmed.ConfirmationCode, model.CheckInAlreadyCheckedIn},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := f.engine.CheckIn(ctx, event.ID, tc.code)
			if err != nil {
				t.Fatalf("check in: %v", err)
			}
			if result.Outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, result.Outcome)
			}
		})
	}

	again, err := f.engine.CheckIn(ctx, event.ID, confirmed.ConfirmationCode)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if again.CheckedInAt == nil || !again.CheckedInAt.Equal(testEpoch.Add(3*time.Second)) {
		t.Fatalf("expected original check-in timestamp, got %v", again.CheckedInAt)
	}
	if got := f.notifier.count(model.LiveCheckIn); got != 1 {
		t.Fatalf("expected one checkin update, got %d", got)
	}
}

func TestCheckInConcurrentScansYieldOneOK(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 5, 1)
	reg := f.register(t, event.ID, phone(1), 1)

	const scans = 6
	outcomes := make(chan model.CheckInOutcome, scans)
	var wg sync.WaitGroup
	for range scans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.engine.CheckIn(ctx, event.ID, reg.ConfirmationCode)
			if err != nil {
				t.Errorf("check in: %v", err)
				return
			}
			outcomes <- result.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[model.CheckInOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	if counts[model.CheckInOK] != 1 || counts[model.CheckInAlreadyCheckedIn] != scans-1 {
		t.Fatalf("expected one OK and %d ALREADY_CHECKED_IN, got %v", scans-1, counts)
	}
}

func TestBanCreatedAfterRegistrationBlocksCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 5, 1)
	reg := f.register(t, event.ID, phone(1), 1)

	expires := f.clock.Now().Add(48 * time.Hour)
	if _, err := f.engine.CreateBan(ctx, model.CreateBanRequest{
		PhoneNumber: phone(1),
		Kind:        model.BanDate,
		ExpiresAt:   &expires,
		Reason:      "no-show streak",
	}); err != nil {
		t.Fatalf("create ban: %v", err)
	}

	result, err := f.engine.CheckIn(ctx, event.ID, reg.ConfirmationCode)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if result.Outcome != model.CheckInBanned {
		t.Fatalf("expected banned, got %s", result.Outcome)
	}

	f.clock.Advance(49 * time.Hour)
	result, err = f.engine.CheckIn(ctx, event.ID, reg.ConfirmationCode)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if result.Outcome != model.CheckInOK {
		t.Fatalf("expected OK once the ban expired, got %s", result.Outcome)
	}
}

func TestGameCountBanConsumedOncePerCompletedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ban, err := f.engine.CreateBan(ctx, model.CreateBanRequest{
		PhoneNumber:     phone(7),
		Email:           "Player@Example.com",
		Kind:            model.BanGameCount,
		RemainingEvents: 1,
		Reason:          "abusive behaviour",
	})
	if err != nil {
		t.Fatalf("create ban: %v", err)
	}
	f.clock.Advance(time.Minute)

	first := f.capacityEvent(t, 5, 1)
	_, err = f.engine.Register(ctx, first.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(7)})
	var banned *BannedError
	if !errors.As(err, &banned) || banned.Reason != "abusive behaviour" || banned.BanID != ban.ID {
		t.Fatalf("expected banned error with reason, got %v", err)
	}
	_, err = f.engine.Register(ctx, first.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(8), Email: "player@example.com"})
	if !errors.Is(err, ErrBanned) {
		t.Fatalf("expected ban matched by email, got %v", err)
	}

	result, err := f.engine.CompleteEvent(ctx, first.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.BansConsumed != 1 || !result.Event.Completed() {
		t.Fatalf("expected one ban consumed, got %+v", result)
	}
	again, err := f.engine.CompleteEvent(ctx, first.ID)
	if err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if again.BansConsumed != 0 {
		t.Fatalf("completion must be idempotent, consumed %d", again.BansConsumed)
	}

	f.clock.Advance(time.Hour)
	next := f.capacityEvent(t, 5, 1)
	reg, err := f.engine.Register(ctx, next.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(7)})
	if err != nil {
		t.Fatalf("expected exhausted ban to be inert, got %v", err)
	}
	if reg.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", reg.Status)
	}

	check, err := f.engine.CheckBan(ctx, phone(7), "")
	if err != nil {
		t.Fatalf("check ban: %v", err)
	}
	if check.Blocked {
		t.Fatal("expected exhausted ban not to block")
	}
}

func TestLiftBanUnblocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ban, err := f.engine.CreateBan(ctx, model.CreateBanRequest{
		PhoneNumber:     phone(1),
		Kind:            model.BanGameCount,
		RemainingEvents: 3,
	})
	if err != nil {
		t.Fatalf("create ban: %v", err)
	}
	lifted, err := f.engine.LiftBan(ctx, ban.ID)
	if err != nil {
		t.Fatalf("lift: %v", err)
	}
	if lifted.LiftedAt == nil {
		t.Fatal("expected lifted_at to be set")
	}
	if _, err := f.engine.LiftBan(ctx, ban.ID); !IsNotFound(err) {
		t.Fatalf("expected lifting twice to report not found, got %v", err)
	}
	bans, err := f.engine.ListBans(ctx, phone(1))
	if err != nil || len(bans) != 1 {
		t.Fatalf("expected ban history kept, got %+v, %v", bans, err)
	}

	if _, err := f.engine.CreateBan(ctx, model.CreateBanRequest{PhoneNumber: phone(1), Kind: model.BanGameCount}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid remaining events, got %v", err)
	}
	past := f.clock.Now().Add(-time.Hour)
	if _, err := f.engine.CreateBan(ctx, model.CreateBanRequest{PhoneNumber: phone(1), Kind: model.BanDate, ExpiresAt: &past}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid expiry, got %v", err)
	}
}

func TestNoShowsAfterCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 3, 1)
	present := f.register(t, event.ID, phone(1), 1)
	absent := f.register(t, event.ID, phone(2), 1)

	if _, err := f.engine.NoShows(ctx, event.ID); !errors.Is(err, ErrEventNotCompleted) {
		t.Fatalf("expected not completed, got %v", err)
	}
	if _, err := f.engine.CheckIn(ctx, event.ID, present.ConfirmationCode); err != nil {
		t.Fatalf("check in: %v", err)
	}
	result, err := f.engine.CompleteEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.NoShows != 1 {
		t.Fatalf("expected 1 no-show, got %d", result.NoShows)
	}
	noShows, err := f.engine.NoShows(ctx, event.ID)
	if err != nil {
		t.Fatalf("no-shows: %v", err)
	}
	if len(noShows) != 1 || noShows[0].ID != absent.ID {
		t.Fatalf("expected absent registration, got %+v", noShows)
	}

	if _, err := f.engine.Register(ctx, event.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(3)}); !errors.Is(err, ErrEventNotOpen) {
		t.Fatalf("expected completed event closed to registration, got %v", err)
	}
}

func (f *fixture) remainingEvents(t *testing.T, phone, banID string) int {
	t.Helper()
	bans, err := f.engine.ListBans(context.Background(), phone)
	if err != nil {
		t.Fatalf("list bans: %v", err)
	}
	for _, b := range bans {
		if b.ID == banID {
			return b.RemainingEvents
		}
	}
	t.Fatalf("ban %s not found", banID)
	return 0
}

func TestGameCountBanOnlyConsumedByEventsOfTheIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ban, err := f.engine.CreateBan(ctx, model.CreateBanRequest{
		PhoneNumber:     phone(7),
		Kind:            model.BanGameCount,
		RemainingEvents: 2,
	})
	if err != nil {
		t.Fatalf("create ban: %v", err)
	}
	f.clock.Advance(time.Minute)

	unrelated := f.capacityEvent(t, 5, 1)
	f.register(t, unrelated.ID, phone(1), 1)
	result, err := f.engine.CompleteEvent(ctx, unrelated.ID)
	if err != nil {
		t.Fatalf("complete unrelated: %v", err)
	}
	if result.BansConsumed != 0 {
		t.Fatalf("expected no ban consumed by an unrelated event, got %d", result.BansConsumed)
	}

	empty := f.tableEvent(t)
	if result, err = f.engine.CompleteEvent(ctx, empty.ID); err != nil {
		t.Fatalf("complete empty: %v", err)
	}
	if result.BansConsumed != 0 {
		t.Fatalf("expected no ban consumed by an empty event, got %d", result.BansConsumed)
	}
	if got := f.remainingEvents(t, phone(7), ban.ID); got != 2 {
		t.Fatalf("expected ban untouched, remaining %d", got)
	}

	blocked := f.capacityEvent(t, 5, 1)
	if _, err := f.engine.Register(ctx, blocked.ID, model.RegisterRequest{SpotsCount: 1, PhoneNumber: phone(7)}); !errors.Is(err, ErrBanned) {
		t.Fatalf("expected banned, got %v", err)
	}
	f.clock.Advance(time.Minute)
	if result, err = f.engine.CompleteEvent(ctx, blocked.ID); err != nil {
		t.Fatalf("complete blocked: %v", err)
	}
	if result.BansConsumed != 1 {
		t.Fatalf("expected the turned-away identity's ban consumed, got %d", result.BansConsumed)
	}
	if got := f.remainingEvents(t, phone(7), ban.ID); got != 1 {
		t.Fatalf("expected remaining 1, got %d", got)
	}
}

func TestGameCountBanConsumedByRegisteredIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.capacityEvent(t, 5, 1)
	reg := f.register(t, event.ID, phone(3), 1)

	ban, err := f.engine.CreateBan(ctx, model.CreateBanRequest{
		PhoneNumber:     phone(3),
		Kind:            model.BanGameCount,
		RemainingEvents: 3,
	})
	if err != nil {
		t.Fatalf("create ban: %v", err)
	}
	f.clock.Advance(time.Minute)

	check, err := f.engine.CheckIn(ctx, event.ID, reg.ConfirmationCode)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if check.Outcome != model.CheckInBanned {
		t.Fatalf("expected banned at the door, got %s", check.Outcome)
	}
	// A second blocked scan must not count twice.
	if _, err := f.engine.CheckIn(ctx, event.ID, reg.ConfirmationCode); err != nil {
		t.Fatalf("check in again: %v", err)
	}

	result, err := f.engine.CompleteEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.BansConsumed != 1 {
		t.Fatalf("expected one ban consumed, got %d", result.BansConsumed)
	}
	if got := f.remainingEvents(t, phone(3), ban.ID); got != 2 {
		t.Fatalf("expected remaining 2, got %d", got)
	}
}
