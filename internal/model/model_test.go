package model

import (
	"testing"
	"time"
)

func TestBanActive(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name string
		ban  Ban
		want bool
	}{
		{"game count remaining", Ban{Kind: BanGameCount, RemainingEvents: 2}, true},
		{"game count exhausted", Ban{Kind: BanGameCount, RemainingEvents: 0}, false},
		{"date in future", Ban{Kind: BanDate, ExpiresAt: &later}, true},
		{"date expired", Ban{Kind: BanDate, ExpiresAt: &earlier}, false},
		{"date at expiry instant", Ban{Kind: BanDate, ExpiresAt: &now}, false},
		{"date missing expiry", Ban{Kind: BanDate}, false},
		{"lifted", Ban{Kind: BanGameCount, RemainingEvents: 3, LiftedAt: &earlier}, false},
		{"unknown kind", Ban{Kind: "FOREVER"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ban.Active(now); got != tt.want {
				t.Fatalf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		" +1 (555) 010-2030 ": "+15550102030",
		"555.010.2030":        "5550102030",
		"1+555":               "1555",
		"":                    "",
	}
	for in, want := range tests {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNoShow(t *testing.T) {
	done := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	completed := &Event{CompletedAt: &done}
	running := &Event{}

	reg := &Registration{Status: StatusConfirmed}
	if !reg.NoShow(completed) {
		t.Fatal("confirmed without check-in should be a no-show")
	}
	if reg.NoShow(running) {
		t.Fatal("no-shows only exist for completed events")
	}
	reg.CheckedInAt = &done
	if reg.NoShow(completed) {
		t.Fatal("checked-in registration is not a no-show")
	}
	if (&Registration{Status: StatusWaitlist}).NoShow(completed) {
		t.Fatal("waitlisted registration is not a no-show")
	}
}

func TestEventStatsRemaining(t *testing.T) {
	if got := (EventStats{ConfirmedSpots: 7}).Remaining(10); got != 3 {
		t.Fatalf("Remaining = %d, want 3", got)
	}
	if got := (EventStats{ConfirmedSpots: 12}).Remaining(10); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
}
