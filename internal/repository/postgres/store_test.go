package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/event-admission/internal/database"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/event-admission/internal/service"
)

// newEngine connects to TEST_DATABASE_URL and skips when it is unset.
// Every test works on freshly created events, so a shared database is fine.
func newEngine(t *testing.T) *service.Engine {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := database.MigratePostgres(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return service.NewEngine(postgres.NewStore(pool, 2*time.Second), service.Options{
		MaxRetries:             20,
		CriticalSectionTimeout: 10 * time.Second,
	})
}

func TestConcurrentAdmissionNeverOverbooks(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	event, err := engine.CreateEvent(ctx, model.CreateEventRequest{
		Name:              "Postgres Rush",
		Type:              model.EventCapacityBased,
		Capacity:          10,
		MaxSpotsPerPerson: 2,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	const parties = 15
	var wg sync.WaitGroup
	errs := make(chan error, parties)
	for i := range parties {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Register(ctx, event.ID, model.RegisterRequest{
				SpotsCount:  1,
				Name:        "guest",
				PhoneNumber: fmt.Sprintf("+1666%07d", i),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	detail, err := engine.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if detail.Stats.ConfirmedSpots != 10 || detail.Stats.WaitlistedSpots != 5 {
		t.Fatalf("expected 10 confirmed / 5 waitlisted, got %+v", detail.Stats)
	}
}

func TestDuplicatePhoneRejected(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	event, err := engine.CreateEvent(ctx, model.CreateEventRequest{
		Name:     "Postgres Duplicate",
		Type:     model.EventCapacityBased,
		Capacity: 5,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	req := model.RegisterRequest{SpotsCount: 1, Name: "guest", PhoneNumber: "+16660000999"}
	if _, err := engine.Register(ctx, event.ID, req); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := engine.Register(ctx, event.ID, req); !errors.Is(err, service.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}
