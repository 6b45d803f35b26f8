// Package postgres implements the admission store on PostgreSQL using pgx
// directly (no ORM).
//
// Critical sections use pessimistic row locks. SELECT ... FOR UPDATE takes
// an exclusive lock on the event, table, or registration row the moment
// it executes; a concurrent transaction issuing the same SELECT ... FOR
// UPDATE waits until the first commits or rolls back. Under READ
// COMMITTED each later statement sees rows committed before it started,
// so the aggregate read after the lock always reflects every earlier
// admission. Each transaction sets lock_timeout so a wait can never be
// indefinite; a timeout surfaces as repository.ErrConflict and is retried
// by the engine.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists admission state in PostgreSQL.
type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore constructs a Store. lockTimeout bounds every row-lock wait.
func NewStore(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InTx runs fn in a READ COMMITTED transaction with a bounded lock wait.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	pgTx, err := s.db.Begin(ctx)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = pgTx.Rollback(ctx)
		}
	}()

	if s.lockTimeout > 0 {
		if _, err = pgTx.Exec(ctx,
			`SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()),
		); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err = fn(&txn{q: pgTx}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return getEvent(ctx, s.db, eventID, "")
}

// GetTable returns a single table or ErrNotFound.
func (s *Store) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	return getTable(ctx, s.db, tableID, "")
}

// ActiveBans returns unlifted bans for the identity.
func (s *Store) ActiveBans(ctx context.Context, phone, email string) ([]model.Ban, error) {
	return activeBans(ctx, s.db, phone, email)
}

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO events (id, name, description, event_type, capacity, max_spots_per_person,
		                     status, starts_at, completed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Name, e.Description, string(e.Type), e.Capacity, e.MaxSpotsPerPerson,
		string(e.Status), e.StartsAt, e.CompletedAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", mapError(err))
	}
	return nil
}

// ListEvents returns all events ordered by creation time descending.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// EventStats recomputes the derived counters of an event.
func (s *Store) EventStats(ctx context.Context, eventID string) (model.EventStats, error) {
	var stats model.EventStats
	err := s.db.QueryRow(ctx,
		`SELECT
		   COALESCE(SUM(spots_count) FILTER (WHERE status = 'CONFIRMED'), 0),
		   COALESCE(SUM(spots_count) FILTER (WHERE status = 'WAITLIST'), 0),
		   COUNT(*) FILTER (WHERE status = 'WAITLIST'),
		   COUNT(*) FILTER (WHERE status = 'CONFIRMED' AND checked_in_at IS NOT NULL)
		 FROM registrations WHERE event_id = $1`,
		eventID,
	).Scan(&stats.ConfirmedSpots, &stats.WaitlistedSpots, &stats.WaitlistLength, &stats.CheckedIn)
	if err != nil {
		return model.EventStats{}, fmt.Errorf("event stats: %w", err)
	}
	return stats, nil
}

// CreateTable inserts a new table.
func (s *Store) CreateTable(ctx context.Context, t *model.Table) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO event_tables (id, event_id, name, capacity, min_order, allow_partial,
		                           status, table_order, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.EventID, t.Name, t.Capacity, t.MinOrder, t.AllowPartial,
		string(t.Status), t.TableOrder, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert table: %w", mapError(err))
	}
	return nil
}

// ListTables returns the tables of an event with seats used recomputed.
func (s *Store) ListTables(ctx context.Context, eventID string) ([]model.Table, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+tableColumns+`, COALESCE(SUM(r.spots_count) FILTER (WHERE r.status = 'CONFIRMED'), 0)
		 FROM event_tables t
		 LEFT JOIN registrations r ON r.table_id = t.id
		 WHERE t.event_id = $1
		 GROUP BY t.id
		 ORDER BY t.table_order, t.name`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []model.Table
	for rows.Next() {
		var t model.Table
		var status string
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.MinOrder, &t.AllowPartial,
			&status, &t.TableOrder, &t.CreatedAt, &t.SeatsUsed); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.Status = model.TableStatus(status)
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// GetRegistration returns a single registration or ErrNotFound.
func (s *Store) GetRegistration(ctx context.Context, registrationID string) (*model.Registration, error) {
	return getRegistration(ctx, s.db, `WHERE id = $1`, registrationID)
}

// GetRegistrationByCode resolves a confirmation code within an event.
func (s *Store) GetRegistrationByCode(ctx context.Context, eventID, code string) (*model.Registration, error) {
	return getRegistration(ctx, s.db, `WHERE event_id = $1 AND confirmation_code = $2`, eventID, code)
}

// ListRegistrations returns all registrations of an event in arrival order.
func (s *Store) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db, `WHERE event_id = $1 ORDER BY created_at, seq`, eventID)
}

// ListNoShows returns CONFIRMED registrations that never checked in.
func (s *Store) ListNoShows(ctx context.Context, eventID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db,
		`WHERE event_id = $1 AND status = 'CONFIRMED' AND checked_in_at IS NULL ORDER BY created_at, seq`,
		eventID)
}

// CreateBan inserts a new ban.
func (s *Store) CreateBan(ctx context.Context, b *model.Ban) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO bans (`+banColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.PhoneNumber, b.Email, string(b.Kind), b.RemainingEvents,
		b.ExpiresAt, b.Reason, b.LiftedAt, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ban: %w", mapError(err))
	}
	return nil
}

// GetBan returns a single ban or ErrNotFound.
func (s *Store) GetBan(ctx context.Context, banID string) (*model.Ban, error) {
	bans, err := queryBans(ctx, s.db, `WHERE id = $1`, banID)
	if err != nil {
		return nil, err
	}
	if len(bans) == 0 {
		return nil, repository.ErrNotFound
	}
	return &bans[0], nil
}

// ListBans returns every ban of a phone number, lifted or not.
func (s *Store) ListBans(ctx context.Context, phone string) ([]model.Ban, error) {
	return queryBans(ctx, s.db, `WHERE phone_number = $1 ORDER BY created_at DESC`, phone)
}

// LiftBan stamps lifted_at on an active ban.
func (s *Store) LiftBan(ctx context.Context, banID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE bans SET lifted_at = $1 WHERE id = $2 AND lifted_at IS NULL`, at, banID)
	if err != nil {
		return fmt.Errorf("lift ban: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// PendingPromotions returns the oldest outbox rows.
func (s *Store) PendingPromotions(ctx context.Context, limit int) ([]repository.PendingPromotion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT event_id, enqueued_at, version FROM promotion_queue ORDER BY enqueued_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending promotions: %w", err)
	}
	defer rows.Close()

	var pending []repository.PendingPromotion
	for rows.Next() {
		var p repository.PendingPromotion
		if err := rows.Scan(&p.EventID, &p.EnqueuedAt, &p.Version); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// AckPromotion removes a processed outbox row unless its version moved on.
func (s *Store) AckPromotion(ctx context.Context, p repository.PendingPromotion) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM promotion_queue WHERE event_id = $1 AND version = $2`,
		p.EventID, p.Version)
	if err != nil {
		return fmt.Errorf("ack promotion: %w", err)
	}
	return nil
}

// mapError translates Postgres failures into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %v", repository.ErrConflict, err)
	case "23505":
		switch pgErr.ConstraintName {
		case "registrations_event_code_key":
			return fmt.Errorf("%w: %v", repository.ErrDuplicateCode, err)
		case "registrations_event_phone_active":
			return fmt.Errorf("%w: %v", repository.ErrDuplicatePhone, err)
		}
	}
	return err
}

var _ repository.Store = (*Store)(nil)
