// Package sqlite provides a SQLite-backed implementation of the admission
// store, used for local development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/database"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists admission state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTx runs fn inside a transaction. The single connection serialises
// transactions, so every Lock* call is already exclusive.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(&txn{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return getEvent(ctx, s.db, eventID)
}

// GetTable returns a single table or ErrNotFound.
func (s *Store) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	return getTable(ctx, s.db, tableID)
}

// ActiveBans returns unlifted bans for the identity.
func (s *Store) ActiveBans(ctx context.Context, phone, email string) ([]model.Ban, error) {
	return activeBans(ctx, s.db, phone, email)
}

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, name, description, event_type, capacity, max_spots_per_person,
		                     status, starts_at, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Description, string(e.Type), e.Capacity, e.MaxSpotsPerPerson,
		string(e.Status), nullMillis(e.StartsAt), nullMillis(e.CompletedAt), toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", mapError(err))
	}
	return nil
}

// ListEvents returns all events ordered by creation time descending.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id`)
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
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN status = 'CONFIRMED' THEN spots_count END), 0),
		   COALESCE(SUM(CASE WHEN status = 'WAITLIST' THEN spots_count END), 0),
		   COUNT(CASE WHEN status = 'WAITLIST' THEN 1 END),
		   COUNT(CASE WHEN status = 'CONFIRMED' AND checked_in_at IS NOT NULL THEN 1 END)
		 FROM registrations WHERE event_id = ?`,
		eventID,
	).Scan(&stats.ConfirmedSpots, &stats.WaitlistedSpots, &stats.WaitlistLength, &stats.CheckedIn)
	if err != nil {
		return model.EventStats{}, fmt.Errorf("event stats: %w", err)
	}
	return stats, nil
}

// CreateTable inserts a new table.
func (s *Store) CreateTable(ctx context.Context, t *model.Table) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_tables (id, event_id, name, capacity, min_order, allow_partial,
		                           status, table_order, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EventID, t.Name, t.Capacity, t.MinOrder, t.AllowPartial,
		string(t.Status), t.TableOrder, toMillis(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert table: %w", mapError(err))
	}
	return nil
}

// ListTables returns the tables of an event with seats used recomputed.
func (s *Store) ListTables(ctx context.Context, eventID string) ([]model.Table, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tableColumns+`,
		        (SELECT COALESCE(SUM(r.spots_count), 0) FROM registrations r
		          WHERE r.table_id = t.id AND r.status = 'CONFIRMED')
		 FROM event_tables t
		 WHERE t.event_id = ?
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
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.MinOrder, &t.AllowPartial,
			&status, &t.TableOrder, &createdAt, &t.SeatsUsed); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.Status = model.TableStatus(status)
		t.CreatedAt = fromMillis(createdAt)
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// GetRegistration returns a single registration or ErrNotFound.
func (s *Store) GetRegistration(ctx context.Context, registrationID string) (*model.Registration, error) {
	return getRegistration(ctx, s.db, `WHERE id = ?`, registrationID)
}

// GetRegistrationByCode resolves a confirmation code within an event.
func (s *Store) GetRegistrationByCode(ctx context.Context, eventID, code string) (*model.Registration, error) {
	return getRegistration(ctx, s.db, `WHERE event_id = ? AND confirmation_code = ?`, eventID, code)
}

// ListRegistrations returns all registrations of an event in arrival order.
func (s *Store) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db,
		`WHERE event_id = ? ORDER BY created_at, seq`, eventID)
}

// ListNoShows returns CONFIRMED registrations that never checked in.
func (s *Store) ListNoShows(ctx context.Context, eventID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db,
		`WHERE event_id = ? AND status = 'CONFIRMED' AND checked_in_at IS NULL ORDER BY created_at, seq`,
		eventID)
}

// CreateBan inserts a new ban.
func (s *Store) CreateBan(ctx context.Context, b *model.Ban) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bans (id, phone_number, email, kind, remaining_events, expires_at, reason, lifted_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.PhoneNumber, b.Email, string(b.Kind), b.RemainingEvents,
		nullMillis(b.ExpiresAt), b.Reason, nullMillis(b.LiftedAt), toMillis(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert ban: %w", mapError(err))
	}
	return nil
}

// GetBan returns a single ban or ErrNotFound.
func (s *Store) GetBan(ctx context.Context, banID string) (*model.Ban, error) {
	bans, err := queryBans(ctx, s.db, `WHERE id = ?`, banID)
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
	return queryBans(ctx, s.db, `WHERE phone_number = ? ORDER BY created_at DESC`, phone)
}

// LiftBan stamps lifted_at on an active ban.
func (s *Store) LiftBan(ctx context.Context, banID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bans SET lifted_at = ? WHERE id = ? AND lifted_at IS NULL`, toMillis(at), banID)
	if err != nil {
		return fmt.Errorf("lift ban: %w", err)
	}
	return requireAffected(res)
}

// PendingPromotions returns the oldest outbox rows.
func (s *Store) PendingPromotions(ctx context.Context, limit int) ([]repository.PendingPromotion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, enqueued_at, version FROM promotion_queue ORDER BY enqueued_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending promotions: %w", err)
	}
	defer rows.Close()

	var pending []repository.PendingPromotion
	for rows.Next() {
		var p repository.PendingPromotion
		var at int64
		if err := rows.Scan(&p.EventID, &at, &p.Version); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		p.EnqueuedAt = fromMillis(at)
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// AckPromotion removes a processed outbox row unless its version moved on.
func (s *Store) AckPromotion(ctx context.Context, p repository.PendingPromotion) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM promotion_queue WHERE event_id = ? AND version = ?`,
		p.EventID, p.Version)
	if err != nil {
		return fmt.Errorf("ack promotion: %w", err)
	}
	return nil
}

// mapError translates SQLite failures into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", repository.ErrConflict, err)
		}
	}
	message := err.Error()
	if strings.Contains(message, "UNIQUE constraint failed") {
		switch {
		case strings.Contains(message, "registrations.confirmation_code"):
			return fmt.Errorf("%w: %v", repository.ErrDuplicateCode, err)
		case strings.Contains(message, "registrations.phone_number"):
			return fmt.Errorf("%w: %v", repository.ErrDuplicatePhone, err)
		}
	}
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func timePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

var _ repository.Store = (*Store)(nil)
