package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
)

const eventColumns = `id, name, description, event_type, capacity, max_spots_per_person,
	status, starts_at, completed_at, created_at`

const tableColumns = `t.id, t.event_id, t.name, t.capacity, t.min_order, t.allow_partial,
	t.status, t.table_order, t.created_at`

const registrationColumns = `id, event_id, table_id, spots_count, status, confirmation_code,
	cancellation_token_hash, name, phone_number, email, checked_in_at, created_at, updated_at`

const banColumns = `id, phone_number, email, kind, remaining_events, expires_at, reason, lifted_at, created_at`

// txn implements repository.Tx on a *sql.Tx. SQLite has no row locks;
// the Lock* methods read the row and rely on the single connection for
// exclusion.
type txn struct {
	q querier
}

func (t *txn) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return getEvent(ctx, t.q, eventID)
}

func (t *txn) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	return getTable(ctx, t.q, tableID)
}

func (t *txn) ActiveBans(ctx context.Context, phone, email string) ([]model.Ban, error) {
	return activeBans(ctx, t.q, phone, email)
}

func (t *txn) LockEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return getEvent(ctx, t.q, eventID)
}

func (t *txn) LockTable(ctx context.Context, tableID string) (*model.Table, error) {
	return getTable(ctx, t.q, tableID)
}

func (t *txn) LockRegistration(ctx context.Context, registrationID string) (*model.Registration, error) {
	return getRegistration(ctx, t.q, `WHERE id = ?`, registrationID)
}

func (t *txn) LockRegistrationByToken(ctx context.Context, tokenHash string) (*model.Registration, error) {
	return getRegistration(ctx, t.q, `WHERE cancellation_token_hash = ?`, tokenHash)
}

func (t *txn) LockRegistrationByCode(ctx context.Context, eventID, code string) (*model.Registration, error) {
	return getRegistration(ctx, t.q, `WHERE event_id = ? AND confirmation_code = ?`, eventID, code)
}

func (t *txn) ConfirmedSpots(ctx context.Context, eventID string) (int, error) {
	var used int
	err := t.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(spots_count), 0) FROM registrations
		 WHERE event_id = ? AND status = 'CONFIRMED'`, eventID,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum confirmed spots: %w", mapError(err))
	}
	return used, nil
}

func (t *txn) TableSeatsUsed(ctx context.Context, tableID string) (int, error) {
	var used int
	err := t.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(spots_count), 0) FROM registrations
		 WHERE table_id = ? AND status = 'CONFIRMED'`, tableID,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum table seats: %w", mapError(err))
	}
	return used, nil
}

func (t *txn) ConfirmationCodeExists(ctx context.Context, eventID, code string) (bool, error) {
	var found int
	err := t.q.QueryRowContext(ctx,
		`SELECT 1 FROM registrations WHERE event_id = ? AND confirmation_code = ?`, eventID, code,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check confirmation code: %w", mapError(err))
	}
	return true, nil
}

func (t *txn) HasActiveRegistration(ctx context.Context, eventID, phone string) (bool, error) {
	var found int
	err := t.q.QueryRowContext(ctx,
		`SELECT 1 FROM registrations
		 WHERE event_id = ? AND phone_number = ? AND status <> 'CANCELLED'`, eventID, phone,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", mapError(err))
	}
	return true, nil
}

func (t *txn) OldestWaitlisted(ctx context.Context, eventID string) (*model.Registration, error) {
	return getRegistration(ctx, t.q,
		`WHERE event_id = ? AND status = 'WAITLIST' ORDER BY created_at, seq LIMIT 1`, eventID)
}

func (t *txn) InsertRegistration(ctx context.Context, r *model.Registration) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, r.TableID, r.SpotsCount, string(r.Status), r.ConfirmationCode,
		r.TokenHash, r.Name, r.PhoneNumber, r.Email, nullMillis(r.CheckedInAt),
		toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", mapError(err))
	}
	return nil
}

func (t *txn) UpdateRegistrationStatus(ctx context.Context, registrationID string, status model.RegistrationStatus, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE registrations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(at), registrationID)
	if err != nil {
		return fmt.Errorf("update registration status: %w", mapError(err))
	}
	return requireAffected(res)
}

func (t *txn) MarkCheckedIn(ctx context.Context, registrationID string, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE registrations SET checked_in_at = ?, updated_at = ?
		 WHERE id = ? AND checked_in_at IS NULL`,
		toMillis(at), toMillis(at), registrationID)
	if err != nil {
		return fmt.Errorf("mark checked in: %w", mapError(err))
	}
	return requireAffected(res)
}

func (t *txn) UpdateEventCapacity(ctx context.Context, eventID string, capacity int) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE events SET capacity = ? WHERE id = ?`, capacity, eventID)
	if err != nil {
		return fmt.Errorf("update capacity: %w", mapError(err))
	}
	return requireAffected(res)
}

func (t *txn) UpdateEventStatus(ctx context.Context, eventID string, status model.EventStatus, completedAt *time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE events SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		string(status), nullMillis(completedAt), eventID)
	if err != nil {
		return fmt.Errorf("update event status: %w", mapError(err))
	}
	return requireAffected(res)
}

func (t *txn) UpdateTable(ctx context.Context, table *model.Table) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE event_tables SET name = ?, capacity = ?, min_order = ?, allow_partial = ?,
		                         status = ?, table_order = ?
		 WHERE id = ?`,
		table.Name, table.Capacity, table.MinOrder, table.AllowPartial,
		string(table.Status), table.TableOrder, table.ID)
	if err != nil {
		return fmt.Errorf("update table: %w", mapError(err))
	}
	return requireAffected(res)
}

func (t *txn) EnqueuePromotion(ctx context.Context, eventID string, at time.Time) error {
	var version int64
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO promotion_version_seq (id, value) VALUES (1, 1)
		 ON CONFLICT (id) DO UPDATE SET value = value + 1
		 RETURNING value`,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("next promotion version: %w", mapError(err))
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO promotion_queue (event_id, enqueued_at, version) VALUES (?, ?, ?)
		 ON CONFLICT (event_id) DO UPDATE SET enqueued_at = excluded.enqueued_at, version = excluded.version`,
		eventID, toMillis(at), version)
	if err != nil {
		return fmt.Errorf("enqueue promotion: %w", mapError(err))
	}
	return nil
}

func (t *txn) RecordBanExposure(ctx context.Context, banID, eventID string, at time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO ban_event_exposure (ban_id, event_id, recorded_at) VALUES (?, ?, ?)`,
		banID, eventID, toMillis(at))
	if err != nil {
		return fmt.Errorf("record ban exposure: %w", mapError(err))
	}
	return nil
}

func (t *txn) ConsumeGameCountBans(ctx context.Context, eventID string, cutoff time.Time) (int, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT b.id FROM bans b
		 WHERE b.kind = 'GAME_COUNT' AND b.lifted_at IS NULL AND b.remaining_events > 0 AND b.created_at < ?
		   AND (EXISTS (SELECT 1 FROM ban_event_exposure x
		                 WHERE x.ban_id = b.id AND x.event_id = ? AND x.recorded_at <= ?)
		        OR EXISTS (SELECT 1 FROM registrations r
		                    WHERE r.event_id = ? AND r.status <> 'CANCELLED'
		                      AND (r.phone_number = b.phone_number
		                           OR (b.email IS NOT NULL AND b.email <> '' AND r.email = b.email))))`,
		toMillis(cutoff), eventID, toMillis(cutoff), eventID)
	if err != nil {
		return 0, fmt.Errorf("select game count bans: %w", mapError(err))
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan ban id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	consumed := 0
	for _, id := range ids {
		res, err := t.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO ban_event_ledger (ban_id, event_id, applied_at) VALUES (?, ?, ?)`,
			id, eventID, toMillis(cutoff))
		if err != nil {
			return 0, fmt.Errorf("record ban ledger: %w", mapError(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if _, err := t.q.ExecContext(ctx,
			`UPDATE bans SET remaining_events = remaining_events - 1 WHERE id = ?`, id,
		); err != nil {
			return 0, fmt.Errorf("decrement ban: %w", mapError(err))
		}
		consumed++
	}
	return consumed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	var eventType, status string
	var startsAt, completedAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &eventType, &e.Capacity, &e.MaxSpotsPerPerson,
		&status, &startsAt, &completedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", mapError(err))
	}
	e.Type = model.EventType(eventType)
	e.Status = model.EventStatus(status)
	e.StartsAt = timePtr(startsAt)
	e.CompletedAt = timePtr(completedAt)
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}

func getEvent(ctx context.Context, q querier, eventID string) (*model.Event, error) {
	return scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, eventID))
}

func getTable(ctx context.Context, q querier, tableID string) (*model.Table, error) {
	var t model.Table
	var status string
	var createdAt int64
	err := q.QueryRowContext(ctx,
		`SELECT `+tableColumns+` FROM event_tables t WHERE t.id = ?`, tableID,
	).Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.MinOrder, &t.AllowPartial,
		&status, &t.TableOrder, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get table: %w", mapError(err))
	}
	t.Status = model.TableStatus(status)
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

func scanRegistration(row rowScanner) (*model.Registration, error) {
	var r model.Registration
	var tableID sql.NullString
	var status string
	var checkedInAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&r.ID, &r.EventID, &tableID, &r.SpotsCount, &status, &r.ConfirmationCode,
		&r.TokenHash, &r.Name, &r.PhoneNumber, &r.Email, &checkedInAt, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan registration: %w", mapError(err))
	}
	if tableID.Valid {
		r.TableID = &tableID.String
	}
	r.Status = model.RegistrationStatus(status)
	r.CheckedInAt = timePtr(checkedInAt)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

func getRegistration(ctx context.Context, q querier, where string, args ...any) (*model.Registration, error) {
	return scanRegistration(q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations `+where, args...))
}

func listRegistrations(ctx context.Context, q querier, where string, args ...any) ([]model.Registration, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+registrationColumns+` FROM registrations `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", mapError(err))
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *r)
	}
	return regs, rows.Err()
}

func activeBans(ctx context.Context, q querier, phone, email string) ([]model.Ban, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return queryBans(ctx, q, `WHERE lifted_at IS NULL AND phone_number = ?`, phone)
	}
	return queryBans(ctx, q, `WHERE lifted_at IS NULL AND (phone_number = ? OR email = ?)`, phone, email)
}

func queryBans(ctx context.Context, q querier, where string, args ...any) ([]model.Ban, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+banColumns+` FROM bans `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", mapError(err))
	}
	defer rows.Close()

	var bans []model.Ban
	for rows.Next() {
		var b model.Ban
		var email sql.NullString
		var kind string
		var expiresAt, liftedAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&b.ID, &b.PhoneNumber, &email, &kind, &b.RemainingEvents,
			&expiresAt, &b.Reason, &liftedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		if email.Valid {
			b.Email = &email.String
		}
		b.Kind = model.BanKind(kind)
		b.ExpiresAt = timePtr(expiresAt)
		b.LiftedAt = timePtr(liftedAt)
		b.CreatedAt = fromMillis(createdAt)
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

var _ repository.Tx = (*txn)(nil)
