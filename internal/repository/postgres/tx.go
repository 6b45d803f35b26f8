package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, name, description, event_type, capacity, max_spots_per_person,
	status, starts_at, completed_at, created_at`

const tableColumns = `t.id, t.event_id, t.name, t.capacity, t.min_order, t.allow_partial,
	t.status, t.table_order, t.created_at`

const registrationColumns = `id, event_id, table_id, spots_count, status, confirmation_code,
	cancellation_token_hash, name, phone_number, email, checked_in_at, created_at, updated_at`

const banColumns = `id, phone_number, email, kind, remaining_events, expires_at, reason, lifted_at, created_at`

const forUpdate = " FOR UPDATE"

type txn struct {
	q querier
}

func (t *txn) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return getEvent(ctx, t.q, eventID, "")
}

func (t *txn) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	return getTable(ctx, t.q, tableID, "")
}

func (t *txn) ActiveBans(ctx context.Context, phone, email string) ([]model.Ban, error) {
	return activeBans(ctx, t.q, phone, email)
}

func (t *txn) LockEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return getEvent(ctx, t.q, eventID, forUpdate)
}

func (t *txn) LockTable(ctx context.Context, tableID string) (*model.Table, error) {
	return getTable(ctx, t.q, tableID, forUpdate)
}

func (t *txn) LockRegistration(ctx context.Context, registrationID string) (*model.Registration, error) {
	return getRegistration(ctx, t.q, `WHERE id = $1`+forUpdate, registrationID)
}

func (t *txn) LockRegistrationByToken(ctx context.Context, tokenHash string) (*model.Registration, error) {
	return getRegistration(ctx, t.q, `WHERE cancellation_token_hash = $1`+forUpdate, tokenHash)
}

func (t *txn) LockRegistrationByCode(ctx context.Context, eventID, code string) (*model.Registration, error) {
	return getRegistration(ctx, t.q,
		`WHERE event_id = $1 AND confirmation_code = $2`+forUpdate, eventID, code)
}

func (t *txn) ConfirmedSpots(ctx context.Context, eventID string) (int, error) {
	var used int
	err := t.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(spots_count), 0) FROM registrations
		 WHERE event_id = $1 AND status = 'CONFIRMED'`, eventID,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum confirmed spots: %w", mapError(err))
	}
	return used, nil
}

func (t *txn) TableSeatsUsed(ctx context.Context, tableID string) (int, error) {
	var used int
	err := t.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(spots_count), 0) FROM registrations
		 WHERE table_id = $1 AND status = 'CONFIRMED'`, tableID,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum table seats: %w", mapError(err))
	}
	return used, nil
}

func (t *txn) ConfirmationCodeExists(ctx context.Context, eventID, code string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE event_id = $1 AND confirmation_code = $2)`,
		eventID, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check confirmation code: %w", mapError(err))
	}
	return exists, nil
}

func (t *txn) HasActiveRegistration(ctx context.Context, eventID, phone string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations
		                WHERE event_id = $1 AND phone_number = $2 AND status <> 'CANCELLED')`,
		eventID, phone,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", mapError(err))
	}
	return exists, nil
}

func (t *txn) OldestWaitlisted(ctx context.Context, eventID string) (*model.Registration, error) {
	return getRegistration(ctx, t.q,
		`WHERE event_id = $1 AND status = 'WAITLIST' ORDER BY created_at, seq LIMIT 1`+forUpdate, eventID)
}

func (t *txn) InsertRegistration(ctx context.Context, r *model.Registration) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.EventID, r.TableID, r.SpotsCount, string(r.Status), r.ConfirmationCode,
		r.TokenHash, r.Name, r.PhoneNumber, r.Email, r.CheckedInAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", mapError(err))
	}
	return nil
}

func (t *txn) UpdateRegistrationStatus(ctx context.Context, registrationID string, status model.RegistrationStatus, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE registrations SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), at, registrationID)
	if err != nil {
		return fmt.Errorf("update registration status: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) MarkCheckedIn(ctx context.Context, registrationID string, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE registrations SET checked_in_at = $1, updated_at = $1
		 WHERE id = $2 AND checked_in_at IS NULL`,
		at, registrationID)
	if err != nil {
		return fmt.Errorf("mark checked in: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) UpdateEventCapacity(ctx context.Context, eventID string, capacity int) error {
	tag, err := t.q.Exec(ctx, `UPDATE events SET capacity = $1 WHERE id = $2`, capacity, eventID)
	if err != nil {
		return fmt.Errorf("update capacity: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) UpdateEventStatus(ctx context.Context, eventID string, status model.EventStatus, completedAt *time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE events SET status = $1, completed_at = COALESCE($2::timestamptz, completed_at) WHERE id = $3`,
		string(status), completedAt, eventID)
	if err != nil {
		return fmt.Errorf("update event status: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) UpdateTable(ctx context.Context, table *model.Table) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE event_tables SET name = $1, capacity = $2, min_order = $3, allow_partial = $4,
		                         status = $5, table_order = $6
		 WHERE id = $7`,
		table.Name, table.Capacity, table.MinOrder, table.AllowPartial,
		string(table.Status), table.TableOrder, table.ID)
	if err != nil {
		return fmt.Errorf("update table: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *txn) EnqueuePromotion(ctx context.Context, eventID string, at time.Time) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO promotion_queue (event_id, enqueued_at, version)
		 VALUES ($1, $2, nextval('promotion_queue_version_seq'))
		 ON CONFLICT (event_id) DO UPDATE
		   SET enqueued_at = EXCLUDED.enqueued_at, version = EXCLUDED.version`,
		eventID, at)
	if err != nil {
		return fmt.Errorf("enqueue promotion: %w", mapError(err))
	}
	return nil
}

func (t *txn) RecordBanExposure(ctx context.Context, banID, eventID string, at time.Time) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ban_event_exposure (ban_id, event_id, recorded_at) VALUES ($1, $2, $3)
		 ON CONFLICT (ban_id, event_id) DO NOTHING`,
		banID, eventID, at)
	if err != nil {
		return fmt.Errorf("record ban exposure: %w", mapError(err))
	}
	return nil
}

// ConsumeGameCountBans inserts ledger rows and decrements only the bans
// whose ledger row was new, so a repeated call for the same event is a no-op.
func (t *txn) ConsumeGameCountBans(ctx context.Context, eventID string, cutoff time.Time) (int, error) {
	tag, err := t.q.Exec(ctx,
		`WITH subject AS (
		   SELECT b.id FROM bans b
		    WHERE b.kind = 'GAME_COUNT' AND b.lifted_at IS NULL AND b.remaining_events > 0
		      AND b.created_at < $2::timestamptz
		      AND (EXISTS (SELECT 1 FROM ban_event_exposure x
		                    WHERE x.ban_id = b.id AND x.event_id = $1::text AND x.recorded_at <= $2::timestamptz)
		           OR EXISTS (SELECT 1 FROM registrations r
		                       WHERE r.event_id = $1::text AND r.status <> 'CANCELLED'
		                         AND (r.phone_number = b.phone_number
		                              OR (b.email IS NOT NULL AND b.email <> '' AND r.email = b.email))))
		 ), applied AS (
		   INSERT INTO ban_event_ledger (ban_id, event_id, applied_at)
		   SELECT id, $1::text, $2::timestamptz FROM subject
		   ON CONFLICT (ban_id, event_id) DO NOTHING
		   RETURNING ban_id
		 )
		 UPDATE bans SET remaining_events = remaining_events - 1
		  WHERE id IN (SELECT ban_id FROM applied)`,
		eventID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("consume game count bans: %w", mapError(err))
	}
	return int(tag.RowsAffected()), nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	var eventType, status string
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &eventType, &e.Capacity, &e.MaxSpotsPerPerson,
		&status, &e.StartsAt, &e.CompletedAt, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", mapError(err))
	}
	e.Type = model.EventType(eventType)
	e.Status = model.EventStatus(status)
	return &e, nil
}

func getEvent(ctx context.Context, q querier, eventID, lock string) (*model.Event, error) {
	return scanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`+lock, eventID))
}

func getTable(ctx context.Context, q querier, tableID, lock string) (*model.Table, error) {
	var t model.Table
	var status string
	err := q.QueryRow(ctx,
		`SELECT `+tableColumns+` FROM event_tables t WHERE t.id = $1`+lock, tableID,
	).Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.MinOrder, &t.AllowPartial,
		&status, &t.TableOrder, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get table: %w", mapError(err))
	}
	t.Status = model.TableStatus(status)
	return &t, nil
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var r model.Registration
	var status string
	if err := row.Scan(&r.ID, &r.EventID, &r.TableID, &r.SpotsCount, &status, &r.ConfirmationCode,
		&r.TokenHash, &r.Name, &r.PhoneNumber, &r.Email, &r.CheckedInAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan registration: %w", mapError(err))
	}
	r.Status = model.RegistrationStatus(status)
	return &r, nil
}

func getRegistration(ctx context.Context, q querier, where string, args ...any) (*model.Registration, error) {
	return scanRegistration(q.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations `+where, args...))
}

func listRegistrations(ctx context.Context, q querier, where string, args ...any) ([]model.Registration, error) {
	rows, err := q.Query(ctx, `SELECT `+registrationColumns+` FROM registrations `+where, args...)
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
		return queryBans(ctx, q, `WHERE lifted_at IS NULL AND phone_number = $1`, phone)
	}
	return queryBans(ctx, q, `WHERE lifted_at IS NULL AND (phone_number = $1 OR email = $2)`, phone, email)
}

func queryBans(ctx context.Context, q querier, where string, args ...any) ([]model.Ban, error) {
	rows, err := q.Query(ctx, `SELECT `+banColumns+` FROM bans `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", mapError(err))
	}
	defer rows.Close()

	var bans []model.Ban
	for rows.Next() {
		var b model.Ban
		var kind string
		if err := rows.Scan(&b.ID, &b.PhoneNumber, &b.Email, &kind, &b.RemainingEvents,
			&b.ExpiresAt, &b.Reason, &b.LiftedAt, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		b.Kind = model.BanKind(kind)
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

var _ repository.Tx = (*txn)(nil)
