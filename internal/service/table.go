package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/google/uuid"
)

// allocateTable seats a party on one table. The table row is the only
// lock taken, so allocations on different tables of the same event run
// in parallel.
func (e *Engine) allocateTable(ctx context.Context, eventID string, req model.RegisterRequest) (*model.Registration, error) {
	if req.TableID == nil || strings.TrimSpace(*req.TableID) == "" {
		return nil, ErrTableRequired
	}
	tableID := strings.TrimSpace(*req.TableID)

	var reg *model.Registration
	err := e.critical(ctx, "allocate_table", func(ctx context.Context, tx repository.Tx) error {
		reg = nil
		event, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Status != model.EventOpen || event.Completed() {
			return ErrEventNotOpen
		}
		table, err := tx.LockTable(ctx, tableID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTableNotFound
		}
		if err != nil {
			return err
		}
		if table.EventID != eventID {
			return ErrTableNotFound
		}
		if table.Status != model.TableAvailable {
			return ErrTableNotAvailable
		}
		if !table.AllowPartial && req.SpotsCount < table.MinOrder {
			return fmt.Errorf("%w: table requires at least %d", ErrBelowMinOrder, table.MinOrder)
		}
		if err := ensureNotRegistered(ctx, tx, eventID, req.PhoneNumber); err != nil {
			return err
		}
		used, err := tx.TableSeatsUsed(ctx, table.ID)
		if err != nil {
			return err
		}
		if used+req.SpotsCount > table.Capacity {
			return fmt.Errorf("%w: %d of %d seats taken", ErrTableFull, used, table.Capacity)
		}
		reg, err = e.insertRegistration(ctx, tx, eventID, &table.ID, model.StatusConfirmed, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// CreateTable adds a table to a TABLE_BASED event.
func (e *Engine) CreateTable(ctx context.Context, eventID string, req model.CreateTableRequest) (*model.Table, error) {
	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Type != model.EventTableBased {
		return nil, ErrWrongEventType
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, invalidf("table name is required")
	}
	if req.Capacity < 1 {
		return nil, invalidf("table capacity must be a positive integer")
	}
	// An omitted min_order means any party size.
	if req.MinOrder == 0 {
		req.MinOrder = 1
	}
	if req.MinOrder < 1 || req.MinOrder > req.Capacity {
		return nil, invalidf("min_order must be between 1 and capacity")
	}

	table := &model.Table{
		ID:           uuid.New().String(),
		EventID:      eventID,
		Name:         req.Name,
		Capacity:     req.Capacity,
		MinOrder:     req.MinOrder,
		AllowPartial: req.AllowPartial,
		Status:       model.TableAvailable,
		TableOrder:   req.TableOrder,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateTable(ctx, table); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	e.logger.Info("table created", "event_id", eventID, "table_id", table.ID, "capacity", table.Capacity)
	return table, nil
}

// ListTables returns the tables of an event with their seats used.
func (e *Engine) ListTables(ctx context.Context, eventID string) ([]model.Table, error) {
	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return e.store.ListTables(ctx, eventID)
}

// BulkUpdateTables applies each change in its own critical section.
// Tables that are missing, belong to another event, or whose new capacity
// would fall below the seats already taken are excluded and reported; the
// rest are applied.
func (e *Engine) BulkUpdateTables(ctx context.Context, eventID string, req model.BulkTableUpdateRequest) (*model.BulkTableUpdateResult, error) {
	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Type != model.EventTableBased {
		return nil, ErrWrongEventType
	}
	if len(req.Changes) == 0 {
		return nil, invalidf("changes must not be empty")
	}

	result := &model.BulkTableUpdateResult{
		Updated:  []model.Table{},
		Excluded: []model.TableExclusion{},
	}
	for _, change := range req.Changes {
		table, exclusion, err := e.applyTableChange(ctx, eventID, change)
		if err != nil {
			return nil, err
		}
		if exclusion != nil {
			result.Excluded = append(result.Excluded, *exclusion)
			continue
		}
		result.Updated = append(result.Updated, *table)
	}
	e.logger.Info("tables updated",
		"event_id", eventID, "updated", len(result.Updated), "excluded", len(result.Excluded))
	return result, nil
}

// UpdateTable applies one change and reports an excluded change as an
// error instead.
func (e *Engine) UpdateTable(ctx context.Context, eventID string, change model.TableChange) (*model.Table, error) {
	table, exclusion, err := e.applyTableChange(ctx, eventID, change)
	if err != nil {
		return nil, err
	}
	if exclusion == nil {
		e.logger.Info("table updated", "event_id", eventID, "table_id", table.ID)
		return table, nil
	}
	switch exclusion.Reason {
	case reasonTableNotFound:
		return nil, ErrTableNotFound
	case reasonBelowSeatsUsed:
		return nil, fmt.Errorf("%w: %d seats in use", ErrCapacityBelowConfirmed, exclusion.SeatsUsed)
	default:
		return nil, invalidf("%s", exclusion.Reason)
	}
}

const (
	reasonTableNotFound  = "table not found"
	reasonBelowSeatsUsed = "capacity below seats used"
)

func (e *Engine) applyTableChange(ctx context.Context, eventID string, change model.TableChange) (*model.Table, *model.TableExclusion, error) {
	exclude := func(reason string, used int) (*model.Table, *model.TableExclusion, error) {
		return nil, &model.TableExclusion{TableID: change.TableID, Reason: reason, SeatsUsed: used}, nil
	}
	if change.Capacity != nil && *change.Capacity < 1 {
		return exclude("capacity must be a positive integer", 0)
	}
	if change.MinOrder != nil && *change.MinOrder < 0 {
		return exclude("min_order must not be negative", 0)
	}
	if change.Status != nil && !change.Status.Valid() {
		return exclude("unknown table status", 0)
	}

	var updated *model.Table
	var exclusion *model.TableExclusion
	err := e.critical(ctx, "update_table", func(ctx context.Context, tx repository.Tx) error {
		updated, exclusion = nil, nil
		table, err := tx.LockTable(ctx, change.TableID)
		if errors.Is(err, repository.ErrNotFound) {
			exclusion = &model.TableExclusion{TableID: change.TableID, Reason: reasonTableNotFound}
			return nil
		}
		if err != nil {
			return err
		}
		if table.EventID != eventID {
			exclusion = &model.TableExclusion{TableID: change.TableID, Reason: reasonTableNotFound}
			return nil
		}
		used, err := tx.TableSeatsUsed(ctx, table.ID)
		if err != nil {
			return err
		}
		if change.Capacity != nil {
			if *change.Capacity < used {
				exclusion = &model.TableExclusion{
					TableID:   table.ID,
					Reason:    reasonBelowSeatsUsed,
					SeatsUsed: used,
				}
				return nil
			}
			table.Capacity = *change.Capacity
		}
		if change.MinOrder != nil {
			table.MinOrder = max(*change.MinOrder, 1)
		}
		if change.AllowPartial != nil {
			table.AllowPartial = *change.AllowPartial
		}
		if change.Status != nil {
			table.Status = *change.Status
		}
		if table.MinOrder > table.Capacity {
			exclusion = &model.TableExclusion{TableID: table.ID, Reason: "min_order exceeds capacity", SeatsUsed: used}
			return nil
		}
		if err := tx.UpdateTable(ctx, table); err != nil {
			return err
		}
		table.SeatsUsed = used
		updated = table
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, exclusion, nil
}
