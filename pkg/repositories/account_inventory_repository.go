package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// AccountInventoryRepository tracks which accounts exist on each instance.
// Entries are never hard-deleted.
type AccountInventoryRepository interface {
	// ListByInstance returns every entry of the instance, active or not.
	ListByInstance(ctx context.Context, instanceID int64, dbType models.DBType) ([]*models.AccountInventoryEntry, error)
	// Create inserts newly sighted accounts and fills in their IDs.
	Create(ctx context.Context, entries []*models.AccountInventoryEntry) error
	// Refresh stamps last_seen_at on active entries.
	Refresh(ctx context.Context, ids []int64, now time.Time) error
	// Reactivate marks inactive entries active again and clears deleted_at.
	Reactivate(ctx context.Context, ids []int64, now time.Time) error
	// Deactivate marks entries inactive and stamps deleted_at.
	Deactivate(ctx context.Context, ids []int64, now time.Time) error
}

type accountInventoryRepository struct{}

// NewAccountInventoryRepository creates a new account inventory repository.
func NewAccountInventoryRepository() AccountInventoryRepository {
	return &accountInventoryRepository{}
}

var _ AccountInventoryRepository = (*accountInventoryRepository)(nil)

func (r *accountInventoryRepository) ListByInstance(ctx context.Context, instanceID int64, dbType models.DBType) ([]*models.AccountInventoryEntry, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT id, instance_id, db_type, username, is_active, first_seen_at, last_seen_at, deleted_at
		FROM account_inventory
		WHERE instance_id = $1 AND db_type = $2
		ORDER BY username`

	rows, err := scope.Query(ctx, query, instanceID, string(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to list account inventory: %w", err)
	}
	defer rows.Close()

	var entries []*models.AccountInventoryEntry
	for rows.Next() {
		var e models.AccountInventoryEntry
		var t string
		if err := rows.Scan(&e.ID, &e.InstanceID, &t, &e.Username, &e.IsActive, &e.FirstSeenAt, &e.LastSeenAt, &e.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account inventory: %w", err)
		}
		e.DBType = models.DBType(t)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate account inventory: %w", err)
	}
	return entries, nil
}

func (r *accountInventoryRepository) Create(ctx context.Context, entries []*models.AccountInventoryEntry) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	query := `
		INSERT INTO account_inventory (instance_id, db_type, username, is_active, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		RETURNING id`

	for _, e := range entries {
		if err := scope.QueryRow(ctx, query, e.InstanceID, string(e.DBType), e.Username, e.FirstSeenAt).Scan(&e.ID); err != nil {
			return fmt.Errorf("failed to insert account %q: %w", e.Username, err)
		}
		e.IsActive = true
		e.LastSeenAt = e.FirstSeenAt
	}
	return nil
}

func (r *accountInventoryRepository) Refresh(ctx context.Context, ids []int64, now time.Time) error {
	return r.update(ctx, `
		UPDATE account_inventory SET last_seen_at = $2
		WHERE id = ANY($1) AND is_active`, ids, now, "refresh")
}

func (r *accountInventoryRepository) Reactivate(ctx context.Context, ids []int64, now time.Time) error {
	return r.update(ctx, `
		UPDATE account_inventory SET is_active = TRUE, deleted_at = NULL, last_seen_at = $2
		WHERE id = ANY($1)`, ids, now, "reactivate")
}

func (r *accountInventoryRepository) Deactivate(ctx context.Context, ids []int64, now time.Time) error {
	return r.update(ctx, `
		UPDATE account_inventory SET is_active = FALSE, deleted_at = $2
		WHERE id = ANY($1) AND is_active`, ids, now, "deactivate")
}

func (r *accountInventoryRepository) update(ctx context.Context, query string, ids []int64, now time.Time, op string) error {
	if len(ids) == 0 {
		return nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}
	if _, err := scope.Exec(ctx, query, ids, now); err != nil {
		return fmt.Errorf("failed to %s accounts: %w", op, err)
	}
	return nil
}
