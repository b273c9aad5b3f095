package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// PermissionSnapshotRepository stores the single live privilege snapshot of
// each account.
type PermissionSnapshotRepository interface {
	// GetByAccountIDs returns the snapshots that exist, keyed by account ID.
	GetByAccountIDs(ctx context.Context, accountIDs []int64) (map[int64]*models.PermissionSnapshot, error)
	// Save inserts or overwrites the snapshot of s.AccountID and fills in s.ID.
	Save(ctx context.Context, s *models.PermissionSnapshot) error
	// TouchSyncTime records an unchanged sync.
	TouchSyncTime(ctx context.Context, accountID int64, at time.Time) error
	// ListCurrentFacts returns the facts of every active account on a live instance.
	ListCurrentFacts(ctx context.Context) ([]models.AccountFacts, error)
}

type permissionSnapshotRepository struct{}

// NewPermissionSnapshotRepository creates a new permission snapshot repository.
func NewPermissionSnapshotRepository() PermissionSnapshotRepository {
	return &permissionSnapshotRepository{}
}

var _ PermissionSnapshotRepository = (*permissionSnapshotRepository)(nil)

func (r *permissionSnapshotRepository) GetByAccountIDs(ctx context.Context, accountIDs []int64) (map[int64]*models.PermissionSnapshot, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	result := make(map[int64]*models.PermissionSnapshot, len(accountIDs))
	if len(accountIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT id, account_id, instance_id, db_type, username, categories, type_specific, facts,
		       version, last_change_type, last_change_time, last_sync_time, created_at, updated_at
		FROM permission_snapshots
		WHERE account_id = ANY($1)`

	rows, err := scope.Query(ctx, query, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s                      models.PermissionSnapshot
			dbType                 string
			changeType             *string
			cats, typeSpec, factsJ []byte
		)
		if err := rows.Scan(&s.ID, &s.AccountID, &s.InstanceID, &dbType, &s.Username, &cats, &typeSpec, &factsJ,
			&s.Version, &changeType, &s.LastChangeTime, &s.LastSyncTime, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission snapshot: %w", err)
		}
		s.DBType = models.DBType(dbType)
		if changeType != nil {
			s.LastChangeType = models.ChangeType(*changeType)
		}
		if err := json.Unmarshal(cats, &s.Categories); err != nil {
			return nil, fmt.Errorf("unmarshal categories of account %d: %w", s.AccountID, err)
		}
		if err := json.Unmarshal(typeSpec, &s.TypeSpecific); err != nil {
			return nil, fmt.Errorf("unmarshal type_specific of account %d: %w", s.AccountID, err)
		}
		if err := json.Unmarshal(factsJ, &s.Facts); err != nil {
			return nil, fmt.Errorf("unmarshal facts of account %d: %w", s.AccountID, err)
		}
		result[s.AccountID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permission snapshots: %w", err)
	}
	return result, nil
}

func (r *permissionSnapshotRepository) Save(ctx context.Context, s *models.PermissionSnapshot) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	cats, err := json.Marshal(s.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	typeSpec, err := json.Marshal(s.TypeSpecific)
	if err != nil {
		return fmt.Errorf("marshal type_specific: %w", err)
	}
	facts, err := json.Marshal(s.Facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}

	var changeType *string
	if s.LastChangeType != "" {
		ct := string(s.LastChangeType)
		changeType = &ct
	}

	query := `
		INSERT INTO permission_snapshots (
			account_id, instance_id, db_type, username, categories, type_specific, facts,
			version, last_change_type, last_change_time, last_sync_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $10, $10, $10)
		ON CONFLICT (account_id) DO UPDATE SET
			categories = EXCLUDED.categories,
			type_specific = EXCLUDED.type_specific,
			facts = EXCLUDED.facts,
			username = EXCLUDED.username,
			version = permission_snapshots.version + 1,
			last_change_type = EXCLUDED.last_change_type,
			last_change_time = EXCLUDED.last_change_time,
			last_sync_time = EXCLUDED.last_sync_time,
			updated_at = EXCLUDED.updated_at
		RETURNING id, version, created_at, updated_at`

	err = scope.QueryRow(ctx, query,
		s.AccountID, s.InstanceID, string(s.DBType), s.Username, cats, typeSpec, facts,
		changeType, s.LastChangeTime, s.LastSyncTime,
	).Scan(&s.ID, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save permission snapshot for %q: %w", s.Username, err)
	}
	return nil
}

func (r *permissionSnapshotRepository) TouchSyncTime(ctx context.Context, accountID int64, at time.Time) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}
	if _, err := scope.Exec(ctx, `UPDATE permission_snapshots SET last_sync_time = $2 WHERE account_id = $1`, accountID, at); err != nil {
		return fmt.Errorf("failed to touch permission snapshot: %w", err)
	}
	return nil
}

func (r *permissionSnapshotRepository) ListCurrentFacts(ctx context.Context) ([]models.AccountFacts, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT a.id, a.instance_id, a.db_type, a.username, s.facts
		FROM account_inventory a
		JOIN permission_snapshots s ON s.account_id = a.id
		JOIN instances i ON i.id = a.instance_id
		WHERE a.is_active AND i.deleted_at IS NULL AND i.is_active
		ORDER BY a.instance_id, a.id`

	rows, err := scope.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list account facts: %w", err)
	}
	defer rows.Close()

	var out []models.AccountFacts
	for rows.Next() {
		var (
			af     models.AccountFacts
			dbType string
			raw    []byte
		)
		if err := rows.Scan(&af.AccountID, &af.InstanceID, &dbType, &af.Username, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan account facts: %w", err)
		}
		af.DBType = models.DBType(dbType)
		if err := json.Unmarshal(raw, &af.Facts); err != nil {
			return nil, fmt.Errorf("unmarshal facts of account %d: %w", af.AccountID, err)
		}
		out = append(out, af)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate account facts: %w", err)
	}
	return out, nil
}
