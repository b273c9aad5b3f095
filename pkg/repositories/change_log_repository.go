package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// ChangeLogRepository is the append-only account change history.
type ChangeLogRepository interface {
	// Append writes one entry and fills in its ID.
	Append(ctx context.Context, entry *models.ChangeLogEntry) error
	// ListByAccount returns the newest entries of one account first.
	ListByAccount(ctx context.Context, instanceID int64, username string, limit int) ([]*models.ChangeLogEntry, error)
}

type changeLogRepository struct{}

// NewChangeLogRepository creates a new change log repository.
func NewChangeLogRepository() ChangeLogRepository {
	return &changeLogRepository{}
}

var _ ChangeLogRepository = (*changeLogRepository)(nil)

func (r *changeLogRepository) Append(ctx context.Context, entry *models.ChangeLogEntry) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}
	if entry.ChangeType == models.ChangeTypeNone {
		return fmt.Errorf("change type %q is not persisted", entry.ChangeType)
	}

	privDiff, err := json.Marshal(nonNil(entry.PrivilegeDiff))
	if err != nil {
		return fmt.Errorf("marshal privilege diff: %w", err)
	}
	otherDiff, err := json.Marshal(nonNil(entry.OtherDiff))
	if err != nil {
		return fmt.Errorf("marshal other diff: %w", err)
	}

	query := `
		INSERT INTO account_change_logs (
			instance_id, db_type, username, change_type, privilege_diff, other_diff, summary, session_id, change_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		RETURNING id`

	err = scope.QueryRow(ctx, query,
		entry.InstanceID, string(entry.DBType), entry.Username, string(entry.ChangeType),
		privDiff, otherDiff, entry.Summary, entry.SessionID, entry.ChangeTime,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append change log for %q: %w", entry.Username, err)
	}
	return nil
}

func (r *changeLogRepository) ListByAccount(ctx context.Context, instanceID int64, username string, limit int) ([]*models.ChangeLogEntry, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, instance_id, db_type, username, change_type, privilege_diff, other_diff, summary, COALESCE(session_id, ''), change_time
		FROM account_change_logs
		WHERE instance_id = $1 AND username = $2
		ORDER BY change_time DESC, id DESC
		LIMIT $3`

	rows, err := scope.Query(ctx, query, instanceID, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.ChangeLogEntry
	for rows.Next() {
		var (
			e                   models.ChangeLogEntry
			dbType, changeType  string
			privDiff, otherDiff []byte
		)
		if err := rows.Scan(&e.ID, &e.InstanceID, &dbType, &e.Username, &changeType,
			&privDiff, &otherDiff, &e.Summary, &e.SessionID, &e.ChangeTime); err != nil {
			return nil, fmt.Errorf("failed to scan change log: %w", err)
		}
		e.DBType = models.DBType(dbType)
		e.ChangeType = models.ChangeType(changeType)
		if err := json.Unmarshal(privDiff, &e.PrivilegeDiff); err != nil {
			return nil, fmt.Errorf("unmarshal privilege diff: %w", err)
		}
		if err := json.Unmarshal(otherDiff, &e.OtherDiff); err != nil {
			return nil, fmt.Errorf("unmarshal other diff: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change logs: %w", err)
	}
	return entries, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
