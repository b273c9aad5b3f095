package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/metrics"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/permissions"
	"github.com/nyealovey/WhaleFall-sub003/pkg/repositories"
)

// PermissionSummary counts the outcome of one permission pass.
type PermissionSummary struct {
	Processed        int                        `json:"processed"`
	Added            int                        `json:"added"`
	PrivilegeChanged int                        `json:"privilege_changed"`
	OtherChanged     int                        `json:"other_changed"`
	Unchanged        int                        `json:"unchanged"`
	Skipped          int                        `json:"skipped"`
	Failures         []apperrors.AccountFailure `json:"failures,omitempty"`
}

// PermissionSynchronizer diffs fetched privileges against stored snapshots.
type PermissionSynchronizer interface {
	// Sync processes every active entry that has an enriched remote record.
	// Per-account failures do not stop the pass, but any failure rolls the
	// whole pass back and is reported as *apperrors.PermissionSyncError.
	Sync(ctx context.Context, instance *models.Instance, active []*models.AccountInventoryEntry, remote []models.RemoteAccount, sessionID string) (*PermissionSummary, error)
}

type permissionSynchronizer struct {
	tx        database.TxRunner
	snapshots repositories.PermissionSnapshotRepository
	changeLog repositories.ChangeLogRepository
	now       func() time.Time
	logger    *zap.Logger
}

// NewPermissionSynchronizer creates a new permission synchronizer.
func NewPermissionSynchronizer(
	tx database.TxRunner,
	snapshots repositories.PermissionSnapshotRepository,
	changeLog repositories.ChangeLogRepository,
	logger *zap.Logger,
) PermissionSynchronizer {
	return &permissionSynchronizer{
		tx:        tx,
		snapshots: snapshots,
		changeLog: changeLog,
		now:       time.Now,
		logger:    logger.Named("permission-sync"),
	}
}

var _ PermissionSynchronizer = (*permissionSynchronizer)(nil)

func (s *permissionSynchronizer) Sync(
	ctx context.Context,
	instance *models.Instance,
	active []*models.AccountInventoryEntry,
	remote []models.RemoteAccount,
	sessionID string,
) (*PermissionSummary, error) {
	byName := make(map[string]*models.RemoteAccount, len(remote))
	for i := range remote {
		byName[remote[i].Username] = &remote[i]
	}

	summary := &PermissionSummary{}
	var written map[models.ChangeType]int

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		ids := entryIDs(active)
		stored, err := s.snapshots.GetByAccountIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to load permission snapshots: %w", err)
		}

		written = map[models.ChangeType]int{}
		now := s.now()
		for _, entry := range active {
			acct, ok := byName[entry.Username]
			if !ok || !acct.Enriched() {
				summary.Skipped++
				continue
			}
			summary.Processed++

			var changeType models.ChangeType
			err := s.tx.WithSavepoint(ctx, func(ctx context.Context) error {
				var err error
				changeType, err = s.syncAccount(ctx, instance, entry, acct, stored[entry.ID], sessionID, now)
				return err
			})
			if err != nil {
				summary.Failures = append(summary.Failures, apperrors.AccountFailure{
					Username: entry.Username,
					Reason:   err.Error(),
				})
				s.logger.Error("Failed to sync account permissions",
					zap.Int64("instance_id", instance.ID),
					zap.String("username", entry.Username),
					zap.Error(err))
				continue
			}

			switch changeType {
			case models.ChangeTypeAdd:
				summary.Added++
			case models.ChangeTypeModifyPrivilege:
				summary.PrivilegeChanged++
			case models.ChangeTypeModifyOther:
				summary.OtherChanged++
			default:
				summary.Unchanged++
				continue
			}
			written[changeType]++
		}

		if len(summary.Failures) > 0 {
			return &apperrors.PermissionSyncError{
				InstanceID: instance.ID,
				Failures:   summary.Failures,
				Summary:    summary,
			}
		}
		return nil
	})
	if err != nil {
		var pse *apperrors.PermissionSyncError
		if !errors.As(err, &pse) {
			err = &apperrors.PermissionSyncError{
				InstanceID: instance.ID,
				Failures:   summary.Failures,
				Summary:    summary,
				Cause:      err,
			}
		}
		s.logger.Error("Permission sync rolled back",
			zap.Int64("instance_id", instance.ID),
			zap.Int("processed", summary.Processed),
			zap.Int("failures", len(summary.Failures)),
			zap.Error(err))
		return summary, err
	}

	for ct, n := range written {
		metrics.ChangeLogEntriesTotal.WithLabelValues(string(instance.DBType), string(ct)).Add(float64(n))
	}
	s.logger.Info("Permissions synchronized",
		zap.Int64("instance_id", instance.ID),
		zap.Int("processed", summary.Processed),
		zap.Int("added", summary.Added),
		zap.Int("privilege_changed", summary.PrivilegeChanged),
		zap.Int("other_changed", summary.OtherChanged),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// syncAccount diffs one account and persists the outcome. The stored
// snapshot is only read; a change is written as a new snapshot value.
func (s *permissionSynchronizer) syncAccount(
	ctx context.Context,
	instance *models.Instance,
	entry *models.AccountInventoryEntry,
	acct *models.RemoteAccount,
	prev *models.PermissionSnapshot,
	sessionID string,
	now time.Time,
) (models.ChangeType, error) {
	next := permissions.StateFromRemote(instance.DBType, acct)
	diff := permissions.Compute(instance.DBType, permissions.StateFromSnapshot(prev), next)

	if !diff.Changed() {
		if err := s.snapshots.TouchSyncTime(ctx, entry.ID, now); err != nil {
			return models.ChangeTypeNone, err
		}
		return models.ChangeTypeNone, nil
	}

	changedAt := now
	snapshot := &models.PermissionSnapshot{
		AccountID:      entry.ID,
		InstanceID:     instance.ID,
		DBType:         instance.DBType,
		Username:       entry.Username,
		Categories:     next.Categories,
		TypeSpecific:   next.TypeSpecific,
		Facts:          permissions.BuildFacts(instance.DBType, next),
		LastChangeType: diff.ChangeType,
		LastChangeTime: &changedAt,
		LastSyncTime:   now,
	}
	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		return models.ChangeTypeNone, err
	}

	logEntry := &models.ChangeLogEntry{
		InstanceID:    instance.ID,
		DBType:        instance.DBType,
		Username:      entry.Username,
		ChangeType:    diff.ChangeType,
		PrivilegeDiff: diff.PrivilegeDiff,
		OtherDiff:     diff.OtherDiff,
		Summary:       permissions.Summarize(entry.Username, diff),
		SessionID:     sessionID,
		ChangeTime:    now,
	}
	if err := s.changeLog.Append(ctx, logEntry); err != nil {
		return models.ChangeTypeNone, fmt.Errorf("failed to write change log: %w", err)
	}
	return diff.ChangeType, nil
}
