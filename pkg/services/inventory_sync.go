package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/metrics"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/repositories"
)

// InventorySummary counts the transitions of one reconciliation pass.
type InventorySummary struct {
	Created     int `json:"created"`
	Refreshed   int `json:"refreshed"`
	Reactivated int `json:"reactivated"`
	Deactivated int `json:"deactivated"`
	ActiveCount int `json:"active_count"`
	TotalRemote int `json:"total_remote"`

	CreatedUsernames     []string `json:"created_usernames,omitempty"`
	ReactivatedUsernames []string `json:"reactivated_usernames,omitempty"`
	DeactivatedUsernames []string `json:"deactivated_usernames,omitempty"`
}

// InventoryResult is the outcome of a committed reconciliation.
type InventoryResult struct {
	Summary InventorySummary
	// Active lists the entries that are active after the pass, in remote order.
	Active []*models.AccountInventoryEntry
}

// InventoryPlan is the set of transitions that turns the stored inventory
// into the remote list. It is computed without touching storage.
type InventoryPlan struct {
	Create     []string
	Refresh    []*models.AccountInventoryEntry
	Reactivate []*models.AccountInventoryEntry
	Deactivate []*models.AccountInventoryEntry
	// Order is the de-duplicated remote username order.
	Order []string
}

// PlanInventory reconciles stored entries against remote usernames. Every
// active entry missing from remote is deactivated; there is no grace period.
// Duplicate remote usernames count once.
func PlanInventory(existing []*models.AccountInventoryEntry, remote []models.RemoteAccount) InventoryPlan {
	byName := make(map[string]*models.AccountInventoryEntry, len(existing))
	for _, e := range existing {
		byName[e.Username] = e
	}

	var plan InventoryPlan
	seen := make(map[string]struct{}, len(remote))
	for _, ra := range remote {
		if _, dup := seen[ra.Username]; dup {
			continue
		}
		seen[ra.Username] = struct{}{}
		plan.Order = append(plan.Order, ra.Username)

		e, ok := byName[ra.Username]
		switch {
		case !ok:
			plan.Create = append(plan.Create, ra.Username)
		case e.IsActive:
			plan.Refresh = append(plan.Refresh, e)
		default:
			plan.Reactivate = append(plan.Reactivate, e)
		}
	}

	for _, e := range existing {
		if _, ok := seen[e.Username]; !ok && e.IsActive {
			plan.Deactivate = append(plan.Deactivate, e)
		}
	}
	return plan
}

// InventorySynchronizer maintains the account presence table of an instance.
type InventorySynchronizer interface {
	// Sync applies one full reconciliation in a single transaction. A storage
	// failure yields *apperrors.InventoryCommitError and leaves no partial state.
	Sync(ctx context.Context, instance *models.Instance, remote []models.RemoteAccount) (*InventoryResult, error)
}

type inventorySynchronizer struct {
	tx     database.TxRunner
	repo   repositories.AccountInventoryRepository
	now    func() time.Time
	logger *zap.Logger
}

// NewInventorySynchronizer creates a new inventory synchronizer.
func NewInventorySynchronizer(tx database.TxRunner, repo repositories.AccountInventoryRepository, logger *zap.Logger) InventorySynchronizer {
	return &inventorySynchronizer{
		tx:     tx,
		repo:   repo,
		now:    time.Now,
		logger: logger.Named("inventory-sync"),
	}
}

var _ InventorySynchronizer = (*inventorySynchronizer)(nil)

func (s *inventorySynchronizer) Sync(ctx context.Context, instance *models.Instance, remote []models.RemoteAccount) (*InventoryResult, error) {
	var result *InventoryResult

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.ListByInstance(ctx, instance.ID, instance.DBType)
		if err != nil {
			return err
		}

		now := s.now()
		plan := PlanInventory(existing, remote)

		created := make([]*models.AccountInventoryEntry, 0, len(plan.Create))
		for _, name := range plan.Create {
			created = append(created, &models.AccountInventoryEntry{
				InstanceID:  instance.ID,
				DBType:      instance.DBType,
				Username:    name,
				FirstSeenAt: now,
			})
		}
		if err := s.repo.Create(ctx, created); err != nil {
			return err
		}
		if err := s.repo.Refresh(ctx, entryIDs(plan.Refresh), now); err != nil {
			return err
		}
		if err := s.repo.Reactivate(ctx, entryIDs(plan.Reactivate), now); err != nil {
			return err
		}
		if err := s.repo.Deactivate(ctx, entryIDs(plan.Deactivate), now); err != nil {
			return err
		}

		result = buildInventoryResult(plan, created, now, len(remote))
		return nil
	})
	if err != nil {
		return nil, &apperrors.InventoryCommitError{InstanceID: instance.ID, Cause: err}
	}

	sum := result.Summary
	metrics.InventoryTransitionsTotal.WithLabelValues(string(instance.DBType), "created").Add(float64(sum.Created))
	metrics.InventoryTransitionsTotal.WithLabelValues(string(instance.DBType), "reactivated").Add(float64(sum.Reactivated))
	metrics.InventoryTransitionsTotal.WithLabelValues(string(instance.DBType), "deactivated").Add(float64(sum.Deactivated))

	s.logger.Info("Inventory reconciled",
		zap.Int64("instance_id", instance.ID),
		zap.Int("created", sum.Created),
		zap.Int("refreshed", sum.Refreshed),
		zap.Int("reactivated", sum.Reactivated),
		zap.Int("deactivated", sum.Deactivated),
		zap.Int("active_count", sum.ActiveCount),
		zap.Int("total_remote", sum.TotalRemote),
	)
	return result, nil
}

// buildInventoryResult derives the post-commit view without re-reading
// storage. Entries are copied, never mutated.
func buildInventoryResult(plan InventoryPlan, created []*models.AccountInventoryEntry, now time.Time, totalRemote int) *InventoryResult {
	active := make(map[string]*models.AccountInventoryEntry, len(plan.Order))
	for _, e := range created {
		active[e.Username] = e
	}
	for _, e := range plan.Refresh {
		c := *e
		c.LastSeenAt = now
		active[c.Username] = &c
	}
	for _, e := range plan.Reactivate {
		c := *e
		c.IsActive, c.DeletedAt, c.LastSeenAt = true, nil, now
		active[c.Username] = &c
	}

	res := &InventoryResult{
		Summary: InventorySummary{
			Created:              len(plan.Create),
			Refreshed:            len(plan.Refresh),
			Reactivated:          len(plan.Reactivate),
			Deactivated:          len(plan.Deactivate),
			TotalRemote:          totalRemote,
			CreatedUsernames:     plan.Create,
			ReactivatedUsernames: entryNames(plan.Reactivate),
			DeactivatedUsernames: entryNames(plan.Deactivate),
		},
	}
	for _, name := range plan.Order {
		res.Active = append(res.Active, active[name])
	}
	res.Summary.ActiveCount = len(res.Active)
	return res
}

func entryIDs(entries []*models.AccountInventoryEntry) []int64 {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func entryNames(entries []*models.AccountInventoryEntry) []string {
	if len(entries) == 0 {
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Username
	}
	return names
}
