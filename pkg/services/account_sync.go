package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/logging"
	"github.com/nyealovey/WhaleFall-sub003/pkg/metrics"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/retry"
)

// AccountFilter decides which remote accounts are ignored before sync.
// *config.AccountFilter implements it.
type AccountFilter interface {
	ShouldExclude(dbType models.DBType, username string) bool
}

// SyncSummary describes one instance-run, whether or not it succeeded.
type SyncSummary struct {
	SessionID     string             `json:"session_id"`
	InstanceID    int64              `json:"instance_id"`
	InstanceName  string             `json:"instance_name"`
	DBType        models.DBType      `json:"db_type"`
	ServerVersion string             `json:"server_version,omitempty"`
	Excluded      int                `json:"excluded"`
	Inventory     *InventorySummary  `json:"inventory,omitempty"`
	Permissions   *PermissionSummary `json:"permissions,omitempty"`
	// EnrichFailures lists accounts whose privileges could not be read in
	// this run. Their stored snapshots are left as they were.
	EnrichFailures []apperrors.AccountFailure `json:"enrich_failures,omitempty"`
	// Error is the sanitized failure message, empty on success.
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// SyncOutcome is the result of Coordinator.SyncAll. Err is nil on a clean
// run; otherwise it is one of *apperrors.ConnectionError,
// *apperrors.InventoryCommitError, *apperrors.PermissionSyncError or
// apperrors.ErrSyncInProgress. Summary is always set.
type SyncOutcome struct {
	Summary *SyncSummary
	Err     error
}

// OK reports whether the run completed without failure.
func (o *SyncOutcome) OK() bool { return o.Err == nil }

// CoordinatorConfig holds the run-level knobs of a Coordinator.
type CoordinatorConfig struct {
	ConnectTimeout time.Duration
	// Retry applies to transient connect errors; nil disables retries.
	Retry *retry.Config
}

// Coordinator runs the inventory and permission phases of one instance over
// a single connection.
type Coordinator struct {
	factory     datasource.AdapterFactory
	inventory   InventorySynchronizer
	permissions PermissionSynchronizer
	filter      AccountFilter
	locker      InstanceLocker
	cfg         CoordinatorConfig
	logger      *zap.Logger
}

// NewCoordinator creates a new sync coordinator. A nil filter excludes
// nothing and a nil locker disables per-instance locking.
func NewCoordinator(
	factory datasource.AdapterFactory,
	inventory InventorySynchronizer,
	permissions PermissionSynchronizer,
	filter AccountFilter,
	locker InstanceLocker,
	cfg CoordinatorConfig,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		factory:     factory,
		inventory:   inventory,
		permissions: permissions,
		filter:      filter,
		locker:      locker,
		cfg:         cfg,
		logger:      logger.Named("sync-coordinator"),
	}
}

// SyncAll synchronizes the accounts of one instance. The connection is
// released on every exit path. Inventory changes stay committed when the
// permission phase fails.
func (c *Coordinator) SyncAll(ctx context.Context, instance *models.Instance) *SyncOutcome {
	summary := &SyncSummary{
		SessionID:    uuid.NewString(),
		InstanceID:   instance.ID,
		InstanceName: instance.Name,
		DBType:       instance.DBType,
		StartedAt:    time.Now(),
	}
	logger := c.logger.With(
		zap.Int64("instance_id", instance.ID),
		zap.String("db_type", string(instance.DBType)),
		zap.String("session_id", summary.SessionID))

	err := c.run(ctx, instance, summary, logger)

	summary.FinishedAt = time.Now()
	metrics.SyncDuration.WithLabelValues(string(instance.DBType)).Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	metrics.SyncRunsTotal.WithLabelValues(string(instance.DBType), syncResult(err)).Inc()

	if err != nil {
		summary.Error = logging.SanitizeError(err)
		logger.Error("Instance sync failed", zap.String("error", summary.Error))
	} else {
		logger.Info("Instance sync completed",
			zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	}
	return &SyncOutcome{Summary: summary, Err: err}
}

func (c *Coordinator) run(ctx context.Context, instance *models.Instance, summary *SyncSummary, logger *zap.Logger) error {
	if c.locker != nil {
		release, err := c.locker.TryLock(ctx, instance.ID)
		if err != nil {
			return err
		}
		defer release()
	}

	adapter, err := c.factory.NewAccountAdapter(instance.DBType)
	if err != nil {
		return &apperrors.ConnectionError{InstanceID: instance.ID, DBType: string(instance.DBType), Operation: "adapter", Cause: err}
	}

	lifecycle := NewConnectionLifecycle(instance, c.factory, c.cfg.Retry, c.logger)
	defer lifecycle.Disconnect()

	conn, err := c.connect(ctx, lifecycle)
	if err != nil {
		return err
	}

	if version, err := conn.GetVersion(ctx); err != nil {
		logger.Warn("Failed to read server version", zap.String("error", logging.SanitizeError(err)))
	} else {
		summary.ServerVersion = version
	}

	fetched, err := adapter.FetchRemoteAccounts(ctx, instance, conn)
	if err != nil {
		return lifecycle.wrap("fetch_accounts", err)
	}

	remote := make([]models.RemoteAccount, 0, len(fetched))
	for _, acct := range fetched {
		if c.filter != nil && c.filter.ShouldExclude(instance.DBType, acct.Username) {
			summary.Excluded++
			continue
		}
		remote = append(remote, acct)
	}

	inv, err := c.inventory.Sync(ctx, instance, remote)
	if err != nil {
		return err
	}
	summary.Inventory = &inv.Summary
	logger.Info("Inventory phase committed",
		zap.String("server_version", summary.ServerVersion),
		zap.Int("excluded", summary.Excluded),
		zap.Int("active_count", inv.Summary.ActiveCount))

	// Same run, same handle: Connect returns the open connection.
	conn, err = c.connect(ctx, lifecycle)
	if err != nil {
		return err
	}
	if pending := unenrichedUsernames(inv.Active, remote); len(pending) > 0 {
		enriched, err := adapter.EnrichPermissions(ctx, instance, conn, remote, pending)
		var enrichErr *datasource.EnrichError
		switch {
		case err == nil:
		case errors.As(err, &enrichErr) && enriched != nil && ctx.Err() == nil:
			c.recordEnrichFailures(summary, enrichErr, logger)
		default:
			return lifecycle.wrap("enrich_permissions", err)
		}
		remote = enriched
	}

	perms, err := c.permissions.Sync(ctx, instance, inv.Active, remote, summary.SessionID)
	summary.Permissions = perms
	return err
}

func (c *Coordinator) recordEnrichFailures(summary *SyncSummary, enrichErr *datasource.EnrichError, logger *zap.Logger) {
	for _, f := range enrichErr.Failures {
		reason := logging.SanitizeError(f.Err)
		summary.EnrichFailures = append(summary.EnrichFailures, apperrors.AccountFailure{Username: f.Username, Reason: reason})
		logger.Warn("Failed to read account privileges, keeping stored snapshot",
			zap.String("username", f.Username),
			zap.String("error", reason))
	}
	metrics.EnrichFailuresTotal.WithLabelValues(string(summary.DBType)).Add(float64(len(enrichErr.Failures)))
}

func (c *Coordinator) connect(ctx context.Context, lifecycle *ConnectionLifecycle) (datasource.Connection, error) {
	if c.cfg.ConnectTimeout <= 0 {
		return lifecycle.Connect(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	return lifecycle.Connect(cctx)
}

// unenrichedUsernames lists active accounts whose privilege detail has not
// been loaded in this run.
func unenrichedUsernames(active []*models.AccountInventoryEntry, remote []models.RemoteAccount) []string {
	enriched := make(map[string]bool, len(remote))
	for i := range remote {
		enriched[remote[i].Username] = remote[i].Enriched()
	}
	var names []string
	for _, e := range active {
		if done, ok := enriched[e.Username]; ok && !done {
			names = append(names, e.Username)
		}
	}
	return names
}

func syncResult(err error) string {
	var (
		connErr *apperrors.ConnectionError
		invErr  *apperrors.InventoryCommitError
		permErr *apperrors.PermissionSyncError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrSyncInProgress):
		return "locked"
	case errors.As(err, &connErr):
		return "connection_error"
	case errors.As(err, &invErr):
		return "inventory_error"
	case errors.As(err, &permErr):
		return "permission_error"
	default:
		return "error"
	}
}
