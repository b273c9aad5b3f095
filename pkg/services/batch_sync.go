package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/repositories"
)

// InstanceSyncer runs one instance sync. *Coordinator implements it.
type InstanceSyncer interface {
	SyncAll(ctx context.Context, instance *models.Instance) *SyncOutcome
}

var _ InstanceSyncer = (*Coordinator)(nil)

// BatchSummary aggregates the outcomes of a batch run.
type BatchSummary struct {
	Total      int            `json:"total"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Outcomes   []*SyncOutcome `json:"-"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Summaries returns the per-instance summaries in instance order.
func (b *BatchSummary) Summaries() []*SyncSummary {
	out := make([]*SyncSummary, len(b.Outcomes))
	for i, o := range b.Outcomes {
		out[i] = o.Summary
	}
	return out
}

// BatchSyncService runs instance syncs for many instances. A failing
// instance never stops the others.
type BatchSyncService interface {
	// SyncInstances syncs the given instances, or every active instance when
	// ids is empty. Errors are returned only when instances cannot be loaded.
	SyncInstances(ctx context.Context, ids []int64) (*BatchSummary, error)
}

type batchSyncService struct {
	instances   repositories.InstanceRepository
	syncer      InstanceSyncer
	concurrency int
	logger      *zap.Logger
}

// NewBatchSyncService creates a batch runner. concurrency bounds how many
// instances sync at once; 1 means strictly sequential.
func NewBatchSyncService(instances repositories.InstanceRepository, syncer InstanceSyncer, concurrency int, logger *zap.Logger) BatchSyncService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &batchSyncService{
		instances:   instances,
		syncer:      syncer,
		concurrency: concurrency,
		logger:      logger.Named("batch-sync"),
	}
}

var _ BatchSyncService = (*batchSyncService)(nil)

func (s *batchSyncService) SyncInstances(ctx context.Context, ids []int64) (*BatchSummary, error) {
	targets, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{
		Total:     len(targets),
		Outcomes:  make([]*SyncOutcome, len(targets)),
		StartedAt: time.Now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, inst := range targets {
		g.Go(func() error {
			summary.Outcomes[i] = s.syncer.SyncAll(gctx, inst)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range summary.Outcomes {
		if o.OK() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	summary.FinishedAt = time.Now()

	s.logger.Info("Batch sync finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

func (s *batchSyncService) load(ctx context.Context, ids []int64) ([]*models.Instance, error) {
	if len(ids) == 0 {
		instances, err := s.instances.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active instances: %w", err)
		}
		return instances, nil
	}

	out := make([]*models.Instance, 0, len(ids))
	for _, id := range ids {
		inst, err := s.instances.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load instance %d: %w", id, err)
		}
		if inst.IsDeleted() || !inst.IsActive {
			s.logger.Warn("Skipping inactive instance", zap.Int64("instance_id", id))
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}
