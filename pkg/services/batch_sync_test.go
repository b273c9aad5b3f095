package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

type stubSyncer struct {
	mu       sync.Mutex
	failFor  map[int64]error
	calls    []int64
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (s *stubSyncer) SyncAll(_ context.Context, inst *models.Instance) *SyncOutcome {
	n := s.inFlight.Add(1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(s.delay)
	s.inFlight.Add(-1)

	s.mu.Lock()
	s.calls = append(s.calls, inst.ID)
	s.mu.Unlock()
	return &SyncOutcome{Summary: &SyncSummary{InstanceID: inst.ID}, Err: s.failFor[inst.ID]}
}

func instances(ids ...int64) []*models.Instance {
	out := make([]*models.Instance, len(ids))
	for i, id := range ids {
		out[i] = &models.Instance{ID: id, DBType: models.DBTypeMySQL, IsActive: true}
	}
	return out
}

func TestBatchSync_OneFailureDoesNotStopOthers(t *testing.T) {
	repo := &mockInstanceRepo{instances: instances(1, 2, 3)}
	syncer := &stubSyncer{failFor: map[int64]error{2: &apperrors.ConnectionError{InstanceID: 2, Cause: errors.New("refused")}}}
	svc := NewBatchSyncService(repo, syncer, 1, zap.NewNop())

	sum, err := svc.SyncInstances(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []int64{1, 2, 3}, syncer.calls, "sequential when concurrency is 1")
	assert.False(t, sum.Outcomes[1].OK())
	assert.Equal(t, int64(3), sum.Summaries()[2].InstanceID)
}

func TestBatchSync_SelectedInstances(t *testing.T) {
	all := instances(1, 2, 3)
	all[2].IsActive = false
	repo := &mockInstanceRepo{instances: all}
	syncer := &stubSyncer{}
	svc := NewBatchSyncService(repo, syncer, 1, zap.NewNop())

	sum, err := svc.SyncInstances(context.Background(), []int64{3, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, []int64{1}, syncer.calls)

	_, err = svc.SyncInstances(context.Background(), []int64{99})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBatchSync_BoundedConcurrency(t *testing.T) {
	repo := &mockInstanceRepo{instances: instances(1, 2, 3, 4, 5, 6)}
	syncer := &stubSyncer{delay: 20 * time.Millisecond}
	svc := NewBatchSyncService(repo, syncer, 2, zap.NewNop())

	sum, err := svc.SyncInstances(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Succeeded)
	assert.LessOrEqual(t, syncer.maxSeen.Load(), int32(2))
	for i, o := range sum.Outcomes {
		assert.Equal(t, int64(i+1), o.Summary.InstanceID, "outcomes keep instance order")
	}
}

func TestBatchSync_ListFailure(t *testing.T) {
	repo := &mockInstanceRepo{listErr: errors.New("no database scope in context")}
	svc := NewBatchSyncService(repo, &stubSyncer{}, 1, zap.NewNop())

	_, err := svc.SyncInstances(context.Background(), nil)
	assert.Error(t, err)
}
