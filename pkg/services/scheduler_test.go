package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler(time.UTC, zaptest.NewLogger(t))
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add(Job{Name: "sync", Schedule: "0 */6 * * *", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "sync", Schedule: "0 * * * *", Run: noop}), "duplicate name")
	assert.Error(t, s.Add(Job{Name: "bad", Schedule: "every day", Run: noop}))

	s.Start(context.Background())
	defer s.Stop()

	next := s.Next("sync")
	require.False(t, next.IsZero())
	assert.Zero(t, next.Hour()%6)
	assert.True(t, s.Next("missing").IsZero())
}

func TestScheduler_RunsJobWithCancellableContext(t *testing.T) {
	s := NewScheduler(time.UTC, zaptest.NewLogger(t))
	ran := make(chan context.Context, 1)
	require.NoError(t, s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(ctx context.Context) error {
		select {
		case ran <- ctx:
		default:
		}
		return nil
	}}))

	s.Start(context.Background())
	var jobCtx context.Context
	select {
	case jobCtx = <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	s.Stop()
	assert.Error(t, jobCtx.Err(), "stop cancels the job context")
}
