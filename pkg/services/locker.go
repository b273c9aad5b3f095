package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
)

// InstanceLocker keeps two syncs of the same instance from overlapping.
type InstanceLocker interface {
	// TryLock acquires the lock of instanceID without waiting. It returns
	// apperrors.ErrSyncInProgress when the lock is held elsewhere. The
	// returned release func is safe to call more than once.
	TryLock(ctx context.Context, instanceID int64) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript resets the expiry of a lock we still hold.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type redisLocker struct {
	client     redis.Cmdable
	ttl        time.Duration
	renewEvery time.Duration
	logger     *zap.Logger
}

// NewRedisLocker creates a locker shared by every process using the same Redis.
// ttl bounds how long a crashed holder can block an instance. While a run
// holds the lock its expiry is pushed back every ttl/3, so a sync longer
// than ttl keeps the instance.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) InstanceLocker {
	return &redisLocker{
		client:     client,
		ttl:        ttl,
		renewEvery: ttl / 3,
		logger:     logger.Named("sync-lock"),
	}
}

var _ InstanceLocker = (*redisLocker)(nil)

func lockKey(instanceID int64) string {
	return fmt.Sprintf("whalefall:sync-lock:instance:%d", instanceID)
}

func (l *redisLocker) TryLock(ctx context.Context, instanceID int64) (func(), error) {
	key := lockKey(instanceID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrSyncInProgress
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(ctx, instanceID, key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's ctx may already be cancelled when the run ends.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release sync lock",
					zap.Int64("instance_id", instanceID),
					zap.Error(err))
			}
		})
	}, nil
}

// keepAlive extends the lock until stop is closed or the lock is lost.
func (l *redisLocker) keepAlive(ctx context.Context, instanceID int64, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if l.renewEvery <= 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(ctx, l.renewEvery)
		extended, err := extendScript.Run(rctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			l.logger.Warn("Failed to extend sync lock",
				zap.Int64("instance_id", instanceID),
				zap.Error(err))
		case extended == 0:
			l.logger.Error("Sync lock lost before the run finished",
				zap.Int64("instance_id", instanceID))
			return
		}
	}
}

type localLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewLocalLocker creates a locker that only guards syncs within this process.
func NewLocalLocker() InstanceLocker {
	return &localLocker{held: make(map[int64]struct{})}
}

var _ InstanceLocker = (*localLocker)(nil)

func (l *localLocker) TryLock(_ context.Context, instanceID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[instanceID]; busy {
		return nil, apperrors.ErrSyncInProgress
	}
	l.held[instanceID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, instanceID)
			l.mu.Unlock()
		})
	}, nil
}
