package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey and DefaultLockTTL size the cross-process run guard.
const (
	DefaultLockKey = "offresync:sync:lock"
	DefaultLockTTL = 3 * time.Hour
)

// RunLock guards a pass across processes. Acquire returns ErrSyncInProgress
// when another holder owns the lock.
type RunLock interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a RunLock backed by SET NX PX.
type RedisLock struct {
	rdb    *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLock returns a lock on key. Empty key and ttl <= 0 take the defaults.
func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration, logger *slog.Logger) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLock{rdb: rdb, key: key, ttl: ttl, logger: logger}
}

// Acquire takes the lock or returns ErrSyncInProgress.
func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("release run lock", "key", l.key, "error", err)
		}
	}, nil
}
