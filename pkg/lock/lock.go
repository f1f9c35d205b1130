package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker serializes an operation across process instances using a redis
// SETNX key with a TTL. A held lock expires on its own, so a crashed holder
// never wedges the operation permanently.
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// TryAcquire attempts to take the lock for the given key.
// Returns true when this caller now holds it.
// When redis is unavailable the lock is granted, so a redis outage degrades
// to single-instance behavior instead of halting the operation.
func (l *Locker) TryAcquire(ctx context.Context, key string) bool {
	ok, err := l.rdb.SetNX(ctx, key, 1, l.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release drops the lock.
func (l *Locker) Release(ctx context.Context, key string) {
	_ = l.rdb.Del(ctx, key).Err()
}

// SyncKey formats the lock key guarding one user's mailbox sync.
func SyncKey(userID int64) string {
	return fmt.Sprintf("lock:mailsync:%d", userID)
}
