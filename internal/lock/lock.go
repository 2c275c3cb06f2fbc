// Package lock implements the single-flight lock used by the Task Runner
// (acquire-with-TTL on entry, release on exit) and peeked by the Scheduler
// Loop's dispatch gate to decide whether a fire should be skipped.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

// Key builds the canonical lock key for a task name and an optional
// fingerprint (e.g. a specific kwargs hash); taskName alone is used when the
// lock is schedule-wide.
func Key(taskName, fingerprint string) string {
	if fingerprint == "" {
		return keyPrefix + taskName
	}
	return keyPrefix + taskName + ":" + fingerprint
}

type Locker struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// TryAcquire attempts SET key 1 NX EX ttl, atomically. Returns false, nil if
// the lock is already held (never an error in that case).
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis set nx %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the lock key. Idempotent; called unconditionally from the
// Task Runner's always-release step regardless of outcome.
func (l *Locker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Held reports whether the lock is currently held, without acquiring it.
// Used by the Scheduler Loop's dispatch gate to skip a fire (and still
// advance next_fire normally) when safety.singleflight is set.
func (l *Locker) Held(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}
