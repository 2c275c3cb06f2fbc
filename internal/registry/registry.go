// Package registry implements the Schedule Registry: a Redis-backed,
// durable store of ScheduleEntry records keyed by name, with an active side
// (reg:{name}:task) and a paused side (paused:{name}) so that pause/resume
// can be expressed as a two-step write-then-delete rather than a
// transaction, per the accepted design trade-off in the scheduler spec.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	activeKeyPrefix = "reg:"
	activeKeySuffix = ":task"
	pausedKeyPrefix = "paused:"

	scanCount = 200
)

func activeKey(name string) string { return activeKeyPrefix + name + activeKeySuffix }
func pausedKey(name string) string { return pausedKeyPrefix + name }

// Registry wraps a Redis client with the ScheduleEntry active/paused CRUD
// contract described in spec §4.1.
type Registry struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Registry {
	return &Registry{client: client}
}

// Put upserts an active entry, overwriting any existing entry with the same name.
func (r *Registry) Put(ctx context.Context, entry domain.ScheduleEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal schedule entry: %w", err)
	}
	if err := r.client.Set(ctx, activeKey(entry.Name), b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", activeKey(entry.Name), err)
	}
	return nil
}

// Get fetches the active entry by name, or domain.ErrScheduleNotFound.
func (r *Registry) Get(ctx context.Context, name string) (domain.ScheduleEntry, error) {
	var entry domain.ScheduleEntry
	raw, err := r.client.Get(ctx, activeKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entry, domain.ErrScheduleNotFound
		}
		return entry, fmt.Errorf("redis get %s: %w", activeKey(name), err)
	}
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return entry, fmt.Errorf("unmarshal schedule entry %s: %w", name, err)
	}
	return entry, nil
}

// Delete idempotently removes the active entry.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, activeKey(name)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", activeKey(name), err)
	}
	return nil
}

// Scan enumerates all active entries. Order is not guaranteed; callers that
// need determinism (the Scheduler Loop's lexicographic tie-break) sort the
// result themselves.
func (r *Registry) Scan(ctx context.Context) ([]domain.ScheduleEntry, error) {
	keys, err := r.scanKeys(ctx, activeKeyPrefix+"*"+activeKeySuffix)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.ScheduleEntry, 0, len(keys))
	for _, k := range keys {
		raw, err := r.client.Get(ctx, k).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // deleted between SCAN and GET; self-heals next tick
			}
			return nil, fmt.Errorf("redis get %s: %w", k, err)
		}
		var entry domain.ScheduleEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal schedule entry at %s: %w", k, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PutPaused writes the paused-side snapshot for name.
func (r *Registry) PutPaused(ctx context.Context, name string, payload domain.PausedPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal paused payload: %w", err)
	}
	if err := r.client.Set(ctx, pausedKey(name), b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", pausedKey(name), err)
	}
	return nil
}

// GetPaused fetches the paused snapshot, or domain.ErrPausedSnapshotMissing.
func (r *Registry) GetPaused(ctx context.Context, name string) (domain.PausedPayload, error) {
	var payload domain.PausedPayload
	raw, err := r.client.Get(ctx, pausedKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return payload, domain.ErrPausedSnapshotMissing
		}
		return payload, fmt.Errorf("redis get %s: %w", pausedKey(name), err)
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, fmt.Errorf("unmarshal paused payload %s: %w", name, err)
	}
	return payload, nil
}

// DeletePaused idempotently removes the paused snapshot.
func (r *Registry) DeletePaused(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, pausedKey(name)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", pausedKey(name), err)
	}
	return nil
}

// ScanPaused enumerates all paused snapshots.
func (r *Registry) ScanPaused(ctx context.Context) (map[string]domain.PausedPayload, error) {
	keys, err := r.scanKeys(ctx, pausedKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.PausedPayload, len(keys))
	for _, k := range keys {
		raw, err := r.client.Get(ctx, k).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("redis get %s: %w", k, err)
		}
		var payload domain.PausedPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("unmarshal paused payload at %s: %w", k, err)
		}
		name := k[len(pausedKeyPrefix):]
		out[name] = payload
	}
	return out, nil
}

// Pause is the two-step, crash-safe move of an entry from active to paused:
// the paused snapshot is written first, the active entry deleted second. A
// crash between the two steps leaves the active entry authoritative, which
// the next admin list-call surfaces for a human to reconcile.
func (r *Registry) Pause(ctx context.Context, entry domain.ScheduleEntry, meta domain.ScheduleMetadata) error {
	if err := r.PutPaused(ctx, entry.Name, domain.PausedPayload{Entry: entry, Metadata: meta}); err != nil {
		return err
	}
	return r.Delete(ctx, entry.Name)
}

// Resume is the mirrored two-step move: the active entry is written first,
// the paused snapshot deleted second.
func (r *Registry) Resume(ctx context.Context, entry domain.ScheduleEntry) error {
	if err := r.Put(ctx, entry); err != nil {
		return err
	}
	return r.DeletePaused(ctx, entry.Name)
}

func (r *Registry) scanKeys(ctx context.Context, match string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", match, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
