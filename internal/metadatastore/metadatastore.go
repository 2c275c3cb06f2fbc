// Package metadatastore implements the Metadata Store: a Redis-backed
// blob-per-schedule store for ScheduleMetadata, keyed meta:{name}.
package metadatastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "meta:"

func key(name string) string { return keyPrefix + name }

type Store struct {
	client redis.UniversalClient
	now    func() time.Time
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client, now: time.Now}
}

// Load fetches the metadata record for name. If no record exists (e.g. a
// registry entry created without explicit metadata), it returns
// domain.DefaultMetadata() rather than an error — every registry entry has
// exactly one metadata record, possibly the default one.
func (s *Store) Load(ctx context.Context, name string) (domain.ScheduleMetadata, error) {
	raw, err := s.client.Get(ctx, key(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DefaultMetadata(), nil
		}
		return domain.ScheduleMetadata{}, fmt.Errorf("redis get %s: %w", key(name), err)
	}
	var meta domain.ScheduleMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return domain.ScheduleMetadata{}, fmt.Errorf("unmarshal metadata %s: %w", name, err)
	}
	return meta, nil
}

// Save stamps audit fields (create fields only if this is the first save)
// and persists meta under name.
func (s *Store) Save(ctx context.Context, name, actor string, meta domain.ScheduleMetadata) (domain.ScheduleMetadata, error) {
	meta.TouchAudit(actor, s.now().UTC())

	b, err := json.Marshal(meta)
	if err != nil {
		return meta, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := s.client.Set(ctx, key(name), b, 0).Err(); err != nil {
		return meta, fmt.Errorf("redis set %s: %w", key(name), err)
	}
	return meta, nil
}

// Restore persists meta under name verbatim, without stamping audit. Used
// by resume to put back a paused snapshot unchanged — unlike Save, it must
// not make resume-with-no-edits look like an edit.
func (s *Store) Restore(ctx context.Context, name string, meta domain.ScheduleMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := s.client.Set(ctx, key(name), b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key(name), err)
	}
	return nil
}

// Delete removes the metadata record for name. Idempotent.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, key(name)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key(name), err)
	}
	return nil
}
