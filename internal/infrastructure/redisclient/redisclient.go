// Package redisclient builds the shared Redis connection the Schedule
// Registry, Metadata Store, single-flight lock, and Dispatch Queue are all
// thin wrappers over.
package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger adapts redis.UniversalClient's *redis.StatusCmd-returning Ping to
// the plain `Ping(ctx) error` shape internal/health.Pinger expects.
type Pinger struct {
	Client redis.UniversalClient
}

func (p Pinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

func New(ctx context.Context, redisURL string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
