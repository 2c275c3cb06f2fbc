// Package dispatchqueue implements the Dispatch Queue: a Redis list that
// carries dispatched task messages from the Scheduler Loop to Task Runner
// workers. The wire shape mirrors spec.md §6's dispatch-queue message.
package dispatchqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/redis/go-redis/v9"
)

const listKey = "dispatch:queue"

// Options carries routing hints and the schedule-metadata header a Task
// Runner needs to pick alert hooks and thresholds for a dispatched run.
type Options struct {
	Queue    string  `json:"queue,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	Headers  Headers `json:"headers"`
}

type Headers struct {
	ScheduleMetadata *domain.ScheduleMetadata `json:"schedule_metadata,omitempty"`
}

// Message is one unit of dispatched work.
type Message struct {
	Task    string         `json:"task"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	Options Options        `json:"options"`
}

// Queue wraps a Redis list with blocking pop semantics.
type Queue struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Queue {
	return &Queue{client: client}
}

// Push enqueues msg at the head of the list; Pop takes from the tail.
func (q *Queue) Push(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dispatch message: %w", err)
	}
	if err := q.client.LPush(ctx, listKey, b).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", listKey, err)
	}
	return nil
}

// Pop blocks up to timeout for a message, FIFO order (oldest pushed first).
// Returns (nil, nil) on timeout with no message available.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Message, error) {
	res, err := q.client.BRPop(ctx, timeout, listKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis brpop %s: %w", listKey, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply shape: %v", res)
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal dispatch message: %w", err)
	}
	return &msg, nil
}
