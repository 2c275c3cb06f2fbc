package taskrunner_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/alert"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatchqueue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/taskrunner"
	"github.com/redis/go-redis/v9"
)

type fakeJobRuns struct {
	created  []string
	completed map[string]map[string]float64
	failed    map[string]string
	nextID    int
}

func (f *fakeJobRuns) Create(_ context.Context, taskName string, _ map[string]any, startedAt time.Time) (*domain.JobRun, error) {
	f.nextID++
	id := fmt.Sprintf("%s-%d", taskName, f.nextID)
	f.created = append(f.created, id)
	return &domain.JobRun{ID: id, TaskName: taskName, Status: domain.RunStatusRunning, StartedAt: startedAt}, nil
}

func (f *fakeJobRuns) Complete(_ context.Context, id string, counters map[string]float64, _ time.Time) error {
	if f.completed == nil {
		f.completed = make(map[string]map[string]float64)
	}
	f.completed[id] = counters
	return nil
}

func (f *fakeJobRuns) Fail(_ context.Context, id, errText string, _ time.Time) error {
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[id] = errText
	return nil
}

type fakeLock struct {
	held    map[string]bool
	acquired []string
	released []string
}

func (f *fakeLock) TryAcquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, key string) error {
	delete(f.held, key)
	f.released = append(f.released, key)
	return nil
}

type fakeDiscord struct{ sends int }

func (f *fakeDiscord) Send(_ context.Context, targets []string, _ alert.Embed) bool {
	if len(targets) == 0 {
		return false
	}
	f.sends++
	return true
}

type fakeProm struct{ pushes int }

func (f *fakeProm) Push(_ context.Context, endpoint, _ string, _ map[string]string, _ float64) {
	if endpoint != "" {
		f.pushes++
	}
}

func newRunner(t *testing.T, jr *fakeJobRuns, lk *fakeLock, disc *fakeDiscord, prom *fakeProm) *taskrunner.Runner {
	t.Helper()
	urls := map[string]string{"SYSTEM_STATUS": "https://discord.example/system"}
	r := taskrunner.New(nil, noopStatusPublisher{}, jr, lk, disc, prom, urls, slog.Default())
	return r
}

// noopStatusPublisher satisfies the narrow Set-only interface the status
// publish path needs; a real Redis client is unnecessary for these tests.
type noopStatusPublisher struct{}

func (noopStatusPublisher) Set(_ context.Context, _ string, _ any, _ time.Duration) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func TestHandleDispatched_SuccessCreatesOKJobRun(t *testing.T) {
	jr := &fakeJobRuns{}
	lk := &fakeLock{}
	disc := &fakeDiscord{}
	prom := &fakeProm{}
	r := newRunner(t, jr, lk, disc, prom)

	r.Register("demo.task", func(_ context.Context, _ []any, _ map[string]any) (map[string]float64, error) {
		return map[string]float64{"rows": 10}, nil
	})

	msg := dispatchqueue.Message{Task: "demo.task", Kwargs: map[string]any{"x": 1}}
	res := r.HandleDispatched(context.Background(), msg)

	if res.Outcome != taskrunner.OutcomeOK {
		t.Fatalf("outcome = %s, want ok", res.Outcome)
	}
	if len(jr.created) != 1 {
		t.Fatalf("expected one job run created, got %d", len(jr.created))
	}
	// No metadata header: the runner falls back to DefaultSafety, whose
	// single-flight lock is acquired and then released once.
	if len(lk.released) != 1 || lk.released[0] != "lock:demo.task" {
		t.Fatalf("expected the default single-flight lock released once, got released=%v", lk.released)
	}
}

func TestHandleDispatched_SingleflightLockedSkipsBeforeJobRun(t *testing.T) {
	jr := &fakeJobRuns{}
	lk := &fakeLock{held: map[string]bool{"lock:demo.task": true}}
	r := newRunner(t, jr, lk, &fakeDiscord{}, &fakeProm{})
	r.Register("demo.task", func(_ context.Context, _ []any, _ map[string]any) (map[string]float64, error) {
		t.Fatal("task body should not run when locked")
		return nil, nil
	})

	meta := domain.ScheduleMetadata{Safety: domain.Safety{Singleflight: true, TimeoutS: 60}}
	msg := dispatchqueue.Message{Task: "demo.task", Options: dispatchqueue.Options{Headers: dispatchqueue.Headers{ScheduleMetadata: &meta}}}
	res := r.HandleDispatched(context.Background(), msg)

	if res.Outcome != taskrunner.OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", res.Outcome)
	}
	if res.SkipReason != "locked" {
		t.Fatalf("skip reason = %q, want locked", res.SkipReason)
	}
	if len(jr.created) != 0 {
		t.Fatalf("expected no job run created on lock skip, got %d", len(jr.created))
	}
}

func TestHandleDispatched_ErrorRecordsFailureAndAlerts(t *testing.T) {
	jr := &fakeJobRuns{}
	lk := &fakeLock{}
	disc := &fakeDiscord{}
	prom := &fakeProm{}
	r := newRunner(t, jr, lk, disc, prom)

	r.Register("demo.task", func(_ context.Context, _ []any, _ map[string]any) (map[string]float64, error) {
		return nil, errors.New("boom")
	})

	meta := domain.ScheduleMetadata{
		Hooks: domain.Hooks{
			DiscordChannels:    []string{"system_status"},
			AlertOn:            []domain.AlertEvent{domain.AlertEventFailure},
			PrometheusEndpoint: "https://prom.example/push",
		},
	}
	msg := dispatchqueue.Message{Task: "demo.task", Options: dispatchqueue.Options{Headers: dispatchqueue.Headers{ScheduleMetadata: &meta}}}
	res := r.HandleDispatched(context.Background(), msg)

	if res.Outcome != taskrunner.OutcomeError {
		t.Fatalf("outcome = %s, want error", res.Outcome)
	}
	if len(jr.failed) != 1 {
		t.Fatalf("expected one failed job run recorded, got %d", len(jr.failed))
	}
	if disc.sends != 1 {
		t.Fatalf("expected one discord send, got %d", disc.sends)
	}
	if prom.pushes != 1 {
		t.Fatalf("expected one prometheus push, got %d", prom.pushes)
	}
}

func TestHandleDispatched_UnregisteredTaskFailsWithoutPanic(t *testing.T) {
	jr := &fakeJobRuns{}
	r := newRunner(t, jr, &fakeLock{}, &fakeDiscord{}, &fakeProm{})

	msg := dispatchqueue.Message{Task: "unknown.task"}
	res := r.HandleDispatched(context.Background(), msg)

	if res.Outcome != taskrunner.OutcomeError {
		t.Fatalf("outcome = %s, want error", res.Outcome)
	}
	if len(jr.failed) != 1 {
		t.Fatalf("expected the job run to be marked failed, got %d", len(jr.failed))
	}
}
