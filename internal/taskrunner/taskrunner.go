// Package taskrunner implements the Task Runner: the fixed protocol that
// wraps every dispatched task invocation with single-flight locking, JobRun
// persistence, status publication, and alert emission, per spec.md §4.5.
// It is a direct Go restructuring of the source's task_run decorator
// (original_source/backend/tasks/task_utils.py) as an explicit
// acquire-lock -> create-jobrun -> invoke -> record-outcome -> release-lock
// pipeline instead of try/except/finally.
package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/alert"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatchqueue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/lock"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Outcome is the terminal shape of one dispatched task invocation.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// Result is the explicit {Ok, Err, Skipped} variant spec.md §9 calls for in
// place of exception-based control flow.
type Result struct {
	Outcome    Outcome
	JobRun     *domain.JobRun
	SkipReason string
	LockKey    string
	Err        error
}

// TaskFunc is a registered task body. It returns a flat counters map on
// success (the Go analogue of the source's "structured dict return"); a
// non-nil error is recorded as the JobRun's terminal failure.
type TaskFunc func(ctx context.Context, args []any, kwargs map[string]any) (map[string]float64, error)

// jobRunStore is the subset of postgres.JobRunRepository the runner needs,
// defined at point of use so the pipeline is unit-testable against a fake.
type jobRunStore interface {
	Create(ctx context.Context, taskName string, params map[string]any, startedAt time.Time) (*domain.JobRun, error)
	Complete(ctx context.Context, id string, counters map[string]float64, finishedAt time.Time) error
	Fail(ctx context.Context, id, errText string, finishedAt time.Time) error
}

type locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type discordSender interface {
	Send(ctx context.Context, targets []string, embed alert.Embed) bool
}

type prometheusPusher interface {
	Push(ctx context.Context, endpoint, metric string, labels map[string]string, value float64)
}

// statusPublisher is the slice of redis.UniversalClient the last-status
// blob write needs, defined at point of use so the pipeline is testable
// without a full Redis client.
type statusPublisher interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

const defaultLockTTL = 30 * time.Minute

// Runner consumes the Dispatch Queue and executes registered tasks under
// the fixed protocol.
type Runner struct {
	queue       *dispatchqueue.Queue
	statusRepo  statusPublisher
	jobRuns     jobRunStore
	lock        locker
	discord     discordSender
	prom        prometheusPusher
	urlsByAlias map[string]string
	tasks       map[string]TaskFunc
	logger      *slog.Logger
	now         func() time.Time
}

func New(
	queue *dispatchqueue.Queue,
	statusRepo statusPublisher,
	jobRuns jobRunStore,
	l locker,
	discord discordSender,
	prom prometheusPusher,
	urlsByAlias map[string]string,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		queue:       queue,
		statusRepo:  statusRepo,
		jobRuns:     jobRuns,
		lock:        l,
		discord:     discord,
		prom:        prom,
		urlsByAlias: urlsByAlias,
		tasks:       make(map[string]TaskFunc),
		logger:      logger.With("component", "taskrunner"),
		now:         time.Now,
	}
}

// Register binds a TaskFunc to the dotted-path identifier a ScheduleEntry's
// Task field names. Registering the same name twice overwrites the prior
// binding; callers typically register the full set once at startup.
func (r *Runner) Register(task string, fn TaskFunc) {
	r.tasks[task] = fn
}

// Run blocks consuming the Dispatch Queue until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := r.queue.Pop(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorContext(ctx, "dispatch queue pop failed", "error", err)
			continue
		}
		if msg == nil {
			continue
		}

		res := r.HandleDispatched(ctx, *msg)
		switch res.Outcome {
		case OutcomeSkipped:
			metrics.TasksSkippedTotal.WithLabelValues(msg.Task, res.SkipReason).Inc()
		case OutcomeError:
			r.logger.ErrorContext(ctx, "task invocation failed", "task", msg.Task, "error", res.Err)
		}
	}
}

// Message is a local alias for readability at call sites.
type Message = dispatchqueue.Message

// HandleDispatched runs the fixed protocol for one dispatched message. It
// never returns an error to its own caller: failures are recorded on the
// Result and in the JobRun, matching the source's "record then re-raise"
// shape without unwinding the runner's own loop. Exported so tests and a
// future non-queue caller (e.g. run-now) can drive the pipeline directly.
func (r *Runner) HandleDispatched(ctx context.Context, msg Message) Result {
	meta := scheduleMetadata(msg)

	lockKey, ttl, wantsLock := lockParams(msg.Task, meta)
	if wantsLock {
		acquired, err := r.lock.TryAcquire(ctx, lockKey, ttl)
		if err != nil {
			r.logger.WarnContext(ctx, "lock acquire failed, proceeding unlocked", "task", msg.Task, "error", err)
		} else if !acquired {
			return Result{Outcome: OutcomeSkipped, SkipReason: "locked", LockKey: lockKey}
		}
		defer func() {
			if err := r.lock.Release(ctx, lockKey); err != nil {
				r.logger.WarnContext(ctx, "lock release failed", "task", msg.Task, "key", lockKey, "error", err)
			}
		}()
	}

	started := r.now().UTC()
	jr, err := r.jobRuns.Create(ctx, msg.Task, msg.Kwargs, started)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("create job run: %w", err)}
	}

	r.publishStatus(ctx, msg.Task, "running", map[string]any{"id": jr.ID, "params": msg.Kwargs})

	metrics.TasksInFlight.Inc()
	fn, ok := r.tasks[msg.Task]
	if !ok {
		metrics.TasksInFlight.Dec()
		return r.finalizeError(ctx, jr, msg.Task, meta, started, errors.New("no task registered for "+msg.Task))
	}

	counters, runErr := fn(ctx, msg.Args, msg.Kwargs)
	metrics.TasksInFlight.Dec()

	if runErr != nil {
		return r.finalizeError(ctx, jr, msg.Task, meta, started, runErr)
	}
	return r.finalizeOK(ctx, jr, msg.Task, meta, started, counters)
}

func (r *Runner) finalizeOK(ctx context.Context, jr *domain.JobRun, task string, meta domain.ScheduleMetadata, started time.Time, counters map[string]float64) Result {
	finished := r.now().UTC()
	if err := r.jobRuns.Complete(ctx, jr.ID, counters, finished); err != nil {
		r.logger.ErrorContext(ctx, "persist job run completion failed", "task", task, "error", err)
	}
	jr.Status = domain.RunStatusOK
	jr.FinishedAt = &finished
	jr.Counters = counters

	r.publishStatus(ctx, task, "ok", map[string]any{"id": jr.ID, "counters": counters})

	duration := finished.Sub(started).Seconds()
	metrics.TaskDuration.WithLabelValues(task, string(domain.RunStatusOK)).Observe(duration)
	metrics.TasksCompletedTotal.WithLabelValues(task, "ok").Inc()

	r.emitAlert(ctx, domain.AlertEventSuccess, task, jr, meta, duration, "")
	if slowThreshold(meta) > 0 && duration > slowThreshold(meta) {
		r.emitAlert(ctx, domain.AlertEventSlow, task, jr, meta, duration, "")
	}

	return Result{Outcome: OutcomeOK, JobRun: jr}
}

func (r *Runner) finalizeError(ctx context.Context, jr *domain.JobRun, task string, meta domain.ScheduleMetadata, started time.Time, taskErr error) Result {
	finished := r.now().UTC()
	errText := taskErr.Error()
	if err := r.jobRuns.Fail(ctx, jr.ID, errText, finished); err != nil {
		r.logger.ErrorContext(ctx, "persist job run failure failed", "task", task, "error", err)
	}
	jr.Status = domain.RunStatusError
	jr.FinishedAt = &finished
	jr.Error = &errText

	r.publishStatus(ctx, task, "error", map[string]any{"id": jr.ID, "error": errText})

	duration := finished.Sub(started).Seconds()
	metrics.TaskDuration.WithLabelValues(task, string(domain.RunStatusError)).Observe(duration)
	metrics.TasksCompletedTotal.WithLabelValues(task, "error").Inc()

	r.emitAlert(ctx, domain.AlertEventFailure, task, jr, meta, duration, errText)

	return Result{Outcome: OutcomeError, JobRun: jr, Err: taskErr}
}

// emitAlert mirrors the source's _emit_alerts: the Prometheus sample always
// fires (cheap telemetry), the Discord embed only if event is opted into
// hooks.alert_on.
func (r *Runner) emitAlert(ctx context.Context, event domain.AlertEvent, task string, jr *domain.JobRun, meta domain.ScheduleMetadata, duration float64, errText string) {
	queue := meta.Queue
	if queue == "" {
		queue = "default"
	}
	if meta.Hooks.PrometheusEndpoint != "" {
		r.prom.Push(ctx, meta.Hooks.PrometheusEndpoint, "quantmatrix_task_duration_seconds",
			map[string]string{"task": task, "event": string(event), "queue": queue}, duration)
	}

	if !meta.Hooks.Has(event) {
		return
	}
	targets := alert.ResolveTargets(discordDescriptors(meta.Hooks), r.urlsByAlias)
	if len(targets) == 0 {
		return
	}

	description := fmt.Sprintf("Task %s reported %s.", task, event)
	if len(meta.Hooks.DiscordMentions) > 0 {
		description = fmt.Sprintf("%s\n%s", description, joinMentions(meta.Hooks.DiscordMentions))
	}
	notes := ""
	if errText == "" {
		notes = meta.Notes
	}
	embed := alert.NewEmbed(event, task, description, errText, notes)
	r.discord.Send(ctx, targets, embed)
}

func (r *Runner) publishStatus(ctx context.Context, task, status string, payload map[string]any) {
	body := map[string]any{
		"task":    task,
		"status":  status,
		"ts":      r.now().UTC().Format(time.RFC3339),
		"payload": payload,
	}
	b, err := json.Marshal(body)
	if err != nil {
		r.logger.WarnContext(ctx, "marshal task status", "task", task, "error", err)
		return
	}
	key := "taskstatus:" + task + ":last"
	// Store failures on the status path are best-effort, retried once,
	// then swallowed per spec.md §7.
	if err := r.statusRepo.Set(ctx, key, b, 0).Err(); err != nil {
		if err := r.statusRepo.Set(ctx, key, b, 0).Err(); err != nil {
			r.logger.WarnContext(ctx, "publish task status failed", "task", task, "error", err)
		}
	}
}

func scheduleMetadata(msg Message) domain.ScheduleMetadata {
	if msg.Options.Headers.ScheduleMetadata != nil {
		return *msg.Options.Headers.ScheduleMetadata
	}
	return domain.ScheduleMetadata{Hooks: domain.DefaultHooks(), Safety: domain.DefaultSafety()}
}

func lockParams(task string, meta domain.ScheduleMetadata) (key string, ttl time.Duration, wants bool) {
	if !meta.Safety.Singleflight {
		return "", 0, false
	}
	ttl = defaultLockTTL
	if meta.Safety.TimeoutS > 0 {
		ttl = time.Duration(meta.Safety.TimeoutS) * time.Second
	}
	return lock.Key(task, ""), ttl, true
}

func slowThreshold(meta domain.ScheduleMetadata) float64 {
	if meta.Hooks.SlowThresholdS != nil {
		return float64(*meta.Hooks.SlowThresholdS)
	}
	if meta.Safety.TimeoutS > 0 {
		return float64(meta.Safety.TimeoutS)
	}
	return 0
}

func discordDescriptors(h domain.Hooks) []string {
	var out []string
	if h.DiscordWebhook != "" {
		out = append(out, h.DiscordWebhook)
	}
	out = append(out, h.DiscordChannels...)
	return out
}

func joinMentions(mentions []string) string {
	out := ""
	for i, m := range mentions {
		if i > 0 {
			out += " "
		}
		out += m
	}
	return out
}
