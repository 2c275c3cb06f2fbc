// Package scheduler implements the Scheduler Loop: a single-process tick
// loop that reads the Schedule Registry, consults the Cron Planner for each
// entry's next fire instant, runs the dispatch gate, and pushes due entries
// onto the Dispatch Queue, per spec.md §4.4.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/catalog"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/cronplanner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatchqueue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/lock"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
)

// PreflightCheck is a named readiness probe evaluated before dispatch. A
// failing or unregistered check defers the fire to the next tick rather
// than advancing past it — preflight failures are transient by nature.
type PreflightCheck func(ctx context.Context) error

// scheduleRegistry is the subset of *registry.Registry the loop reads.
type scheduleRegistry interface {
	Scan(ctx context.Context) ([]domain.ScheduleEntry, error)
	Get(ctx context.Context, name string) (domain.ScheduleEntry, error)
	Put(ctx context.Context, entry domain.ScheduleEntry) error
}

type metadataStore interface {
	Load(ctx context.Context, name string) (domain.ScheduleMetadata, error)
	Save(ctx context.Context, name, actor string, meta domain.ScheduleMetadata) (domain.ScheduleMetadata, error)
}

type locker interface {
	Held(ctx context.Context, key string) (bool, error)
}

// dependencyStore is the subset of postgres.JobRunRepository the dependency
// recency gate needs.
type dependencyStore interface {
	LatestByTaskName(ctx context.Context, taskName string) (*domain.JobRun, error)
}

type dispatcher interface {
	Push(ctx context.Context, msg dispatchqueue.Message) error
}

// Loop is the Go analogue of the teacher's Postgres-claim Dispatcher,
// generalized to scan the Redis Schedule Registry and run the full
// maintenance-window/preflight/singleflight/dependency dispatch gate of
// spec.md §4.4 instead of a single SQL claim statement.
type Loop struct {
	registry     scheduleRegistry
	metadata     metadataStore
	lock         locker
	jobRuns      dependencyStore
	queue        dispatcher
	preflights   map[string]PreflightCheck
	nextFire     map[string]time.Time
	tickInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func New(
	reg scheduleRegistry,
	meta metadataStore,
	l locker,
	jobRuns dependencyStore,
	queue dispatcher,
	tickInterval time.Duration,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		registry:     reg,
		metadata:     meta,
		lock:         l,
		jobRuns:      jobRuns,
		queue:        queue,
		preflights:   make(map[string]PreflightCheck),
		nextFire:     make(map[string]time.Time),
		tickInterval: tickInterval,
		logger:       logger.With("component", "scheduler_loop"),
		now:          time.Now,
	}
}

// RegisterPreflight binds a named readiness probe referenced by
// ScheduleMetadata.PreflightChecks entries.
func (l *Loop) RegisterPreflight(name string, check PreflightCheck) {
	l.preflights[name] = check
}

// Run seeds the factory catalog if the registry is empty, then ticks until
// ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	if n, err := catalog.SeedIfEmpty(ctx, l.registry, l.metadata); err != nil {
		l.logger.ErrorContext(ctx, "catalog seed failed", "error", err)
	} else if n > 0 {
		l.logger.InfoContext(ctx, "seeded factory catalog", "count", n)
	}

	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.RunOnceAt(ctx, l.now().UTC())
}

// RunOnceAt evaluates a single tick as of the given instant. Exported so
// tests can drive the dispatch gate deterministically without a real ticker;
// the production Run loop always calls it via tick with l.now().
func (l *Loop) RunOnceAt(ctx context.Context, now time.Time) {
	entries, err := l.registry.Scan(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "registry scan failed", "error", err)
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		l.processEntry(ctx, entry, now)
	}

	metrics.SchedulerTickDuration.Observe(l.now().Sub(now).Seconds())
}

func (l *Loop) processEntry(ctx context.Context, entry domain.ScheduleEntry, now time.Time) {
	nextFire, ok := l.nextFire[entry.Name]
	if !ok {
		fire, err := cronplanner.Next(entry.CronExpr, entry.Timezone, now.Add(-time.Nanosecond))
		if err != nil {
			l.logger.ErrorContext(ctx, "invalid cron on registry entry", "schedule", entry.Name, "error", err)
			return
		}
		l.nextFire[entry.Name] = fire
		nextFire = fire
	}
	if now.Before(nextFire) {
		return
	}

	meta, err := l.metadata.Load(ctx, entry.Name)
	if err != nil {
		l.logger.ErrorContext(ctx, "metadata load failed", "schedule", entry.Name, "error", err)
		return
	}

	for _, w := range meta.MaintenanceWindows {
		if w.Contains(now) {
			l.gate(entry.Name, "maintenance_window")
			l.advanceTo(entry, w.End)
			return
		}
	}

	for _, name := range meta.PreflightChecks {
		check, registered := l.preflights[name]
		if !registered {
			l.logger.WarnContext(ctx, "preflight check not registered, deferring fire", "schedule", entry.Name, "check", name)
			l.gate(entry.Name, "preflight_unregistered")
			return
		}
		if err := check(ctx); err != nil {
			l.logger.WarnContext(ctx, "preflight check failed, deferring fire", "schedule", entry.Name, "check", name, "error", err)
			l.gate(entry.Name, "preflight_failed")
			return
		}
	}

	if meta.Safety.Singleflight {
		held, err := l.lock.Held(ctx, lock.Key(entry.Task, ""))
		if err != nil {
			l.logger.WarnContext(ctx, "lock peek failed, proceeding", "schedule", entry.Name, "error", err)
		} else if held {
			l.gate(entry.Name, "locked")
			l.advance(entry, nextFire)
			return
		}
	}

	if len(meta.Dependencies) > 0 {
		period := l.periodFor(entry, nextFire)
		for _, dep := range meta.Dependencies {
			satisfied, err := l.dependencySatisfied(ctx, dep, now, period)
			if err != nil {
				l.logger.WarnContext(ctx, "dependency recency check failed", "schedule", entry.Name, "dependency", dep, "error", err)
				continue
			}
			if !satisfied {
				l.gate(entry.Name, "dependency_not_ready")
				l.advance(entry, nextFire)
				return
			}
		}
	}

	msg := dispatchqueue.Message{
		Task:   entry.Task,
		Args:   entry.Args,
		Kwargs: entry.Kwargs,
		Options: dispatchqueue.Options{
			Queue:    meta.Queue,
			Priority: meta.Priority,
			Headers:  dispatchqueue.Headers{ScheduleMetadata: &meta},
		},
	}
	if err := l.queue.Push(ctx, msg); err != nil {
		l.logger.ErrorContext(ctx, "dispatch queue push failed, will retry next tick", "schedule", entry.Name, "error", err)
		return
	}

	metrics.SchedulerDispatchedTotal.WithLabelValues(entry.Name).Inc()
	l.advance(entry, nextFire)
}

func (l *Loop) gate(schedule, reason string) {
	metrics.SchedulerGatedTotal.WithLabelValues(schedule, reason).Inc()
}

func (l *Loop) advance(entry domain.ScheduleEntry, from time.Time) {
	next, err := cronplanner.Next(entry.CronExpr, entry.Timezone, from)
	if err != nil {
		l.logger.Error("advance next fire failed", "schedule", entry.Name, "error", err)
		return
	}
	l.nextFire[entry.Name] = next
}

// advanceTo skips the next fire past a suppressing instant (e.g. the end of
// a maintenance window) rather than the entry's own last fire.
func (l *Loop) advanceTo(entry domain.ScheduleEntry, after time.Time) {
	l.advance(entry, after.Add(-time.Nanosecond))
}

// periodFor estimates the entry's cron period as the gap between its
// current due fire and the one after it — the default dependency-recency
// window per spec.md §4.4 and §9's open-question resolution.
func (l *Loop) periodFor(entry domain.ScheduleEntry, fire time.Time) time.Duration {
	after, err := cronplanner.Next(entry.CronExpr, entry.Timezone, fire)
	if err != nil {
		return time.Hour
	}
	return after.Sub(fire)
}

func (l *Loop) dependencySatisfied(ctx context.Context, depName string, now time.Time, period time.Duration) (bool, error) {
	depEntry, err := l.registry.Get(ctx, depName)
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			return false, nil
		}
		return false, err
	}

	run, err := l.jobRuns.LatestByTaskName(ctx, depEntry.Task)
	if err != nil {
		if errors.Is(err, domain.ErrJobRunNotFound) {
			return false, nil
		}
		return false, err
	}
	if run.Status != domain.RunStatusOK || run.FinishedAt == nil {
		return false, nil
	}
	return now.Sub(*run.FinishedAt) <= period, nil
}
