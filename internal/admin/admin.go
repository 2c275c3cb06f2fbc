// Package admin implements the Admin Interface's business logic: the
// operations spec.md §4.6 describes as "logical" endpoints, independent of
// HTTP. The handler package binds these to routes and status codes.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/catalog"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/cronplanner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatchqueue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/google/uuid"
)

// scheduleRegistry is the subset of *registry.Registry the service needs.
type scheduleRegistry interface {
	Put(ctx context.Context, entry domain.ScheduleEntry) error
	Get(ctx context.Context, name string) (domain.ScheduleEntry, error)
	Delete(ctx context.Context, name string) error
	Scan(ctx context.Context) ([]domain.ScheduleEntry, error)
	PutPaused(ctx context.Context, name string, payload domain.PausedPayload) error
	GetPaused(ctx context.Context, name string) (domain.PausedPayload, error)
	DeletePaused(ctx context.Context, name string) error
	ScanPaused(ctx context.Context) (map[string]domain.PausedPayload, error)
	Pause(ctx context.Context, entry domain.ScheduleEntry, meta domain.ScheduleMetadata) error
	Resume(ctx context.Context, entry domain.ScheduleEntry) error
}

type metadataStore interface {
	Load(ctx context.Context, name string) (domain.ScheduleMetadata, error)
	Save(ctx context.Context, name, actor string, meta domain.ScheduleMetadata) (domain.ScheduleMetadata, error)
	Restore(ctx context.Context, name string, meta domain.ScheduleMetadata) error
	Delete(ctx context.Context, name string) error
}

// jobRunLookup is the subset of postgres.JobRunRepository the admin service
// needs to annotate list/catalog responses with a "last run" summary.
type jobRunLookup interface {
	LatestByTaskName(ctx context.Context, taskName string) (*domain.JobRun, error)
}

type dispatcher interface {
	Push(ctx context.Context, msg dispatchqueue.Message) error
}

// Status is the active/paused tag attached to each entry in list().
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// ScheduleView is one row of the list() response: the entry, its metadata,
// its active/paused status, and the most recent JobRun for its task, if any.
type ScheduleView struct {
	Entry    domain.ScheduleEntry    `json:"entry"`
	Metadata domain.ScheduleMetadata `json:"metadata"`
	Status   Status                  `json:"status"`
	LastRun  *domain.JobRun          `json:"last_run,omitempty"`
}

// CatalogItem is one row of the catalog() response.
type CatalogItem struct {
	Template catalog.Template `json:"template"`
	LastRun  *domain.JobRun   `json:"last_run,omitempty"`
}

// CreateInput is the create() request shape.
type CreateInput struct {
	Name     string
	Task     string
	CronExpr string
	Timezone string
	Args     []any
	Kwargs   map[string]any
	Metadata *domain.MetadataPatch
}

// UpdateInput is the update() request shape. CronExpr is mandatory per
// spec.md §4.6's "ambiguous-identity rejection" rule.
type UpdateInput struct {
	CronExpr string
	Timezone *string
	Args     *[]any
	Kwargs   *map[string]any
	Metadata *domain.MetadataPatch
}

// Service implements every admin operation over the Schedule Registry,
// Metadata Store, JobRun store, and Dispatch Queue.
type Service struct {
	registry scheduleRegistry
	metadata metadataStore
	jobRuns  jobRunLookup
	queue    dispatcher
	now      func() time.Time
	newRunID func() string
}

func New(reg scheduleRegistry, meta metadataStore, jobRuns jobRunLookup, queue dispatcher) *Service {
	return &Service{
		registry: reg,
		metadata: meta,
		jobRuns:  jobRuns,
		queue:    queue,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// List merges active and paused entries, each annotated with its most
// recent JobRun (by the entry's task name), per spec.md §4.6.
func (s *Service) List(ctx context.Context) ([]ScheduleView, error) {
	active, err := s.registry.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan registry: %w", err)
	}
	paused, err := s.registry.ScanPaused(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan paused registry: %w", err)
	}

	views := make([]ScheduleView, 0, len(active)+len(paused))
	for _, entry := range active {
		meta, err := s.metadata.Load(ctx, entry.Name)
		if err != nil {
			return nil, fmt.Errorf("load metadata %s: %w", entry.Name, err)
		}
		views = append(views, ScheduleView{
			Entry:    entry,
			Metadata: meta,
			Status:   StatusActive,
			LastRun:  s.lastRun(ctx, entry.Task),
		})
	}
	for name, payload := range paused {
		views = append(views, ScheduleView{
			Entry:    payload.Entry,
			Metadata: payload.Metadata,
			Status:   StatusPaused,
			LastRun:  s.lastRun(ctx, payload.Entry.Task),
		})
		_ = name
	}
	return views, nil
}

func (s *Service) lastRun(ctx context.Context, taskName string) *domain.JobRun {
	run, err := s.jobRuns.LatestByTaskName(ctx, taskName)
	if err != nil {
		return nil
	}
	return run
}

// Create validates cron/timezone, rejects a name collision with either side
// of the registry, stamps create-audit, and writes both stores.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (domain.ScheduleEntry, error) {
	var entry domain.ScheduleEntry
	if err := cronplanner.Validate(in.CronExpr, in.Timezone); err != nil {
		return entry, err
	}
	if err := s.rejectNameConflict(ctx, in.Name); err != nil {
		return entry, err
	}

	entry = domain.ScheduleEntry{
		Name:     in.Name,
		Task:     in.Task,
		CronExpr: in.CronExpr,
		Timezone: in.Timezone,
		Args:     in.Args,
		Kwargs:   in.Kwargs,
		Enabled:  true,
	}
	if err := s.registry.Put(ctx, entry); err != nil {
		return entry, fmt.Errorf("put entry %s: %w", entry.Name, err)
	}

	meta := domain.DefaultMetadata()
	if in.Metadata != nil {
		meta = in.Metadata.Apply(meta)
	}
	if _, err := s.metadata.Save(ctx, in.Name, actor, meta); err != nil {
		return entry, fmt.Errorf("save metadata %s: %w", entry.Name, err)
	}
	return entry, nil
}

func (s *Service) rejectNameConflict(ctx context.Context, name string) error {
	if _, err := s.registry.Get(ctx, name); err == nil {
		return domain.ErrScheduleNameConflict
	} else if !errors.Is(err, domain.ErrScheduleNotFound) {
		return fmt.Errorf("check active conflict: %w", err)
	}
	if _, err := s.registry.GetPaused(ctx, name); err == nil {
		return domain.ErrScheduleNameConflict
	} else if !errors.Is(err, domain.ErrPausedSnapshotMissing) {
		return fmt.Errorf("check paused conflict: %w", err)
	}
	return nil
}

// Update requires cron explicitly, then delete+recreates the registry entry
// and partial-merges the metadata patch, per spec.md §4.6.
func (s *Service) Update(ctx context.Context, actor, name string, in UpdateInput) (domain.ScheduleEntry, error) {
	var updated domain.ScheduleEntry
	if in.CronExpr == "" {
		return updated, domain.ErrCronRequiredOnUpdate
	}

	existing, err := s.registry.Get(ctx, name)
	if err != nil {
		return updated, err
	}

	timezone := existing.Timezone
	if in.Timezone != nil {
		timezone = *in.Timezone
	}
	if err := cronplanner.Validate(in.CronExpr, timezone); err != nil {
		return updated, err
	}

	updated = existing
	updated.CronExpr = in.CronExpr
	updated.Timezone = timezone
	if in.Args != nil {
		updated.Args = *in.Args
	}
	if in.Kwargs != nil {
		updated.Kwargs = *in.Kwargs
	}

	if err := s.registry.Delete(ctx, name); err != nil {
		return updated, fmt.Errorf("delete entry %s: %w", name, err)
	}
	if err := s.registry.Put(ctx, updated); err != nil {
		return updated, fmt.Errorf("put entry %s: %w", name, err)
	}

	base, err := s.metadata.Load(ctx, name)
	if err != nil {
		return updated, fmt.Errorf("load metadata %s: %w", name, err)
	}
	merged := base
	if in.Metadata != nil {
		merged = in.Metadata.Apply(base)
	}
	if _, err := s.metadata.Save(ctx, name, actor, merged); err != nil {
		return updated, fmt.Errorf("save metadata %s: %w", name, err)
	}
	return updated, nil
}

// Delete removes both the registry entry and its metadata.
func (s *Service) Delete(ctx context.Context, name string) error {
	if _, err := s.registry.Get(ctx, name); err != nil {
		return err
	}
	if err := s.registry.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete entry %s: %w", name, err)
	}
	if err := s.metadata.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete metadata %s: %w", name, err)
	}
	return nil
}

// Pause snapshots the entry+metadata to the paused side and removes the
// active entry. Rejects a no-op double-pause of an already-paused schedule.
func (s *Service) Pause(ctx context.Context, name string) error {
	if _, err := s.registry.GetPaused(ctx, name); err == nil {
		return domain.ErrScheduleAlreadyPaused
	} else if !errors.Is(err, domain.ErrPausedSnapshotMissing) {
		return fmt.Errorf("check paused snapshot %s: %w", name, err)
	}

	entry, err := s.registry.Get(ctx, name)
	if err != nil {
		return err
	}
	meta, err := s.metadata.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load metadata %s: %w", name, err)
	}
	if err := s.registry.Pause(ctx, entry, meta); err != nil {
		return fmt.Errorf("pause %s: %w", name, err)
	}
	return nil
}

// ResumeInput optionally overrides the paused snapshot's cron/timezone.
type ResumeInput struct {
	CronExpr *string
	Timezone *string
}

// Resume requires a paused snapshot to exist; cron comes from the caller's
// override or the snapshot, per spec.md §4.6 — never inferred from neither.
// Rejects a no-op double-resume of a schedule that is already active.
func (s *Service) Resume(ctx context.Context, actor, name string, in ResumeInput) (domain.ScheduleEntry, error) {
	var entry domain.ScheduleEntry
	if _, err := s.registry.Get(ctx, name); err == nil {
		return entry, domain.ErrScheduleNotPaused
	} else if !errors.Is(err, domain.ErrScheduleNotFound) {
		return entry, fmt.Errorf("check active entry %s: %w", name, err)
	}

	payload, err := s.registry.GetPaused(ctx, name)
	if err != nil {
		return entry, err
	}

	entry = payload.Entry
	if in.CronExpr != nil {
		entry.CronExpr = *in.CronExpr
	}
	if in.Timezone != nil {
		entry.Timezone = *in.Timezone
	}
	if entry.CronExpr == "" {
		return entry, domain.ErrCronRequiredOnResume
	}
	if err := cronplanner.Validate(entry.CronExpr, entry.Timezone); err != nil {
		return entry, err
	}
	entry.Enabled = true

	if err := s.registry.Resume(ctx, entry); err != nil {
		return entry, fmt.Errorf("resume %s: %w", name, err)
	}
	// Restore, not Save: an unedited pause/resume round trip must leave the
	// metadata (including its audit stamp) byte-equal to the pre-pause
	// snapshot, per spec.md §8 Testable Property 5.
	if err := s.metadata.Restore(ctx, name, payload.Metadata); err != nil {
		return entry, fmt.Errorf("restore metadata %s: %w", name, err)
	}
	return entry, nil
}

// Preview delegates straight to the Cron Planner.
func (s *Service) Preview(cronExpr, timezone string, count int) ([]time.Time, error) {
	return cronplanner.NextN(cronExpr, timezone, s.now().UTC(), count)
}

// ExportedSchedule is one entry of the export() payload — entry + metadata,
// the same shape import() consumes.
type ExportedSchedule struct {
	Entry    domain.ScheduleEntry    `json:"entry"`
	Metadata domain.ScheduleMetadata `json:"metadata"`
}

// Export dumps every active entry with its metadata.
func (s *Service) Export(ctx context.Context) ([]ExportedSchedule, error) {
	entries, err := s.registry.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan registry: %w", err)
	}
	out := make([]ExportedSchedule, 0, len(entries))
	for _, entry := range entries {
		meta, err := s.metadata.Load(ctx, entry.Name)
		if err != nil {
			return nil, fmt.Errorf("load metadata %s: %w", entry.Name, err)
		}
		out = append(out, ExportedSchedule{Entry: entry, Metadata: meta})
	}
	return out, nil
}

// ImportResult reports how many entries imported cleanly and which failed.
type ImportResult struct {
	Created int
	Errors  map[string]string
}

// Import bulk-upserts a previously exported payload. Per-entry failures are
// tolerated and counted rather than aborting the whole batch, per spec.md
// §4.6.
func (s *Service) Import(ctx context.Context, actor string, schedules []ExportedSchedule) ImportResult {
	result := ImportResult{Errors: make(map[string]string)}
	for _, sched := range schedules {
		if err := cronplanner.Validate(sched.Entry.CronExpr, sched.Entry.Timezone); err != nil {
			result.Errors[sched.Entry.Name] = err.Error()
			continue
		}
		if err := s.registry.Put(ctx, sched.Entry); err != nil {
			result.Errors[sched.Entry.Name] = err.Error()
			continue
		}
		if _, err := s.metadata.Save(ctx, sched.Entry.Name, actor, sched.Metadata); err != nil {
			result.Errors[sched.Entry.Name] = err.Error()
			continue
		}
		result.Created++
	}
	return result
}

// RunNow dispatches a one-off invocation directly to the Dispatch Queue,
// bypassing the registry/scheduler entirely, and returns an opaque run id
// the caller can correlate against the last-status blob or JobRun table.
func (s *Service) RunNow(ctx context.Context, task string, args []any, kwargs map[string]any) (string, error) {
	runID := s.newRunID()
	if kwargs == nil {
		kwargs = make(map[string]any)
	}
	kwargs["_run_id"] = runID

	msg := dispatchqueue.Message{
		Task:   task,
		Args:   args,
		Kwargs: kwargs,
		Options: dispatchqueue.Options{
			Headers: dispatchqueue.Headers{},
		},
	}
	if err := s.queue.Push(ctx, msg); err != nil {
		return "", fmt.Errorf("dispatch run-now %s: %w", task, err)
	}
	return runID, nil
}

// Catalog returns the factory catalog, each template annotated with its
// most recent JobRun.
func (s *Service) Catalog(ctx context.Context) map[string][]CatalogItem {
	grouped := catalog.ByGroup(catalog.Default)
	out := make(map[string][]CatalogItem, len(grouped))
	for group, templates := range grouped {
		items := make([]CatalogItem, 0, len(templates))
		for _, tmpl := range templates {
			items = append(items, CatalogItem{Template: tmpl, LastRun: s.lastRun(ctx, tmpl.Task)})
		}
		out[group] = items
	}
	return out
}
