package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatchqueue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRegistry struct {
	entries map[string]domain.ScheduleEntry
}

func (f *fakeRegistry) Scan(_ context.Context) ([]domain.ScheduleEntry, error) {
	var out []domain.ScheduleEntry
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeRegistry) Get(_ context.Context, name string) (domain.ScheduleEntry, error) {
	e, ok := f.entries[name]
	if !ok {
		return domain.ScheduleEntry{}, domain.ErrScheduleNotFound
	}
	return e, nil
}

func (f *fakeRegistry) Put(_ context.Context, entry domain.ScheduleEntry) error {
	f.entries[entry.Name] = entry
	return nil
}

type fakeMetaStore struct {
	byName map[string]domain.ScheduleMetadata
}

func (f *fakeMetaStore) Load(_ context.Context, name string) (domain.ScheduleMetadata, error) {
	if m, ok := f.byName[name]; ok {
		return m, nil
	}
	return domain.DefaultMetadata(), nil
}

func (f *fakeMetaStore) Save(_ context.Context, name, _ string, meta domain.ScheduleMetadata) (domain.ScheduleMetadata, error) {
	if f.byName == nil {
		f.byName = make(map[string]domain.ScheduleMetadata)
	}
	f.byName[name] = meta
	return meta, nil
}

type fakeLock struct{ heldKeys map[string]bool }

func (f *fakeLock) Held(_ context.Context, key string) (bool, error) {
	return f.heldKeys[key], nil
}

type fakeDeps struct{ runs map[string]*domain.JobRun }

func (f *fakeDeps) LatestByTaskName(_ context.Context, taskName string) (*domain.JobRun, error) {
	r, ok := f.runs[taskName]
	if !ok {
		return nil, domain.ErrJobRunNotFound
	}
	return r, nil
}

type fakeDispatcher struct{ pushed []dispatchqueue.Message }

func (f *fakeDispatcher) Push(_ context.Context, msg dispatchqueue.Message) error {
	f.pushed = append(f.pushed, msg)
	return nil
}

func newLoop(reg *fakeRegistry, meta *fakeMetaStore, lk *fakeLock, deps *fakeDeps, disp *fakeDispatcher) *scheduler.Loop {
	return scheduler.New(reg, meta, lk, deps, disp, time.Second, discardLogger())
}

func TestLoop_DispatchesDueEnabledEntry(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]domain.ScheduleEntry{
		"probe": {Name: "probe", Task: "monitor.health", CronExpr: "0 * * * *", Timezone: "UTC", Enabled: true},
	}}
	meta := &fakeMetaStore{}
	lk := &fakeLock{}
	deps := &fakeDeps{}
	disp := &fakeDispatcher{}
	l := newLoop(reg, meta, lk, deps, disp)

	l.RunOnceAt(context.Background(), mustParse(t, "2026-01-01T00:00:00Z"))
	l.RunOnceAt(context.Background(), mustParse(t, "2026-01-01T01:00:01Z"))

	// The first tick lands exactly on the 00:00 fire and the second just
	// after the 01:00 fire, so each tick dispatches once.
	if len(disp.pushed) != 2 {
		t.Fatalf("expected two dispatches, got %d", len(disp.pushed))
	}
	if disp.pushed[0].Task != "monitor.health" {
		t.Errorf("dispatched task = %q, want monitor.health", disp.pushed[0].Task)
	}
}

func TestLoop_MaintenanceWindowSuppressesFire(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]domain.ScheduleEntry{
		"probe": {Name: "probe", Task: "monitor.health", CronExpr: "0 * * * *", Timezone: "UTC", Enabled: true},
	}}
	windowStart := mustParse(t, "2026-01-01T00:00:00Z")
	windowEnd := mustParse(t, "2026-01-01T02:00:00Z")
	meta := &fakeMetaStore{byName: map[string]domain.ScheduleMetadata{
		"probe": {
			Safety: domain.DefaultSafety(),
			Hooks:  domain.DefaultHooks(),
			MaintenanceWindows: []domain.MaintenanceWindow{
				{Start: windowStart, End: windowEnd, Timezone: "UTC"},
			},
		},
	}}
	disp := &fakeDispatcher{}
	l := newLoop(reg, meta, &fakeLock{}, &fakeDeps{}, disp)

	l.RunOnceAt(context.Background(), windowStart)
	l.RunOnceAt(context.Background(), mustParse(t, "2026-01-01T01:00:01Z"))

	if len(disp.pushed) != 0 {
		t.Fatalf("expected no dispatch during maintenance window, got %d", len(disp.pushed))
	}
}

func TestLoop_SingleflightLockedSkipsDispatch(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]domain.ScheduleEntry{
		"probe": {Name: "probe", Task: "monitor.health", CronExpr: "0 * * * *", Timezone: "UTC", Enabled: true},
	}}
	meta := &fakeMetaStore{byName: map[string]domain.ScheduleMetadata{
		"probe": {Safety: domain.Safety{Singleflight: true, TimeoutS: 60}, Hooks: domain.DefaultHooks()},
	}}
	lk := &fakeLock{heldKeys: map[string]bool{"lock:monitor.health": true}}
	disp := &fakeDispatcher{}
	l := newLoop(reg, meta, lk, &fakeDeps{}, disp)

	l.RunOnceAt(context.Background(), mustParse(t, "2026-01-01T00:00:00Z"))
	l.RunOnceAt(context.Background(), mustParse(t, "2026-01-01T01:00:01Z"))

	if len(disp.pushed) != 0 {
		t.Fatalf("expected no dispatch while locked, got %d", len(disp.pushed))
	}
}

func TestLoop_DependencyNotReadySkipsDispatch(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]domain.ScheduleEntry{
		"downstream": {Name: "downstream", Task: "market_data.recompute", CronExpr: "0 * * * *", Timezone: "UTC", Enabled: true},
		"upstream":   {Name: "upstream", Task: "market_data.backfill", CronExpr: "0 * * * *", Timezone: "UTC", Enabled: true},
	}}
	meta := &fakeMetaStore{byName: map[string]domain.ScheduleMetadata{
		"downstream": {Safety: domain.DefaultSafety(), Hooks: domain.DefaultHooks(), Dependencies: []string{"upstream"}},
	}}
	disp := &fakeDispatcher{}
	l := newLoop(reg, meta, &fakeLock{}, &fakeDeps{}, disp)

	l.RunOnceAt(context.Background(), mustParse(t, "2026-01-01T00:00:00Z"))
	l.RunOnceAt(context.Background(), mustParse(t, "2026-01-01T01:00:01Z"))

	if len(disp.pushed) != 0 {
		t.Fatalf("expected no dispatch with unsatisfied dependency, got %d", len(disp.pushed))
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return ts
}
