// Package catalog holds the factory-default set of recurring tasks the
// scheduler seeds into the Schedule Registry on first startup. Entries are
// grouped by logical group (market_data, accounts, maintenance) for the
// Admin Interface's catalog() endpoint.
package catalog

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// Template is a factory-default schedule definition, the Go analogue of the
// original JobTemplate dataclass.
type Template struct {
	Name     string
	Task     string
	CronExpr string
	Timezone string
	Group    string
	Safety   domain.Safety
	Notes    string
}

const (
	GroupMarketData = "market_data"
	GroupAccounts   = "accounts"
	GroupMaintenance = "maintenance"
)

// Default is the factory catalog.
var Default = []Template{
	{
		Name:     "refresh-index-constituents",
		Task:     "market_data.refresh_index_constituents",
		CronExpr: "30 5 * * *",
		Timezone: "America/New_York",
		Group:    GroupMarketData,
		Safety:   domain.DefaultSafety(),
		Notes:    "Pulls the latest index membership before the market opens.",
	},
	{
		Name:     "ibkr-daily-flex-sync",
		Task:     "accounts.ibkr_daily_flex_sync",
		CronExpr: "0 6 * * *",
		Timezone: "America/New_York",
		Group:    GroupAccounts,
		Safety:   domain.DefaultSafety(),
	},
	{
		Name:     "update-tracked-symbol-cache",
		Task:     "market_data.update_tracked_symbol_cache",
		CronExpr: "*/15 * * * *",
		Timezone: "UTC",
		Group:    GroupMarketData,
		Safety:   domain.DefaultSafety(),
	},
	{
		Name:     "backfill-new-tracked",
		Task:     "market_data.backfill_new_tracked",
		CronExpr: "0 * * * *",
		Timezone: "UTC",
		Group:    GroupMarketData,
		Safety:   domain.DefaultSafety(),
	},
	{
		Name:     "backfill-last-200",
		Task:     "market_data.backfill_last_200",
		CronExpr: "15 0 * * *",
		Timezone: "UTC",
		Group:    GroupMarketData,
		Safety:   domain.DefaultSafety(),
	},
	{
		Name:     "record-daily-history",
		Task:     "market_data.record_daily_history",
		CronExpr: "0 21 * * 1-5",
		Timezone: "America/New_York",
		Group:    GroupMarketData,
		Safety:   domain.DefaultSafety(),
	},
	{
		Name:     "recompute-indicators-universe",
		Task:     "market_data.recompute_indicators_universe",
		CronExpr: "30 21 * * 1-5",
		Timezone: "America/New_York",
		Group:    GroupMarketData,
		Safety:   domain.Safety{Singleflight: true, MaxConcurrency: 1, TimeoutS: 1800, Retries: 1, BackoffS: 60},
	},
	{
		Name:     "backfill-5m-d1",
		Task:     "market_data.backfill_5m_d1",
		CronExpr: "45 21 * * 1-5",
		Timezone: "America/New_York",
		Group:    GroupMarketData,
		Safety:   domain.Safety{Singleflight: true, MaxConcurrency: 1, TimeoutS: 1800, Retries: 1, BackoffS: 60},
	},
	{
		Name:     "monitor-coverage-health",
		Task:     "maintenance.monitor_coverage_health",
		CronExpr: "0 * * * *",
		Timezone: "UTC",
		Group:    GroupMaintenance,
		Safety:   domain.DefaultSafety(),
		Notes:    "Flags symbols whose data coverage has fallen stale.",
	},
}

// ByGroup groups the catalog by its logical group, matching the
// Admin Interface's catalog() response shape.
func ByGroup(templates []Template) map[string][]Template {
	out := make(map[string][]Template)
	for _, t := range templates {
		out[t.Group] = append(out[t.Group], t)
	}
	return out
}

// scheduleRegistry is the subset of *registry.Registry the seeder needs; defined at
// point of use so seeding logic is unit-testable against a fake.
type scheduleRegistry interface {
	Scan(ctx context.Context) ([]domain.ScheduleEntry, error)
	Put(ctx context.Context, entry domain.ScheduleEntry) error
}

type metadataStore interface {
	Save(ctx context.Context, name, actor string, meta domain.ScheduleMetadata) (domain.ScheduleMetadata, error)
}

const seedActor = "catalog_seed"

// SeedIfEmpty writes the factory catalog only if the registry currently has
// no active entries. This is a one-time bootstrap: an operator who has since
// deleted every schedule is making a deliberate choice, not asking to be
// reseeded.
func SeedIfEmpty(ctx context.Context, reg scheduleRegistry, meta metadataStore) (int, error) {
	existing, err := reg.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan registry: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for _, tmpl := range Default {
		entry := domain.ScheduleEntry{
			Name:     tmpl.Name,
			Task:     tmpl.Task,
			CronExpr: tmpl.CronExpr,
			Timezone: tmpl.Timezone,
			Enabled:  true,
		}
		if err := reg.Put(ctx, entry); err != nil {
			return 0, fmt.Errorf("seed entry %s: %w", tmpl.Name, err)
		}

		m := domain.DefaultMetadata()
		m.Safety = tmpl.Safety
		m.Notes = tmpl.Notes
		if _, err := meta.Save(ctx, tmpl.Name, seedActor, m); err != nil {
			return 0, fmt.Errorf("seed metadata %s: %w", tmpl.Name, err)
		}
	}
	return len(Default), nil
}
