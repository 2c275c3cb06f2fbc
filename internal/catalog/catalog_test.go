package catalog_test

import (
	"context"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/catalog"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

type fakeRegistry struct {
	entries []domain.ScheduleEntry
	puts    []domain.ScheduleEntry
}

func (f *fakeRegistry) Scan(_ context.Context) ([]domain.ScheduleEntry, error) {
	return f.entries, nil
}

func (f *fakeRegistry) Put(_ context.Context, entry domain.ScheduleEntry) error {
	f.puts = append(f.puts, entry)
	return nil
}

type fakeMetaStore struct {
	saves map[string]domain.ScheduleMetadata
}

func (f *fakeMetaStore) Save(_ context.Context, name, actor string, meta domain.ScheduleMetadata) (domain.ScheduleMetadata, error) {
	if f.saves == nil {
		f.saves = make(map[string]domain.ScheduleMetadata)
	}
	meta.Audit.CreatedBy = actor
	meta.Audit.UpdatedBy = actor
	f.saves[name] = meta
	return meta, nil
}

func TestSeedIfEmpty_WritesFullCatalog(t *testing.T) {
	reg := &fakeRegistry{}
	meta := &fakeMetaStore{}

	n, err := catalog.SeedIfEmpty(context.Background(), reg, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(catalog.Default) {
		t.Errorf("seeded %d, want %d", n, len(catalog.Default))
	}
	if len(reg.puts) != len(catalog.Default) {
		t.Errorf("registry puts = %d, want %d", len(reg.puts), len(catalog.Default))
	}
	for _, tmpl := range catalog.Default {
		m, ok := meta.saves[tmpl.Name]
		if !ok {
			t.Errorf("missing metadata save for %s", tmpl.Name)
			continue
		}
		if m.Audit.CreatedBy != "catalog_seed" {
			t.Errorf("%s: created_by = %q, want catalog_seed", tmpl.Name, m.Audit.CreatedBy)
		}
	}
}

func TestSeedIfEmpty_Idempotent_NoWritesWhenRegistryNonEmpty(t *testing.T) {
	reg := &fakeRegistry{entries: []domain.ScheduleEntry{{Name: "something-operator-made"}}}
	meta := &fakeMetaStore{}

	n, err := catalog.SeedIfEmpty(context.Background(), reg, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("seeded %d entries on a non-empty registry, want 0", n)
	}
	if len(reg.puts) != 0 {
		t.Errorf("registry received %d puts, want 0", len(reg.puts))
	}
}

func TestByGroup_GroupsMarketDataAccountsMaintenance(t *testing.T) {
	grouped := catalog.ByGroup(catalog.Default)
	for _, g := range []string{catalog.GroupMarketData, catalog.GroupAccounts, catalog.GroupMaintenance} {
		if len(grouped[g]) == 0 {
			t.Errorf("expected at least one template in group %q", g)
		}
	}
}
