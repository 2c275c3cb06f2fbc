package domain_test

import (
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

func TestMetadataPatch_Apply_AbsentFieldsInherit(t *testing.T) {
	base := domain.ScheduleMetadata{
		Queue: "market_data",
		Hooks: domain.Hooks{DiscordChannels: []string{"signals"}, AlertOn: []domain.AlertEvent{domain.AlertEventFailure}},
	}

	newQueue := "critical"
	patch := domain.MetadataPatch{Queue: &newQueue}

	out := patch.Apply(base)
	if out.Queue != "critical" {
		t.Errorf("Queue = %q, want critical", out.Queue)
	}
	if len(out.Hooks.DiscordChannels) != 1 || out.Hooks.DiscordChannels[0] != "signals" {
		t.Errorf("Hooks.DiscordChannels not inherited, got %v", out.Hooks.DiscordChannels)
	}
}

func TestTouchAudit_StampsCreatedOnlyOnce(t *testing.T) {
	var m domain.ScheduleMetadata
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.TouchAudit("alice@example.com", t0)

	if m.Audit.CreatedAt != t0 || m.Audit.CreatedBy != "alice@example.com" {
		t.Fatalf("expected created fields stamped on first touch, got %+v", m.Audit)
	}

	t1 := t0.Add(time.Hour)
	m.TouchAudit("bob@example.com", t1)

	if m.Audit.CreatedAt != t0 || m.Audit.CreatedBy != "alice@example.com" {
		t.Errorf("created fields must not change on subsequent touch, got %+v", m.Audit)
	}
	if m.Audit.UpdatedAt != t1 || m.Audit.UpdatedBy != "bob@example.com" {
		t.Errorf("updated fields not refreshed, got %+v", m.Audit)
	}
	if m.Audit.CreatedAt.After(m.Audit.UpdatedAt) {
		t.Errorf("audit monotonicity violated: created_at %v after updated_at %v", m.Audit.CreatedAt, m.Audit.UpdatedAt)
	}
}

func TestMaintenanceWindow_Contains(t *testing.T) {
	loc, err := time.LoadLocation("UTC")
	if err != nil {
		t.Fatal(err)
	}
	w := domain.MaintenanceWindow{
		Start:    time.Date(2026, 7, 30, 2, 0, 0, 0, loc),
		End:      time.Date(2026, 7, 30, 4, 0, 0, 0, loc),
		Timezone: "UTC",
	}

	inside := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	before := time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC)
	atEnd := time.Date(2026, 7, 30, 4, 0, 0, 0, time.UTC)

	if !w.Contains(inside) {
		t.Error("expected inside to be contained")
	}
	if w.Contains(before) {
		t.Error("expected before to not be contained")
	}
	if w.Contains(atEnd) {
		t.Error("window end should be exclusive")
	}
}
