package domain

import "time"

// MaintenanceWindow is a wall-clock interval, evaluated in Timezone, during
// which a schedule's fires are suppressed.
type MaintenanceWindow struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
}

// Contains reports whether now (any instant, compared in UTC) falls inside
// the window. Start/End are interpreted as wall-clock times in Timezone.
func (w MaintenanceWindow) Contains(now time.Time) bool {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		loc = time.UTC
	}
	n := now.In(loc)
	return !n.Before(w.Start.In(loc)) && n.Before(w.End.In(loc))
}

// Safety holds the single-flight/concurrency/timeout contract for a schedule.
type Safety struct {
	Singleflight   bool `json:"singleflight"`
	MaxConcurrency int  `json:"max_concurrency"`
	TimeoutS       int  `json:"timeout_s"`
	Retries        int  `json:"retries"`
	BackoffS       int  `json:"backoff_s"`
}

// DefaultSafety mirrors the factory-catalog default: singleflight on,
// concurrency 1, a 5 minute timeout, three retries.
func DefaultSafety() Safety {
	return Safety{
		Singleflight:   true,
		MaxConcurrency: 1,
		TimeoutS:       300,
		Retries:        3,
		BackoffS:       30,
	}
}

// AlertEvent is one of the three outcomes a Hooks.AlertOn set may opt into.
type AlertEvent string

const (
	AlertEventSuccess AlertEvent = "success"
	AlertEventFailure AlertEvent = "failure"
	AlertEventSlow    AlertEvent = "slow"
)

// Hooks configures where and when alerts fire for a schedule's runs.
type Hooks struct {
	DiscordWebhook    string       `json:"discord_webhook,omitempty"`
	DiscordChannels   []string     `json:"discord_channels,omitempty"`
	DiscordMentions   []string     `json:"discord_mentions,omitempty"`
	PrometheusEndpoint string      `json:"prometheus_endpoint,omitempty"`
	AlertOn           []AlertEvent `json:"alert_on,omitempty"`
	SlowThresholdS    *int         `json:"slow_threshold_s,omitempty"`
}

// Has reports whether event is opted into.
func (h Hooks) Has(event AlertEvent) bool {
	for _, e := range h.AlertOn {
		if e == event {
			return true
		}
	}
	return false
}

// DefaultHooks is the system-default fallback used by the Task Runner when a
// dispatched task carries no schedule metadata header (e.g. a run-now
// one-off): a single system-status channel, failure-only.
func DefaultHooks() Hooks {
	return Hooks{
		DiscordChannels: []string{"system_status"},
		AlertOn:         []AlertEvent{AlertEventFailure},
	}
}

// Audit records create/update provenance. Invariant: CreatedAt <= UpdatedAt.
type Audit struct {
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// ScheduleMetadata is the parallel record keyed by schedule name, holding
// everything the registry entry itself doesn't: routing, safety, hooks,
// maintenance windows, dependencies, and audit trail.
type ScheduleMetadata struct {
	Queue              string              `json:"queue,omitempty"`
	Priority           *int                `json:"priority,omitempty"`
	Dependencies       []string            `json:"dependencies,omitempty"`
	MaintenanceWindows []MaintenanceWindow `json:"maintenance_windows,omitempty"`
	PreflightChecks    []string            `json:"preflight_checks,omitempty"`
	Safety             Safety              `json:"safety"`
	Hooks              Hooks               `json:"hooks"`
	Notes              string              `json:"notes,omitempty"`
	Audit              Audit               `json:"audit"`
}

// DefaultMetadata returns a ScheduleMetadata with the factory safety/hooks
// defaults and no routing/dependencies/maintenance windows.
func DefaultMetadata() ScheduleMetadata {
	return ScheduleMetadata{
		Safety: DefaultSafety(),
		Hooks:  DefaultHooks(),
	}
}

// TouchAudit stamps UpdatedAt/UpdatedBy, and on first save also CreatedAt/CreatedBy.
func (m *ScheduleMetadata) TouchAudit(actor string, now time.Time) {
	if m.Audit.CreatedAt.IsZero() {
		m.Audit.CreatedAt = now
		m.Audit.CreatedBy = actor
	}
	m.Audit.UpdatedAt = now
	m.Audit.UpdatedBy = actor
}

// MetadataPatch is a PATCH-style partial update: every field is optional,
// absent fields inherit from the base record.
type MetadataPatch struct {
	Queue              *string              `json:"queue,omitempty"`
	Priority           *int                 `json:"priority,omitempty"`
	Dependencies       *[]string            `json:"dependencies,omitempty"`
	MaintenanceWindows *[]MaintenanceWindow `json:"maintenance_windows,omitempty"`
	PreflightChecks    *[]string            `json:"preflight_checks,omitempty"`
	Safety             *Safety              `json:"safety,omitempty"`
	Hooks              *Hooks               `json:"hooks,omitempty"`
	Notes              *string              `json:"notes,omitempty"`
}

// Apply produces a new ScheduleMetadata with the patch's explicit fields
// overwriting base, and absent fields inherited unchanged. Audit is left
// untouched; callers stamp it via TouchAudit afterward.
func (p MetadataPatch) Apply(base ScheduleMetadata) ScheduleMetadata {
	out := base
	if p.Queue != nil {
		out.Queue = *p.Queue
	}
	if p.Priority != nil {
		out.Priority = p.Priority
	}
	if p.Dependencies != nil {
		out.Dependencies = *p.Dependencies
	}
	if p.MaintenanceWindows != nil {
		out.MaintenanceWindows = *p.MaintenanceWindows
	}
	if p.PreflightChecks != nil {
		out.PreflightChecks = *p.PreflightChecks
	}
	if p.Safety != nil {
		out.Safety = *p.Safety
	}
	if p.Hooks != nil {
		out.Hooks = *p.Hooks
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	return out
}

// PausedPayload is the side-record written when a schedule is paused: a
// complete snapshot of the entry and its metadata, enabling exact
// reconstitution on resume.
type PausedPayload struct {
	Entry    ScheduleEntry    `json:"entry"`
	Metadata ScheduleMetadata `json:"metadata"`
}
