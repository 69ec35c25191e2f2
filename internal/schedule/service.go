// ABOUTME: Schedule records for probes: create, update, pause/resume, and ad-hoc runs
// ABOUTME: NextRunAt is recomputed from the Scheduler whenever a definition changes or a run fires

package schedule

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/store"
)

// CreateRequest defines a new schedule. Empty Type defaults to cron and empty
// Priority to normal; any other value must be one of the known enums.
type CreateRequest struct {
	Type       string
	Expression string
	Priority   string
	Controls   []string
	Metadata   map[string]any
	Actor      string // recorded as metadata.createdBy when set
}

// UpdateRequest changes a schedule. Nil fields are left unchanged.
type UpdateRequest struct {
	Type       *string
	Expression *string
	Priority   *string
	Controls   []string
	Metadata   map[string]any
}

// TriggerSchedule is the trigger recorded for runs fired from a schedule.
const TriggerSchedule = "schedule"

// RunRequest triggers an ad-hoc run.
type RunRequest struct {
	Trigger  string // defaults to "manual"
	Controls []string
	Context  map[string]any
	Actor    string
}

// RunReceipt acknowledges an accepted ad-hoc run.
type RunReceipt struct {
	ProbeID string `json:"probeId"`
	RunID   string `json:"runId"`
	Trigger string `json:"trigger"`
	Status  string `json:"status"`
	Window  Window `json:"window"`
}

// Service manages schedule records.
type Service struct {
	store     store.Store
	publisher events.Publisher
	scheduler *Scheduler
	clock     clock.Clock
	logger    *slog.Logger
}

// NewService creates a schedule service. Pass nil clock, publisher, or logger
// for defaults.
func NewService(s store.Store, publisher events.Publisher, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		publisher: publisher,
		scheduler: NewScheduler(clk),
		clock:     clk,
		logger:    logger.With("component", "schedule"),
	}
}

// Scheduler returns the window deriver used by the service.
func (s *Service) Scheduler() *Scheduler {
	return s.scheduler
}

func parseType(raw string) (store.ScheduleType, error) {
	switch t := store.ScheduleType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return store.ScheduleCron, nil
	case store.ScheduleCron, store.ScheduleEvent, store.ScheduleAdhoc:
		return t, nil
	default:
		return "", fault.Validation("schedule type is invalid", map[string]any{"type": raw})
	}
}

func parsePriority(raw string) (store.SchedulePriority, error) {
	switch p := store.SchedulePriority(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return store.PriorityNormal, nil
	case store.PriorityLow, store.PriorityNormal, store.PriorityHigh, store.PriorityUrgent:
		return p, nil
	default:
		return "", fault.Validation("schedule priority is invalid", map[string]any{"priority": raw})
	}
}

func cleanControls(controls []string) ([]string, error) {
	out := make([]string, 0, len(controls))
	for _, c := range controls {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fault.Validation("schedule controls must not be empty", nil)
		}
		out = append(out, c)
	}
	return out, nil
}

// project recomputes the NextRunAt projection and cron expression for sched.
// Only cron schedules keep an expression.
func (s *Service) project(sched *store.Schedule) {
	window := s.scheduler.DeriveNextWindow(Spec{Type: string(sched.Type), Expression: sched.Expression})
	if window.Expression != nil {
		sched.Expression = *window.Expression
	} else {
		sched.Expression = ""
	}
	next := window.NextRunAt
	sched.NextRunAt = &next
}

func (s *Service) probe(ctx context.Context, probeID string) (*store.Probe, error) {
	probe, err := s.store.GetProbe(ctx, probeID)
	if err != nil {
		return nil, fault.FromStore("loading probe", err, map[string]any{"probe_id": probeID})
	}
	return probe, nil
}

// Create adds an active schedule to a probe.
func (s *Service) Create(ctx context.Context, probeID string, req CreateRequest) (*store.Schedule, error) {
	probe, err := s.probe(ctx, probeID)
	if err != nil {
		return nil, err
	}

	typ, err := parseType(req.Type)
	if err != nil {
		return nil, err
	}
	priority, err := parsePriority(req.Priority)
	if err != nil {
		return nil, err
	}
	controls, err := cleanControls(req.Controls)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Actor != "" {
		metadata["createdBy"] = req.Actor
	}

	now := s.clock.Now().UTC()
	sched := &store.Schedule{
		ID:         uuid.New().String(),
		ProbeID:    probe.ID,
		Type:       typ,
		Expression: strings.TrimSpace(req.Expression),
		Priority:   priority,
		Status:     store.ScheduleActive,
		Controls:   controls,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.project(sched)

	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, fault.FromStore("creating schedule", err, map[string]any{"probe_id": probe.ID})
	}

	s.logger.Info("probe schedule created",
		"probe_id", probe.ID,
		"schedule_id", sched.ID,
		"type", sched.Type,
		"next_run_at", sched.NextRunAt)
	return sched, nil
}

// List returns a probe's schedules.
func (s *Service) List(ctx context.Context, probeID string) ([]*store.Schedule, error) {
	probe, err := s.probe(ctx, probeID)
	if err != nil {
		return nil, err
	}

	schedules, err := s.store.ListSchedules(ctx, probe.ID)
	if err != nil {
		return nil, fault.FromStore("listing schedules", err, map[string]any{"probe_id": probe.ID})
	}
	return schedules, nil
}

// Get returns one schedule.
func (s *Service) Get(ctx context.Context, scheduleID string) (*store.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, fault.FromStore("loading schedule", err, map[string]any{"schedule_id": scheduleID})
	}
	return sched, nil
}

// Update changes a schedule's definition and recomputes its next run.
func (s *Service) Update(ctx context.Context, scheduleID string, req UpdateRequest) (*store.Schedule, error) {
	sched, err := s.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	if req.Type != nil {
		if sched.Type, err = parseType(*req.Type); err != nil {
			return nil, err
		}
	}
	if req.Expression != nil {
		sched.Expression = strings.TrimSpace(*req.Expression)
	}
	if req.Priority != nil {
		if sched.Priority, err = parsePriority(*req.Priority); err != nil {
			return nil, err
		}
	}
	if req.Controls != nil {
		if sched.Controls, err = cleanControls(req.Controls); err != nil {
			return nil, err
		}
	}
	if req.Metadata != nil {
		sched.Metadata = req.Metadata
	}

	sched.UpdatedAt = s.clock.Now().UTC()
	s.project(sched)

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, fault.FromStore("updating schedule", err, map[string]any{"schedule_id": scheduleID})
	}

	s.logger.Info("probe schedule updated", "schedule_id", sched.ID, "next_run_at", sched.NextRunAt)
	return sched, nil
}

// setStatus moves a schedule to status if it is currently in one of from.
func (s *Service) setStatus(ctx context.Context, scheduleID string, to store.ScheduleStatus, from ...store.ScheduleStatus) (*store.Schedule, error) {
	sched, err := s.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Status == to {
		return sched, nil
	}
	if !slices.Contains(from, sched.Status) {
		return nil, fault.InvalidTransition("schedule status change is not allowed", map[string]any{
			"schedule_id": scheduleID,
			"from":        sched.Status,
			"to":          to,
		})
	}

	sched.Status = to
	sched.UpdatedAt = s.clock.Now().UTC()
	if to == store.ScheduleActive {
		s.project(sched)
	}

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, fault.FromStore("updating schedule", err, map[string]any{"schedule_id": scheduleID})
	}

	s.logger.Info("probe schedule status changed", "schedule_id", sched.ID, "status", to)
	return sched, nil
}

// Pause stops an active schedule from firing.
func (s *Service) Pause(ctx context.Context, scheduleID string) (*store.Schedule, error) {
	return s.setStatus(ctx, scheduleID, store.SchedulePaused, store.ScheduleActive)
}

// Resume reactivates a paused schedule and recomputes its next run.
func (s *Service) Resume(ctx context.Context, scheduleID string) (*store.Schedule, error) {
	return s.setStatus(ctx, scheduleID, store.ScheduleActive, store.SchedulePaused)
}

// Disable permanently stops a schedule.
func (s *Service) Disable(ctx context.Context, scheduleID string) (*store.Schedule, error) {
	return s.setStatus(ctx, scheduleID, store.ScheduleDisabled, store.ScheduleActive, store.SchedulePaused)
}

// MarkRan records that a schedule fired and projects its next run. An
// ad-hoc schedule is consumed by its run and is left with no next run.
func (s *Service) MarkRan(ctx context.Context, scheduleID string) (*store.Schedule, error) {
	sched, err := s.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	sched.LastRunAt = &now
	sched.UpdatedAt = now
	if sched.Type == store.ScheduleAdhoc {
		sched.NextRunAt = nil
	} else {
		s.project(sched)
	}

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, fault.FromStore("updating schedule", err, map[string]any{"schedule_id": scheduleID})
	}
	return sched, nil
}

// newRunID returns a time-ordered run identifier.
func newRunID(now int64) string {
	return "run_" + strconv.FormatInt(now, 36) + strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
}

// TriggerRun accepts an ad-hoc run for a probe. The run is recorded in the
// probe ledger and an evidence event with status accepted is published.
// Runs requested through the API also mark the probe's heartbeat
// operational; TriggerSchedule runs leave heartbeat state to the probe.
func (s *Service) TriggerRun(ctx context.Context, probeID string, req RunRequest) (*RunReceipt, error) {
	probe, err := s.probe(ctx, probeID)
	if err != nil {
		return nil, err
	}

	trigger := strings.TrimSpace(req.Trigger)
	if trigger == "" {
		trigger = "manual"
	}
	controls, err := cleanControls(runControls(req))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	window := s.scheduler.DeriveNextWindow(Spec{Type: string(store.ScheduleAdhoc)})
	runID := newRunID(now.UnixMilli())

	runContext := req.Context
	if runContext == nil {
		runContext = map[string]any{}
	}
	payload := map[string]any{
		"trigger": trigger,
		"context": runContext,
		"runId":   runID,
	}
	if req.Actor != "" {
		payload["requestedBy"] = req.Actor
	}

	if err := s.store.RecordProbeEvent(ctx, &store.ProbeEvent{
		ID:        uuid.New().String(),
		ProbeID:   probe.ID,
		Type:      store.ProbeEventRun,
		Payload:   payload,
		CreatedAt: now,
	}); err != nil {
		return nil, fault.FromStore("recording run", err, map[string]any{"probe_id": probe.ID})
	}

	if trigger != TriggerSchedule {
		if err := s.markOperational(ctx, probe, now); err != nil {
			return nil, err
		}
	}

	events.PublishEvidence(ctx, s.publisher, events.Evidence{
		ProbeID:         probe.ID,
		RunID:           runID,
		Payload:         runContext,
		ControlMappings: controls,
		Status:          "accepted",
	})

	s.logger.Info("ad-hoc probe run scheduled", "probe_id", probe.ID, "run_id", runID, "trigger", trigger)

	return &RunReceipt{
		ProbeID: probe.ID,
		RunID:   runID,
		Trigger: trigger,
		Status:  "accepted",
		Window:  window,
	}, nil
}

// runControls prefers explicit controls and falls back to context.controls.
func runControls(req RunRequest) []string {
	if len(req.Controls) > 0 {
		return req.Controls
	}
	switch v := req.Context["controls"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, c := range v {
			if str, ok := c.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func (s *Service) markOperational(ctx context.Context, probe *store.Probe, now time.Time) error {
	m, err := s.store.GetProbeMetrics(ctx, probe.ID)
	if errors.Is(err, store.ErrNotFound) {
		m = &store.ProbeMetrics{ProbeID: probe.ID, HeartbeatInterval: probe.HeartbeatInterval}
	} else if err != nil {
		return fault.FromStore("loading probe metrics", err, map[string]any{"probe_id": probe.ID})
	}

	m.HeartbeatStatus = string(health.StatusOperational)
	m.LastHeartbeatAt = &now
	m.UpdatedAt = now
	if err := s.store.UpsertProbeMetrics(ctx, m); err != nil {
		return fault.FromStore("updating probe metrics", err, map[string]any{"probe_id": probe.ID})
	}
	return nil
}
