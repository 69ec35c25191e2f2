// ABOUTME: Deployment coordinator: plans deployments and applies state transitions
// ABOUTME: Persists through conditional store updates, then records a ledger row and publishes events

package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/schedule"
	"github.com/2389/probe-fleet/internal/store"
	"github.com/2389/probe-fleet/internal/version"
)

// ErrorCodeDeploymentFailed is the failure code used when Fail has no reason.
const ErrorCodeDeploymentFailed = "deployment-failed"

// ErrorCodeSelfTestFailed is the failure code used when a rollout self test fails.
const ErrorCodeSelfTestFailed = "self-test-failed"

// PlanRequest describes a deployment to create.
type PlanRequest struct {
	Version       string
	Environment   string
	CanaryPercent *int
	Summary       string
	OverlayID     string
	Manifest      map[string]any
	Metadata      map[string]any
	Actor         string
}

// TransitionOptions annotates a transition.
type TransitionOptions struct {
	Summary string // replaces the deployment summary when set
	Reason  string // recorded in metadata; used as the failure code on failed
	Actor   string
}

// Coordinator owns the deployment state machine.
type Coordinator struct {
	store     store.Store
	publisher events.Publisher
	versions  *version.Manager
	scheduler *schedule.Scheduler
	clock     clock.Clock
	logger    *slog.Logger
}

// NewCoordinator creates a coordinator. Pass nil publisher, versions, clock,
// or logger for defaults.
func NewCoordinator(s store.Store, publisher events.Publisher, versions *version.Manager, clk clock.Clock, logger *slog.Logger) *Coordinator {
	if publisher == nil {
		publisher = events.Discard
	}
	if versions == nil {
		versions = version.NewManager("", "")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     s,
		publisher: publisher,
		versions:  versions,
		scheduler: schedule.NewScheduler(clk),
		clock:     clk,
		logger:    logger.With("component", "deploy"),
	}
}

func validatePlan(req PlanRequest) error {
	if strings.TrimSpace(req.Version) == "" {
		return fault.Validation("deployment version is required", map[string]any{"field": "version"})
	}
	if len(strings.TrimSpace(req.Environment)) < 2 {
		return fault.Validation("deployment environment must be at least 2 characters", map[string]any{"field": "environment"})
	}
	if req.CanaryPercent != nil && (*req.CanaryPercent < 0 || *req.CanaryPercent > 100) {
		return fault.Validation("canary percent must be between 0 and 100", map[string]any{
			"field": "canaryPercent",
			"value": *req.CanaryPercent,
		})
	}
	return nil
}

func (c *Coordinator) loadProbe(ctx context.Context, probeID string) (*store.Probe, error) {
	probe, err := c.store.GetProbe(ctx, probeID)
	if err != nil {
		return nil, fault.FromStore("loading probe", err, map[string]any{"probe_id": probeID})
	}
	return probe, nil
}

// Plan creates a pending deployment for a probe.
func (c *Coordinator) Plan(ctx context.Context, probeID string, req PlanRequest) (*store.Deployment, error) {
	if err := validatePlan(req); err != nil {
		return nil, err
	}

	probe, err := c.loadProbe(ctx, probeID)
	if err != nil {
		return nil, err
	}
	if probe.Status == store.ProbeStatusDeprecated {
		return nil, fault.Validation("deprecated probes cannot be deployed", map[string]any{"probe_id": probe.ID})
	}

	ver := strings.TrimSpace(req.Version)
	env := strings.TrimSpace(req.Environment)
	if err := c.versions.AssertCompatible(ver); err != nil {
		return nil, err
	}

	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		summary = fmt.Sprintf("Deploying %s to %s", ver, env)
	}

	manifest := make(map[string]any, len(req.Manifest)+2)
	for k, v := range req.Manifest {
		manifest[k] = v
	}
	manifest["environment"] = env
	if overlayID := strings.TrimSpace(req.OverlayID); overlayID != "" {
		manifest["overlayId"] = overlayID
	}

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Actor != "" {
		metadata["requestedBy"] = req.Actor
	}

	now := c.clock.Now().UTC()
	d := &store.Deployment{
		ID:            uuid.New().String(),
		ProbeID:       probe.ID,
		Version:       ver,
		Environment:   env,
		Status:        store.DeploymentPending,
		CanaryPercent: req.CanaryPercent,
		Summary:       summary,
		OverlayID:     strings.TrimSpace(req.OverlayID),
		Manifest:      manifest,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := c.store.CreateDeployment(ctx, d); err != nil {
		return nil, fault.FromStore("creating deployment", err, map[string]any{"probe_id": probe.ID})
	}

	c.recordLedger(ctx, d, "", req.Actor)
	events.PublishDeployment(ctx, c.publisher, deploymentPayload(d))

	c.logger.Info("deployment planned",
		"probe_id", probe.ID,
		"deployment_id", d.ID,
		"version", d.Version,
		"environment", d.Environment)
	return d, nil
}

// Transition moves a deployment to a new status.
func (c *Coordinator) Transition(ctx context.Context, deploymentID string, to store.DeploymentStatus, opts TransitionOptions) (*store.Deployment, error) {
	return c.transition(ctx, deploymentID, to, opts, nil)
}

func (c *Coordinator) transition(ctx context.Context, deploymentID string, to store.DeploymentStatus, opts TransitionOptions, mutate func(*store.Deployment)) (*store.Deployment, error) {
	d, err := c.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	from := d.Status
	if !CanTransition(from, to) {
		return nil, fault.InvalidTransition(
			fmt.Sprintf("deployment cannot move from %s to %s", from, to),
			map[string]any{"deployment_id": d.ID, "from": from, "to": to},
		)
	}
	expectedRevision := d.Revision

	now := c.clock.Now().UTC()
	d.Status = to
	d.UpdatedAt = now
	switch to {
	case store.DeploymentInProgress:
		if d.StartedAt == nil {
			d.StartedAt = &now
		}
	case store.DeploymentCompleted, store.DeploymentFailed, store.DeploymentCancelled:
		d.CompletedAt = &now
	case store.DeploymentRolledBack:
		d.RolledBackAt = &now
	}

	if s := strings.TrimSpace(opts.Summary); s != "" {
		d.Summary = s
	}
	if opts.Reason != "" || opts.Actor != "" {
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		if opts.Reason != "" {
			d.Metadata["reason"] = opts.Reason
		}
		if opts.Actor != "" {
			d.Metadata["transitionedBy"] = opts.Actor
		}
	}
	if mutate != nil {
		mutate(d)
	}

	if err := c.store.UpdateDeployment(ctx, d, from, expectedRevision); err != nil {
		return nil, fault.FromStore("updating deployment", err, map[string]any{
			"deployment_id": d.ID,
			"from":          from,
			"to":            to,
		})
	}

	c.recordLedger(ctx, d, from, opts.Actor)
	events.PublishDeployment(ctx, c.publisher, deploymentPayload(d))

	switch to {
	case store.DeploymentFailed:
		code := opts.Reason
		if code == "" {
			code = ErrorCodeDeploymentFailed
		}
		events.PublishFailure(ctx, c.publisher, events.Failure{
			ProbeID:      d.ProbeID,
			DeploymentID: d.ID,
			ErrorCode:    code,
		})
	case store.DeploymentCompleted:
		c.afterCompleted(ctx, d, now)
	}

	c.logger.Info("deployment transitioned",
		"deployment_id", d.ID,
		"probe_id", d.ProbeID,
		"from", from,
		"to", to,
		"revision", d.Revision)
	return d, nil
}

// afterCompleted stamps the probe and reprojects its active schedules from
// the completion time. Failures here are logged; the transition has already
// been persisted.
func (c *Coordinator) afterCompleted(ctx context.Context, d *store.Deployment, at time.Time) {
	if err := c.store.TouchLastDeployment(ctx, d.ProbeID, at); err != nil {
		c.logger.Warn("failed to update probe last deployment", "probe_id", d.ProbeID, "error", err)
	}

	schedules, err := c.store.ListSchedules(ctx, d.ProbeID)
	if err != nil {
		c.logger.Warn("failed to list schedules after deployment", "probe_id", d.ProbeID, "error", err)
		return
	}
	for _, sched := range schedules {
		if sched.Status != store.ScheduleActive {
			continue
		}
		window := c.scheduler.DeriveNextWindow(schedule.Spec{Type: string(sched.Type), Expression: sched.Expression})
		next := window.NextRunAt
		sched.NextRunAt = &next
		sched.UpdatedAt = at
		if err := c.store.UpdateSchedule(ctx, sched); err != nil {
			c.logger.Warn("failed to reproject schedule", "schedule_id", sched.ID, "error", err)
		}
	}
}

func (c *Coordinator) recordLedger(ctx context.Context, d *store.Deployment, from store.DeploymentStatus, actor string) {
	payload := map[string]any{
		"deploymentId": d.ID,
		"status":       string(d.Status),
		"version":      d.Version,
		"environment":  d.Environment,
	}
	if from != "" {
		payload["from"] = string(from)
	}
	if actor != "" {
		payload["actor"] = actor
	}

	err := c.store.RecordProbeEvent(ctx, &store.ProbeEvent{
		ID:        uuid.New().String(),
		ProbeID:   d.ProbeID,
		Type:      store.ProbeEventDeployment,
		Payload:   payload,
		CreatedAt: d.UpdatedAt,
	})
	if err != nil {
		c.logger.Warn("failed to record deployment ledger row", "deployment_id", d.ID, "error", err)
	}
}

func deploymentPayload(d *store.Deployment) events.Deployment {
	return events.Deployment{
		ProbeID:      d.ProbeID,
		DeploymentID: d.ID,
		Version:      d.Version,
		Status:       string(d.Status),
		Environment:  d.Environment,
		StartedAt:    d.StartedAt,
		CompletedAt:  d.CompletedAt,
	}
}

// Start moves a pending deployment to in_progress.
func (c *Coordinator) Start(ctx context.Context, deploymentID string, opts TransitionOptions) (*store.Deployment, error) {
	return c.Transition(ctx, deploymentID, store.DeploymentInProgress, opts)
}

// Complete marks an in-progress deployment completed.
func (c *Coordinator) Complete(ctx context.Context, deploymentID string, opts TransitionOptions) (*store.Deployment, error) {
	return c.Transition(ctx, deploymentID, store.DeploymentCompleted, opts)
}

// Fail marks an in-progress deployment failed.
func (c *Coordinator) Fail(ctx context.Context, deploymentID string, opts TransitionOptions) (*store.Deployment, error) {
	return c.Transition(ctx, deploymentID, store.DeploymentFailed, opts)
}

// Rollback rolls back an in-progress or completed deployment.
func (c *Coordinator) Rollback(ctx context.Context, deploymentID string, opts TransitionOptions) (*store.Deployment, error) {
	return c.Transition(ctx, deploymentID, store.DeploymentRolledBack, opts)
}

// Cancel cancels a pending or in-progress deployment.
func (c *Coordinator) Cancel(ctx context.Context, deploymentID string, opts TransitionOptions) (*store.Deployment, error) {
	return c.Transition(ctx, deploymentID, store.DeploymentCancelled, opts)
}

// Rollout plans, starts, self-tests, and finishes a deployment in one call.
// The self-test result is saved on the record; a failed self test ends the
// deployment as failed with ErrorCodeSelfTestFailed.
func (c *Coordinator) Rollout(ctx context.Context, probeID string, req PlanRequest) (*store.Deployment, error) {
	d, err := c.Plan(ctx, probeID, req)
	if err != nil {
		return nil, err
	}

	opts := TransitionOptions{Actor: req.Actor}
	if d, err = c.Start(ctx, d.ID, opts); err != nil {
		return nil, err
	}

	probe, err := c.loadProbe(ctx, d.ProbeID)
	if err != nil {
		return nil, err
	}
	result := health.RunSelfTestAt(probe, health.Manifest{OverlayID: req.OverlayID, Version: req.Version}, c.clock.Now().UTC())
	snapshot, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding self test: %w", err)
	}
	attach := func(d *store.Deployment) { d.SelfTest = snapshot }

	if result.Passed {
		return c.transition(ctx, d.ID, store.DeploymentCompleted, opts, attach)
	}

	opts.Reason = ErrorCodeSelfTestFailed
	c.logger.Warn("rollout self test failed", "deployment_id", d.ID, "failed_checks", result.FailedChecks())
	return c.transition(ctx, d.ID, store.DeploymentFailed, opts, attach)
}

// Get returns a deployment by id.
func (c *Coordinator) Get(ctx context.Context, deploymentID string) (*store.Deployment, error) {
	d, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, fault.FromStore("loading deployment", err, map[string]any{"deployment_id": deploymentID})
	}
	return d, nil
}

// List returns a probe's deployments, newest first.
func (c *Coordinator) List(ctx context.Context, probeID string, limit int) ([]*store.Deployment, error) {
	probe, err := c.loadProbe(ctx, probeID)
	if err != nil {
		return nil, err
	}
	deployments, err := c.store.ListDeployments(ctx, probe.ID, limit)
	if err != nil {
		return nil, fault.FromStore("listing deployments", err, map[string]any{"probe_id": probe.ID})
	}
	return deployments, nil
}
