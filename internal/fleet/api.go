// ABOUTME: Synchronous fleet API: probe registration, deployments, schedules, heartbeats, and pure helpers
// ABOUTME: Thin entry points over the wired services plus manifest application

package fleet

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/probe-fleet/internal/deploy"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/manifest"
	"github.com/2389/probe-fleet/internal/overlay"
	"github.com/2389/probe-fleet/internal/probeclient"
	"github.com/2389/probe-fleet/internal/registry"
	"github.com/2389/probe-fleet/internal/schedule"
	"github.com/2389/probe-fleet/internal/store"
	"github.com/2389/probe-fleet/internal/version"
)

// RegisterProbe registers a new probe.
func (f *Fleet) RegisterProbe(ctx context.Context, req registry.RegisterRequest) (*store.Probe, error) {
	return f.registry.Register(ctx, req)
}

// GetProbe loads a probe by ID or slug.
func (f *Fleet) GetProbe(ctx context.Context, idOrSlug string) (*store.Probe, error) {
	return f.registry.Get(ctx, idOrSlug)
}

// ListProbes returns one page of probes.
func (f *Fleet) ListProbes(ctx context.Context, q registry.ListQuery) (*registry.ListResult, error) {
	return f.registry.List(ctx, q)
}

// ActivateProbe moves a draft probe to active.
func (f *Fleet) ActivateProbe(ctx context.Context, idOrSlug, actor string) (*store.Probe, error) {
	return f.registry.Activate(ctx, idOrSlug, actor)
}

// DeprecateProbe retires a probe.
func (f *Fleet) DeprecateProbe(ctx context.Context, idOrSlug, actor string) (*store.Probe, error) {
	return f.registry.Deprecate(ctx, idOrSlug, actor)
}

// PlanDeployment creates a pending deployment.
func (f *Fleet) PlanDeployment(ctx context.Context, probeID string, req deploy.PlanRequest) (*store.Deployment, error) {
	return f.deploys.Plan(ctx, probeID, req)
}

// Transition moves a deployment to the named status.
func (f *Fleet) Transition(ctx context.Context, deploymentID, status string, opts deploy.TransitionOptions) (*store.Deployment, error) {
	to, ok := deploy.ParseStatus(status)
	if !ok {
		return nil, fault.Validation(fmt.Sprintf("unknown deployment status %q", status), map[string]any{"field": "status"})
	}
	return f.deploys.Transition(ctx, deploymentID, to, opts)
}

// Rollout plans, starts, self-tests, and finishes a deployment.
func (f *Fleet) Rollout(ctx context.Context, probeID string, req deploy.PlanRequest) (*store.Deployment, error) {
	return f.deploys.Rollout(ctx, probeID, req)
}

// ListDeployments lists a probe's deployments, newest first.
func (f *Fleet) ListDeployments(ctx context.Context, probeID string, limit int) ([]*store.Deployment, error) {
	return f.deploys.List(ctx, probeID, limit)
}

// DeriveNextWindow projects the next run window of a schedule definition.
func (f *Fleet) DeriveNextWindow(spec schedule.Spec) schedule.Window {
	return f.schedules.Scheduler().DeriveNextWindow(spec)
}

// MergeConfig deep-merges patch over base.
func (f *Fleet) MergeConfig(base, patch any) any {
	return overlay.Merge(base, patch)
}

// AssertCompatible checks v against the fleet SDK minimum.
func (f *Fleet) AssertCompatible(v string) error {
	return f.versions.AssertCompatible(v)
}

// ClassifyStatus maps a reported status onto the known health statuses.
func (f *Fleet) ClassifyStatus(raw any) health.Status {
	return health.ClassifyStatus(raw)
}

// PlanUpgrade plans a probe's move to the fleet SDK target.
func (f *Fleet) PlanUpgrade(ctx context.Context, idOrSlug string) (*version.UpgradePlan, error) {
	return f.registry.PlanUpgrade(ctx, idOrSlug)
}

// EffectiveConfig resolves a probe's configuration for an environment.
func (f *Fleet) EffectiveConfig(ctx context.Context, idOrSlug, environment string) (map[string]any, error) {
	return f.registry.EffectiveConfig(ctx, idOrSlug, environment)
}

// CreateSchedule adds a schedule to a probe.
func (f *Fleet) CreateSchedule(ctx context.Context, probeID string, req schedule.CreateRequest) (*store.Schedule, error) {
	return f.schedules.Create(ctx, probeID, req)
}

// TriggerRun accepts an ad-hoc run for a probe.
func (f *Fleet) TriggerRun(ctx context.Context, probeID string, req schedule.RunRequest) (*schedule.RunReceipt, error) {
	return f.schedules.TriggerRun(ctx, probeID, req)
}

// RecordHeartbeat records a heartbeat reported by a probe.
func (f *Fleet) RecordHeartbeat(ctx context.Context, req health.HeartbeatRequest) (*health.Summary, error) {
	return f.monitor.RecordHeartbeat(ctx, req)
}

// ProbeHealth returns a probe's health summary.
func (f *Fleet) ProbeHealth(ctx context.Context, idOrSlug string) (*health.Summary, error) {
	return f.monitor.Metrics(ctx, idOrSlug)
}

// IssueCredential signs a credential for a probe. It fails when no
// credential secret is configured or the probe is deprecated.
func (f *Fleet) IssueCredential(ctx context.Context, idOrSlug string) (string, error) {
	if f.credentials == nil {
		return "", fault.Validation("credential issuing requires auth.credential_secret", nil)
	}
	probe, err := f.registry.Get(ctx, idOrSlug)
	if err != nil {
		return "", err
	}
	if probe.Status == store.ProbeStatusDeprecated {
		return "", fault.Validation("deprecated probes cannot be issued credentials", map[string]any{"probe_id": probe.ID})
	}
	return f.credentials.Issue(probe.ID, f.config.Auth.CredentialTTL)
}

// ProbeClient returns a client that submits evidence and heartbeats for a
// registered probe. When a credential secret is configured the credential
// must verify and name the same probe.
func (f *Fleet) ProbeClient(ctx context.Context, idOrSlug, credential string) (*probeclient.Client, error) {
	probe, err := f.registry.Get(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if f.credentials != nil {
		if credential == "" {
			return nil, fault.Unauthorized("probe credential required", nil)
		}
		subject, err := f.credentials.Verify(credential)
		if err != nil {
			return nil, fault.Unauthorized("probe credential rejected", err)
		}
		if subject != probe.ID {
			return nil, fault.Unauthorized("probe credential issued for another probe", nil)
		}
	}
	return probeclient.New(probe.ID, probeclient.Options{
		Credential: credential,
		Publisher:  f.bus,
		Heartbeats: f.monitor,
		Clock:      f.clock,
		Logger:     f.logger,
	})
}

// ApplyResult reports what ApplyManifest created.
type ApplyResult struct {
	Probe      *store.Probe
	Schedules  []*store.Schedule
	Deployment *store.Deployment
}

// ApplyManifest registers the manifest's probe, creates its schedules, and
// plans its deployment when one is declared. With rollout set, the deployment
// is rolled out instead of left pending. A failure after registration
// returns the partial result alongside the error.
func (f *Fleet) ApplyManifest(ctx context.Context, m *manifest.Manifest, actor string, rollout bool) (*ApplyResult, error) {
	probe, err := f.registry.Register(ctx, m.RegisterRequest(actor))
	if err != nil {
		return nil, err
	}
	res := &ApplyResult{Probe: probe}

	for i, req := range m.ScheduleRequests(actor) {
		sched, err := f.schedules.Create(ctx, probe.ID, req)
		if err != nil {
			return res, fmt.Errorf("creating schedule %d: %w", i, err)
		}
		res.Schedules = append(res.Schedules, sched)
	}

	plan, ok := m.PlanRequest(actor)
	if !ok {
		return res, nil
	}
	if rollout {
		res.Deployment, err = f.deploys.Rollout(ctx, probe.ID, plan)
	} else {
		res.Deployment, err = f.deploys.Plan(ctx, probe.ID, plan)
	}
	if err != nil {
		return res, fmt.Errorf("planning %s deployment: %w", strings.TrimSpace(plan.Environment), err)
	}
	return res, nil
}
