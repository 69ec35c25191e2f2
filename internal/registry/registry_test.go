// ABOUTME: Tests for the probe registry
// ABOUTME: Covers registration validation, slug generation, listing, status changes, and effective config

package registry

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/store"
	"github.com/2389/probe-fleet/internal/version"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *store.MockStore, *[]events.Event) {
	t.Helper()

	s := store.NewMockStore()
	clk := testclock.NewClock(now)
	bus := events.NewBus(nil, clk)
	var published []events.Event
	bus.SubscribeAll("recorder", func(_ context.Context, evt events.Event) error {
		published = append(published, evt)
		return nil
	})

	r := New(s, bus, version.NewManager("1.0.0", "1.2.0"), Defaults{
		HeartbeatInterval: 5 * time.Minute,
		DeploymentTopic:   "probe.rollouts",
		Overlay:           map[string]any{"retries": 3},
	}, clk, nil)
	return r, s, &published
}

func validRequest() RegisterRequest {
	return RegisterRequest{
		Name:              "Uptime Check",
		OwnerEmail:        "ops@example.com",
		FrameworkBindings: []string{"soc2", " iso27001 "},
		Tags:              []string{"edge", ""},
		AlertChannels:     []string{"#ops"},
		EnvironmentOverlays: map[string]any{
			"prod": map[string]any{"region": "us-east-1"},
		},
		SDKVersionMin: "1.1.0",
		Actor:         "alice@example.com",
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Uptime Check":          "uptime-check",
		"  TLS -- Expiry!! ":    "tls-expiry",
		"already-slugged":       "already-slugged",
		"Mixed_Case 42":         "mixed-case-42",
		"!!!":                   "",
		"trailing punctuation.": "trailing-punctuation",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func TestRegister_CreatesDraftProbe(t *testing.T) {
	r, s, published := newTestRegistry(t)
	ctx := context.Background()

	probe, err := r.Register(ctx, validRequest())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^uptime-check-[0-9a-f]{6}$`), probe.Slug)
	assert.Equal(t, store.ProbeStatusDraft, probe.Status)
	assert.Equal(t, []string{"soc2", "iso27001"}, probe.FrameworkBindings)
	assert.Equal(t, []string{"edge"}, probe.Tags)
	assert.Equal(t, "1.1.0", probe.SDKVersionMin)
	assert.Equal(t, "1.2.0", probe.SDKVersionTarget)
	assert.Equal(t, 5*time.Minute, probe.HeartbeatInterval)
	assert.Equal(t, "alice@example.com", probe.Metadata["registeredBy"])
	assert.Equal(t, now, probe.CreatedAt)

	assert.Equal(t, map[string]any{
		"retries":                  3,
		"heartbeatIntervalSeconds": 300,
		"deploymentTopic":          "probe.rollouts",
		"prod":                     map[string]any{"region": "us-east-1"},
	}, probe.EnvironmentOverlays)

	stored, err := s.GetProbe(ctx, probe.Slug)
	require.NoError(t, err)
	assert.Equal(t, probe.ID, stored.ID)

	pm, err := s.GetProbeMetrics(ctx, probe.ID)
	require.NoError(t, err)
	assert.Equal(t, "operational", pm.HeartbeatStatus)
	assert.Equal(t, 0, pm.FailureCount24h)
	assert.Equal(t, "alice@example.com", pm.Metadata["createdBy"])

	ledger, err := s.ListProbeEvents(ctx, probe.ID, 10)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, store.ProbeEventHeartbeat, ledger[0].Type)
	assert.Equal(t, "registration", ledger[0].Payload["trigger"])

	require.Len(t, *published, 1)
	evt := (*published)[0]
	assert.Equal(t, events.KindHeartbeat, evt.Kind)
	hb, ok := evt.Payload.(events.Heartbeat)
	require.True(t, ok)
	assert.Equal(t, probe.ID, hb.ProbeID)
	assert.Equal(t, probe.Slug, hb.Slug)
	assert.Equal(t, "operational", hb.Status)
}

func TestRegister_ActiveStatusAndCustomInterval(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	req := validRequest()
	req.Status = "ACTIVE"
	req.HeartbeatInterval = 90 * time.Second

	probe, err := r.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, store.ProbeStatusActive, probe.Status)
	assert.Equal(t, 90*time.Second, probe.HeartbeatInterval)
	assert.Equal(t, 90, probe.EnvironmentOverlays["heartbeatIntervalSeconds"])
}

func TestRegister_DefaultsSDKMinimum(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	req := validRequest()
	req.SDKVersionMin = ""
	probe, err := r.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", probe.SDKVersionMin)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
	}{
		{"short name", func(r *RegisterRequest) { r.Name = " ab " }},
		{"bad email", func(r *RegisterRequest) { r.OwnerEmail = "not-an-email" }},
		{"display name email", func(r *RegisterRequest) { r.OwnerEmail = "Ops <ops@example.com>" }},
		{"no bindings", func(r *RegisterRequest) { r.FrameworkBindings = []string{" ", ""} }},
		{"short alert channel", func(r *RegisterRequest) { r.AlertChannels = []string{"#a"} }},
		{"negative interval", func(r *RegisterRequest) { r.HeartbeatInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, s, published := newTestRegistry(t)
			req := validRequest()
			tt.mutate(&req)

			_, err := r.Register(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, fault.ErrValidation), "got %v", err)

			n, err := s.CountProbes(context.Background(), store.ProbeFilter{})
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Empty(t, *published)
		})
	}
}

func TestRegister_IncompatibleSDK(t *testing.T) {
	r, s, published := newTestRegistry(t)

	req := validRequest()
	req.SDKVersionMin = "0.9.0"
	_, err := r.Register(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrVersionIncompatible))

	n, err := s.CountProbes(context.Background(), store.ProbeFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, *published)
}

func TestGet(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	probe, err := r.Register(ctx, validRequest())
	require.NoError(t, err)

	byID, err := r.Get(ctx, probe.ID)
	require.NoError(t, err)
	bySlug, err := r.Get(ctx, probe.Slug)
	require.NoError(t, err)
	assert.Equal(t, byID.ID, bySlug.ID)

	_, err = r.Get(ctx, "missing")
	assert.True(t, errors.Is(err, fault.ErrNotFound))

	_, err = r.Get(ctx, "  ")
	assert.True(t, errors.Is(err, fault.ErrValidation))
}

func TestList(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"Alpha Probe", "Beta Probe", "Gamma Probe"} {
		req := validRequest()
		req.Name = name
		_, err := r.Register(ctx, req)
		require.NoError(t, err)
	}
	other := validRequest()
	other.Name = "Delta Probe"
	other.FrameworkBindings = []string{"pci"}
	_, err := r.Register(ctx, other)
	require.NoError(t, err)

	page, err := r.List(ctx, ListQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Probes, 2)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 2, page.Limit)
	assert.True(t, page.HasMore)

	last, err := r.List(ctx, ListQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, last.Probes, 2)
	assert.False(t, last.HasMore)

	pci, err := r.List(ctx, ListQuery{FrameworkIDs: []string{"pci, hipaa"}})
	require.NoError(t, err)
	require.Len(t, pci.Probes, 1)
	assert.Equal(t, "Delta Probe", pci.Probes[0].Name)
	assert.Equal(t, defaultListLimit, pci.Limit)

	search, err := r.List(ctx, ListQuery{Search: "GAMMA", Status: "bogus"})
	require.NoError(t, err)
	require.Len(t, search.Probes, 1)
	assert.Equal(t, "Gamma Probe", search.Probes[0].Name)

	capped, err := r.List(ctx, ListQuery{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, capped.Limit)

	_, err = r.List(ctx, ListQuery{Offset: -1})
	assert.True(t, errors.Is(err, fault.ErrValidation))
}

func TestStatusChanges(t *testing.T) {
	r, s, _ := newTestRegistry(t)
	ctx := context.Background()

	probe, err := r.Register(ctx, validRequest())
	require.NoError(t, err)

	active, err := r.Activate(ctx, probe.Slug, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.ProbeStatusActive, active.Status)

	again, err := r.Activate(ctx, probe.ID, "alice")
	require.NoError(t, err, "activating an active probe is a no-op")
	assert.Equal(t, store.ProbeStatusActive, again.Status)

	deprecated, err := r.Deprecate(ctx, probe.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.ProbeStatusDeprecated, deprecated.Status)
	require.NotNil(t, deprecated.ArchivedAt)

	_, err = r.Activate(ctx, probe.ID, "alice")
	assert.True(t, errors.Is(err, fault.ErrInvalidTransition), "deprecation is final")

	stored, err := s.GetProbe(ctx, probe.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ProbeStatusDeprecated, stored.Status)

	ledger, err := s.ListProbeEvents(ctx, probe.ID, 10)
	require.NoError(t, err)
	var statusRows int
	for _, row := range ledger {
		if row.Type == store.ProbeEventStatus {
			statusRows++
		}
	}
	assert.Equal(t, 2, statusRows)
}

func TestDeprecate_FromDraft(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	probe, err := r.Register(ctx, validRequest())
	require.NoError(t, err)

	deprecated, err := r.Deprecate(ctx, probe.ID, "")
	require.NoError(t, err)
	assert.Equal(t, store.ProbeStatusDeprecated, deprecated.Status)
}

func TestEffectiveConfig(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	req := validRequest()
	req.EnvironmentOverlays = map[string]any{
		"retries": 5,
		"prod":    map[string]any{"retries": 9, "region": "us-east-1"},
	}
	probe, err := r.Register(ctx, req)
	require.NoError(t, err)

	base, err := r.EffectiveConfig(ctx, probe.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 5, base["retries"])
	assert.Equal(t, "probe.rollouts", base["deploymentTopic"])
	assert.NotContains(t, base, "environment")

	prod, err := r.EffectiveConfig(ctx, probe.ID, "prod")
	require.NoError(t, err)
	assert.Equal(t, 9, prod["retries"])
	assert.Equal(t, "us-east-1", prod["region"])
	assert.Equal(t, "prod", prod["environment"])

	staging, err := r.EffectiveConfig(ctx, probe.ID, "staging")
	require.NoError(t, err)
	assert.Equal(t, 5, staging["retries"])
	assert.Equal(t, "staging", staging["environment"])
}

func TestPlanUpgrade(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	probe, err := r.Register(ctx, validRequest())
	require.NoError(t, err)

	plan, err := r.PlanUpgrade(ctx, probe.ID)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "1.1.0", plan.From)
	assert.Equal(t, "1.2.0", plan.To)

	req := validRequest()
	req.Name = "Current Probe"
	req.SDKVersionMin = "1.2.0"
	current, err := r.Register(ctx, req)
	require.NoError(t, err)

	plan, err = r.PlanUpgrade(ctx, current.ID)
	require.NoError(t, err)
	assert.Nil(t, plan)
}
