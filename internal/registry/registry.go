// ABOUTME: Probe registry: registration, lookup, listing, and one-directional status changes
// ABOUTME: Registration checks SDK compatibility and merges fleet defaults into the probe overlays

package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/overlay"
	"github.com/2389/probe-fleet/internal/store"
	"github.com/2389/probe-fleet/internal/version"
)

const (
	defaultListLimit = 25
	maxListLimit     = 100

	// slugAttempts bounds retries when a generated slug collides.
	slugAttempts = 3
)

// Defaults are the fleet-wide values every registration starts from.
type Defaults struct {
	HeartbeatInterval time.Duration
	DeploymentTopic   string
	Overlay           map[string]any // base overlay applied under every probe
}

// RegisterRequest describes a probe to register.
type RegisterRequest struct {
	Name                string
	Description         string
	OwnerEmail          string
	OwnerTeam           string
	Status              string // "active" registers straight to active; anything else is draft
	FrameworkBindings   []string
	Tags                []string
	AlertChannels       []string
	EvidenceSchema      map[string]any
	EnvironmentOverlays map[string]any
	SDKVersionMin       string
	SDKVersionTarget    string
	HeartbeatInterval   time.Duration
	Metadata            map[string]any
	Actor               string
}

// ListQuery filters and paginates List. FrameworkIDs entries may be comma
// separated.
type ListQuery struct {
	Status       string
	FrameworkIDs []string
	Owner        string
	Search       string
	Limit        int
	Offset       int
}

// ListResult is one page of probes.
type ListResult struct {
	Probes  []*store.Probe `json:"probes"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"hasMore"`
}

// Registry manages probe records.
type Registry struct {
	store     store.Store
	publisher events.Publisher
	versions  *version.Manager
	loader    *overlay.Loader
	defaults  Defaults
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a Registry. Pass nil publisher, versions, clock, or logger for
// defaults.
func New(s store.Store, publisher events.Publisher, versions *version.Manager, defaults Defaults, clk clock.Clock, logger *slog.Logger) *Registry {
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
	if defaults.HeartbeatInterval <= 0 {
		defaults.HeartbeatInterval = 5 * time.Minute
	}

	base := overlay.MergeAll(defaults.Overlay, map[string]any{
		"heartbeatIntervalSeconds": int(defaults.HeartbeatInterval / time.Second),
		"deploymentTopic":          defaults.DeploymentTopic,
	})

	return &Registry{
		store:     s,
		publisher: publisher,
		versions:  versions,
		loader:    overlay.NewLoader(base),
		defaults:  defaults,
		clock:     clk,
		logger:    logger.With("component", "registry"),
	}
}

// Slugify lowercases name and collapses every run of non-alphanumeric
// characters into a single dash.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func newSlug(name string) (string, error) {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating slug suffix: %w", err)
	}
	base := Slugify(name)
	if base == "" {
		base = "probe"
	}
	return base + "-" + hex.EncodeToString(suffix), nil
}

// cleanList trims entries and drops empty ones. Entries shorter than minLen
// are rejected.
func cleanList(field string, values []string, minLen int) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if len(v) < minLen {
			return nil, fault.Validation(
				fmt.Sprintf("%s entries must be at least %d characters", field, minLen),
				map[string]any{"field": field, "value": v},
			)
		}
		out = append(out, v)
	}
	return out, nil
}

func validateRegister(req RegisterRequest) error {
	if len(strings.TrimSpace(req.Name)) < 3 {
		return fault.Validation("probe name must be at least 3 characters", map[string]any{"field": "name"})
	}
	email := strings.TrimSpace(req.OwnerEmail)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fault.Validation("owner email must be a valid address", map[string]any{"field": "ownerEmail"})
	}
	if req.HeartbeatInterval < 0 {
		return fault.Validation("heartbeat interval must be positive", map[string]any{"field": "heartbeatIntervalSeconds"})
	}
	return nil
}

func copyMap(m map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Register validates req and creates a probe record.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*store.Probe, error) {
	if err := validateRegister(req); err != nil {
		return nil, err
	}

	bindings, err := cleanList("frameworkBindings", req.FrameworkBindings, 1)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, fault.Validation("at least one framework binding is required", map[string]any{"field": "frameworkBindings"})
	}
	tags, err := cleanList("tags", req.Tags, 1)
	if err != nil {
		return nil, err
	}
	channels, err := cleanList("alertChannels", req.AlertChannels, 3)
	if err != nil {
		return nil, err
	}

	sdkMin := strings.TrimSpace(req.SDKVersionMin)
	if sdkMin == "" {
		sdkMin = r.versions.Minimum
	}
	if err := r.versions.AssertCompatible(sdkMin); err != nil {
		return nil, err
	}
	sdkTarget := strings.TrimSpace(req.SDKVersionTarget)
	if sdkTarget == "" {
		sdkTarget = r.versions.Target
	}

	interval := req.HeartbeatInterval
	if interval == 0 {
		interval = r.defaults.HeartbeatInterval
	}
	overlays := r.loader.Merge(
		map[string]any{"heartbeatIntervalSeconds": int(interval / time.Second)},
		req.EnvironmentOverlays,
	)

	status := store.ProbeStatusDraft
	if strings.EqualFold(strings.TrimSpace(req.Status), string(store.ProbeStatusActive)) {
		status = store.ProbeStatusActive
	}

	metadata := copyMap(req.Metadata, 1)
	if req.Actor != "" {
		metadata["registeredBy"] = req.Actor
	}

	now := r.clock.Now().UTC()
	probe := &store.Probe{
		ID:                  uuid.New().String(),
		Name:                strings.TrimSpace(req.Name),
		Description:         strings.TrimSpace(req.Description),
		OwnerEmail:          strings.TrimSpace(req.OwnerEmail),
		OwnerTeam:           strings.TrimSpace(req.OwnerTeam),
		Status:              status,
		FrameworkBindings:   bindings,
		Tags:                tags,
		AlertChannels:       channels,
		EvidenceSchema:      req.EvidenceSchema,
		EnvironmentOverlays: overlays,
		SDKVersionMin:       sdkMin,
		SDKVersionTarget:    sdkTarget,
		HeartbeatInterval:   interval,
		Metadata:            metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	for attempt := 1; ; attempt++ {
		probe.Slug, err = newSlug(probe.Name)
		if err != nil {
			return nil, fault.Integration("registering probe", err)
		}
		err = r.store.CreateProbe(ctx, probe)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicate) || attempt == slugAttempts {
			return nil, fault.FromStore("creating probe", err, map[string]any{"slug": probe.Slug})
		}
		r.logger.Debug("slug collision, retrying", "slug", probe.Slug, "attempt", attempt)
	}

	r.initHealth(ctx, probe, req.Actor, now)

	r.logger.Info("probe registered",
		"probe_id", probe.ID,
		"slug", probe.Slug,
		"status", probe.Status,
		"sdk_version_min", probe.SDKVersionMin)
	return probe, nil
}

// initHealth seeds the metrics row and announces the probe. The probe record
// already exists, so failures are logged rather than returned.
func (r *Registry) initHealth(ctx context.Context, probe *store.Probe, actor string, now time.Time) {
	metadata := map[string]any{}
	if actor != "" {
		metadata["createdBy"] = actor
	}
	err := r.store.UpsertProbeMetrics(ctx, &store.ProbeMetrics{
		ProbeID:           probe.ID,
		HeartbeatStatus:   string(health.StatusOperational),
		HeartbeatInterval: probe.HeartbeatInterval,
		FailureCount24h:   0,
		Metadata:          metadata,
		UpdatedAt:         now,
	})
	if err != nil {
		r.logger.Warn("failed to initialize probe metrics", "probe_id", probe.ID, "error", err)
	}

	payload := map[string]any{
		"status":  string(health.StatusOperational),
		"trigger": "registration",
	}
	if actor != "" {
		payload["actor"] = actor
	}
	if err := r.store.RecordProbeEvent(ctx, &store.ProbeEvent{
		ID:        uuid.New().String(),
		ProbeID:   probe.ID,
		Type:      store.ProbeEventHeartbeat,
		Payload:   payload,
		CreatedAt: now,
	}); err != nil {
		r.logger.Warn("failed to record registration ledger row", "probe_id", probe.ID, "error", err)
	}

	events.PublishHeartbeat(ctx, r.publisher, events.Heartbeat{
		ProbeID:  probe.ID,
		Slug:     probe.Slug,
		Status:   string(health.StatusOperational),
		Metadata: map[string]any{"trigger": "registration"},
	})
}

// Get loads a probe by ID or slug.
func (r *Registry) Get(ctx context.Context, idOrSlug string) (*store.Probe, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return nil, fault.Validation("probe identifier is required", map[string]any{"field": "probeId"})
	}
	probe, err := r.store.GetProbe(ctx, idOrSlug)
	if err != nil {
		return nil, fault.FromStore("loading probe", err, map[string]any{"probe_id": idOrSlug})
	}
	return probe, nil
}

// ParseStatus returns the probe status named by raw, case-insensitively.
func ParseStatus(raw string) (store.ProbeStatus, bool) {
	switch s := store.ProbeStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case store.ProbeStatusDraft, store.ProbeStatusActive, store.ProbeStatusDeprecated:
		return s, true
	}
	return "", false
}

// List returns one page of probes. An unrecognized status filter is ignored.
func (r *Registry) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if q.Offset < 0 {
		return nil, fault.Validation("offset must not be negative", map[string]any{"field": "offset"})
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	filter := store.ProbeFilter{
		Owner:  strings.TrimSpace(q.Owner),
		Search: strings.TrimSpace(q.Search),
		Limit:  limit,
		Offset: q.Offset,
	}
	if status, ok := ParseStatus(q.Status); ok {
		filter.Status = status
	}
	for _, entry := range q.FrameworkIDs {
		for _, id := range strings.Split(entry, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filter.FrameworkIDs = append(filter.FrameworkIDs, id)
			}
		}
	}

	probes, err := r.store.ListProbes(ctx, filter)
	if err != nil {
		return nil, fault.FromStore("listing probes", err, nil)
	}
	total, err := r.store.CountProbes(ctx, filter)
	if err != nil {
		return nil, fault.FromStore("counting probes", err, nil)
	}

	return &ListResult{
		Probes:  probes,
		Total:   total,
		Limit:   limit,
		Offset:  q.Offset,
		HasMore: q.Offset+len(probes) < total,
	}, nil
}

// Activate moves a draft probe to active.
func (r *Registry) Activate(ctx context.Context, idOrSlug, actor string) (*store.Probe, error) {
	return r.setStatus(ctx, idOrSlug, store.ProbeStatusActive, actor, store.ProbeStatusDraft)
}

// Deprecate retires a draft or active probe. Deprecation is final.
func (r *Registry) Deprecate(ctx context.Context, idOrSlug, actor string) (*store.Probe, error) {
	return r.setStatus(ctx, idOrSlug, store.ProbeStatusDeprecated, actor, store.ProbeStatusDraft, store.ProbeStatusActive)
}

func (r *Registry) setStatus(ctx context.Context, idOrSlug string, to store.ProbeStatus, actor string, from ...store.ProbeStatus) (*store.Probe, error) {
	probe, err := r.Get(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if probe.Status == to {
		return probe, nil
	}

	allowed := false
	for _, f := range from {
		if probe.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fault.InvalidTransition(
			fmt.Sprintf("probe cannot move from %s to %s", probe.Status, to),
			map[string]any{"probe_id": probe.ID, "from": probe.Status, "to": to},
		)
	}

	now := r.clock.Now().UTC()
	prev := probe.Status
	if err := r.store.UpdateProbeStatus(ctx, probe.ID, prev, to, now); err != nil {
		return nil, fault.FromStore("updating probe status", err, map[string]any{
			"probe_id": probe.ID,
			"from":     prev,
			"to":       to,
		})
	}
	probe.Status = to
	probe.UpdatedAt = now
	if to == store.ProbeStatusDeprecated {
		probe.ArchivedAt = &now
	}

	payload := map[string]any{"from": string(prev), "to": string(to)}
	if actor != "" {
		payload["actor"] = actor
	}
	if err := r.store.RecordProbeEvent(ctx, &store.ProbeEvent{
		ID:        uuid.New().String(),
		ProbeID:   probe.ID,
		Type:      store.ProbeEventStatus,
		Payload:   payload,
		CreatedAt: now,
	}); err != nil {
		r.logger.Warn("failed to record status ledger row", "probe_id", probe.ID, "error", err)
	}

	r.logger.Info("probe status changed", "probe_id", probe.ID, "from", prev, "to", to)
	return probe, nil
}

// Defaults returns the base overlay every probe configuration starts from.
func (r *Registry) Defaults() map[string]any {
	return r.loader.Defaults()
}

// EffectiveConfig resolves a probe's configuration for an environment. The
// fleet defaults and the probe's overlays are merged first; when the overlays
// hold a map under the environment name it is merged on top.
func (r *Registry) EffectiveConfig(ctx context.Context, idOrSlug, environment string) (map[string]any, error) {
	probe, err := r.Get(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}

	cfg := r.loader.Merge(probe.EnvironmentOverlays)
	env := strings.TrimSpace(environment)
	if env == "" {
		return cfg, nil
	}
	if envOverlay, ok := cfg[env].(map[string]any); ok {
		cfg = overlay.MergeAll(cfg, envOverlay)
	}
	cfg["environment"] = env
	return cfg, nil
}

// PlanUpgrade plans a move from the probe's declared SDK version to the
// fleet target. It returns nil when no upgrade is needed.
func (r *Registry) PlanUpgrade(ctx context.Context, idOrSlug string) (*version.UpgradePlan, error) {
	probe, err := r.Get(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	return r.versions.PlanUpgrade(probe.SDKVersionMin), nil
}
