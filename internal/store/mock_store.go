// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while matching its conditional-update semantics

package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	seq         int64
	probes      map[string]*Probe // keyed by probe ID
	slugs       map[string]string // slug -> probe ID
	deployments map[string]*Deployment
	schedules   map[string]*Schedule
	metrics     map[string]*ProbeMetrics // keyed by probe ID
	events      map[string][]*ProbeEvent // keyed by probe ID, append order
	order       map[string]int64         // insertion sequence for stable ordering
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		probes:      make(map[string]*Probe),
		slugs:       make(map[string]string),
		deployments: make(map[string]*Deployment),
		schedules:   make(map[string]*Schedule),
		metrics:     make(map[string]*ProbeMetrics),
		events:      make(map[string][]*ProbeEvent),
		order:       make(map[string]int64),
	}
}

func (m *MockStore) nextSeq(id string) {
	m.seq++
	m.order[id] = m.seq
}

// CreateProbe stores a new probe.
func (m *MockStore) CreateProbe(ctx context.Context, probe *Probe) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.probes[probe.ID]; exists {
		return ErrDuplicate
	}
	if _, exists := m.slugs[probe.Slug]; exists {
		return ErrDuplicate
	}

	m.probes[probe.ID] = copyProbe(probe)
	m.slugs[probe.Slug] = probe.ID
	m.nextSeq(probe.ID)
	return nil
}

// GetProbe retrieves a probe by id or slug.
func (m *MockStore) GetProbe(ctx context.Context, idOrSlug string) (*Probe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.probes[idOrSlug]; ok {
		return copyProbe(p), nil
	}
	if id, ok := m.slugs[idOrSlug]; ok {
		return copyProbe(m.probes[id]), nil
	}
	return nil, ErrNotFound
}

func (m *MockStore) matchingProbes(filter ProbeFilter) []*Probe {
	owner := strings.ToLower(filter.Owner)
	search := strings.ToLower(filter.Search)

	var out []*Probe
	for _, p := range m.probes {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if len(filter.FrameworkIDs) > 0 && !slices.ContainsFunc(p.FrameworkBindings, func(b string) bool {
			return slices.Contains(filter.FrameworkIDs, b)
		}) {
			continue
		}
		if owner != "" && !strings.Contains(strings.ToLower(p.OwnerEmail), owner) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) &&
			!strings.Contains(strings.ToLower(p.Slug), search) {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.order[out[i].ID] > m.order[out[j].ID]
	})
	return out
}

// ListProbes returns probes matching the filter, newest first.
func (m *MockStore) ListProbes(ctx context.Context, filter ProbeFilter) ([]*Probe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.matchingProbes(filter)

	offset := max(filter.Offset, 0)
	if offset >= len(matched) {
		return nil, nil
	}
	end := min(offset+clampProbeLimit(filter.Limit), len(matched))

	out := make([]*Probe, 0, end-offset)
	for _, p := range matched[offset:end] {
		out = append(out, copyProbe(p))
	}
	return out, nil
}

// CountProbes returns the number of probes matching the filter.
func (m *MockStore) CountProbes(ctx context.Context, filter ProbeFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.matchingProbes(filter)), nil
}

// UpdateProbeStatus changes a probe's status if it is still in the expected one.
func (m *MockStore) UpdateProbeStatus(ctx context.Context, id string, from, to ProbeStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.probes[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != from {
		return ErrConflict
	}

	p.Status = to
	p.UpdatedAt = at
	if to == ProbeStatusDeprecated {
		archived := at
		p.ArchivedAt = &archived
	}
	return nil
}

// TouchLastDeployment sets a probe's LastDeployedAt.
func (m *MockStore) TouchLastDeployment(ctx context.Context, probeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.probes[probeID]
	if !ok {
		return ErrNotFound
	}
	touched := at
	p.LastDeployedAt = &touched
	p.UpdatedAt = at
	return nil
}

// CreateDeployment stores a new deployment.
func (m *MockStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.probes[d.ProbeID]; !ok {
		return ErrNotFound
	}
	if _, exists := m.deployments[d.ID]; exists {
		return ErrDuplicate
	}

	m.deployments[d.ID] = copyDeployment(d)
	m.nextSeq(d.ID)
	return nil
}

// GetDeployment retrieves a deployment by id.
func (m *MockStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deployments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDeployment(d), nil
}

// ListDeployments returns a probe's deployments, newest first.
func (m *MockStore) ListDeployments(ctx context.Context, probeID string, limit int) ([]*Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Deployment
	for _, d := range m.deployments {
		if d.ProbeID == probeID {
			out = append(out, d)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.order[out[i].ID] > m.order[out[j].ID]
	})

	limit = clampListLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	for i, d := range out {
		out[i] = copyDeployment(d)
	}
	return out, nil
}

// UpdateDeployment replaces a deployment if it is still at the expected status and revision.
func (m *MockStore) UpdateDeployment(ctx context.Context, d *Deployment, expected DeploymentStatus, expectedRevision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.deployments[d.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status != expected || existing.Revision != expectedRevision {
		return ErrConflict
	}

	updated := copyDeployment(d)
	updated.ProbeID = existing.ProbeID
	updated.Version = existing.Version
	updated.Environment = existing.Environment
	updated.CanaryPercent = existing.CanaryPercent
	updated.OverlayID = existing.OverlayID
	updated.Manifest = existing.Manifest
	updated.CreatedAt = existing.CreatedAt
	updated.Revision = expectedRevision + 1
	m.deployments[d.ID] = updated

	d.Revision = updated.Revision
	return nil
}

// CreateSchedule stores a new schedule.
func (m *MockStore) CreateSchedule(ctx context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.probes[s.ProbeID]; !ok {
		return ErrNotFound
	}
	if _, exists := m.schedules[s.ID]; exists {
		return ErrDuplicate
	}

	m.schedules[s.ID] = copySchedule(s)
	m.nextSeq(s.ID)
	return nil
}

// GetSchedule retrieves a schedule by id.
func (m *MockStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySchedule(s), nil
}

// ListSchedules returns a probe's schedules in creation order.
func (m *MockStore) ListSchedules(ctx context.Context, probeID string) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Schedule
	for _, s := range m.schedules {
		if s.ProbeID == probeID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	for i, s := range out {
		out[i] = copySchedule(s)
	}
	return out, nil
}

// ListDueSchedules returns active schedules due at or before now, most urgent first.
func (m *MockStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Schedule
	for _, s := range m.schedules {
		if s.Status != ScheduleActive || s.NextRunAt == nil || s.NextRunAt.After(now) {
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		ri, rj := priorityRank(out[i].Priority), priorityRank(out[j].Priority)
		if ri != rj {
			return ri < rj
		}
		if !out[i].NextRunAt.Equal(*out[j].NextRunAt) {
			return out[i].NextRunAt.Before(*out[j].NextRunAt)
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})

	limit = clampListLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	for i, s := range out {
		out[i] = copySchedule(s)
	}
	return out, nil
}

// UpdateSchedule replaces a schedule's mutable fields.
func (m *MockStore) UpdateSchedule(ctx context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.schedules[s.ID]
	if !ok {
		return ErrNotFound
	}

	updated := copySchedule(s)
	updated.ProbeID = existing.ProbeID
	updated.CreatedAt = existing.CreatedAt
	m.schedules[s.ID] = updated
	return nil
}

// UpsertProbeMetrics inserts or replaces a probe's metrics row.
func (m *MockStore) UpsertProbeMetrics(ctx context.Context, pm *ProbeMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.probes[pm.ProbeID]; !ok {
		return ErrNotFound
	}
	m.metrics[pm.ProbeID] = copyMetrics(pm)
	return nil
}

// UpdateProbeMetrics replaces a probe's metrics row while its last heartbeat
// still matches expectedLastHeartbeat.
func (m *MockStore) UpdateProbeMetrics(ctx context.Context, pm *ProbeMetrics, expectedLastHeartbeat *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.metrics[pm.ProbeID]
	if !ok {
		return ErrNotFound
	}
	if !sameTime(cur.LastHeartbeatAt, expectedLastHeartbeat) {
		return ErrConflict
	}
	m.metrics[pm.ProbeID] = copyMetrics(pm)
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// GetProbeMetrics retrieves a probe's metrics row.
func (m *MockStore) GetProbeMetrics(ctx context.Context, probeID string) (*ProbeMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pm, ok := m.metrics[probeID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMetrics(pm), nil
}

// ListProbeMetrics returns every metrics row ordered by probe id.
func (m *MockStore) ListProbeMetrics(ctx context.Context) ([]*ProbeMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ProbeMetrics, 0, len(m.metrics))
	for _, pm := range m.metrics {
		out = append(out, copyMetrics(pm))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProbeID < out[j].ProbeID })
	return out, nil
}

// RecordProbeEvent appends a ledger row.
func (m *MockStore) RecordProbeEvent(ctx context.Context, event *ProbeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.probes[event.ProbeID]; !ok {
		return ErrNotFound
	}

	e := *event
	e.Payload = maps.Clone(event.Payload)
	m.events[event.ProbeID] = append(m.events[event.ProbeID], &e)
	return nil
}

// ListProbeEvents returns a probe's ledger rows, newest first.
func (m *MockStore) ListProbeEvents(ctx context.Context, probeID string, limit int) ([]*ProbeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.events[probeID]
	out := make([]*ProbeEvent, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		e := *src[i]
		e.Payload = maps.Clone(src[i].Payload)
		out = append(out, &e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit = clampListLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyProbe(p *Probe) *Probe {
	c := *p
	c.FrameworkBindings = slices.Clone(p.FrameworkBindings)
	c.Tags = slices.Clone(p.Tags)
	c.AlertChannels = slices.Clone(p.AlertChannels)
	c.EvidenceSchema = maps.Clone(p.EvidenceSchema)
	c.EnvironmentOverlays = maps.Clone(p.EnvironmentOverlays)
	c.Metadata = maps.Clone(p.Metadata)
	c.LastDeployedAt = copyTime(p.LastDeployedAt)
	c.ArchivedAt = copyTime(p.ArchivedAt)
	return &c
}

func copyDeployment(d *Deployment) *Deployment {
	c := *d
	if d.CanaryPercent != nil {
		v := *d.CanaryPercent
		c.CanaryPercent = &v
	}
	c.Manifest = maps.Clone(d.Manifest)
	c.Metadata = maps.Clone(d.Metadata)
	c.SelfTest = slices.Clone(d.SelfTest)
	c.StartedAt = copyTime(d.StartedAt)
	c.CompletedAt = copyTime(d.CompletedAt)
	c.RolledBackAt = copyTime(d.RolledBackAt)
	return &c
}

func copySchedule(s *Schedule) *Schedule {
	c := *s
	c.Controls = slices.Clone(s.Controls)
	c.Metadata = maps.Clone(s.Metadata)
	c.LastRunAt = copyTime(s.LastRunAt)
	c.NextRunAt = copyTime(s.NextRunAt)
	return &c
}

func copyMetrics(pm *ProbeMetrics) *ProbeMetrics {
	c := *pm
	if pm.LatencyP95Ms != nil {
		v := *pm.LatencyP95Ms
		c.LatencyP95Ms = &v
	}
	c.LastHeartbeatAt = copyTime(pm.LastHeartbeatAt)
	c.Metadata = maps.Clone(pm.Metadata)
	return &c
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
