// ABOUTME: Heartbeat recording, metrics summaries, and stale-heartbeat sweeps
// ABOUTME: Each heartbeat updates metrics, appends a ledger row, and publishes one event

package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/store"
)

// ErrorCodeHeartbeatMissed is reported when a probe stops sending heartbeats.
const ErrorCodeHeartbeatMissed = "heartbeat-missed"

// HeartbeatRequest is a heartbeat reported by a probe. Status is classified
// with ClassifyStatus and defaults to operational when nil.
type HeartbeatRequest struct {
	ProbeID   string
	Status    any
	LatencyMs *int64
	ErrorCode string
	Metadata  map[string]any
}

// Summary is the caller-facing view of a probe's health metrics.
type Summary struct {
	ProbeID           string         `json:"probeId"`
	Status            Status         `json:"status"`
	HeartbeatInterval time.Duration  `json:"heartbeatInterval"`
	LastHeartbeatAt   *time.Time     `json:"lastHeartbeatAt"`
	FailureCount24h   int            `json:"failureCount24h"`
	LatencyP95Ms      *int64         `json:"latencyP95Ms"`
	LastErrorCode     string         `json:"lastErrorCode,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Monitor records probe heartbeats.
type Monitor struct {
	store     store.Store
	publisher events.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewMonitor creates a monitor. Pass nil publisher, clock, or logger for defaults.
func NewMonitor(s store.Store, publisher events.Publisher, clk clock.Clock, logger *slog.Logger) *Monitor {
	if publisher == nil {
		publisher = events.Discard
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:     s,
		publisher: publisher,
		clock:     clk,
		logger:    logger.With("component", "health"),
	}
}

// RunSelfTest evaluates the pre-rollout checks at the monitor's clock time.
func (m *Monitor) RunSelfTest(probe *store.Probe, manifest Manifest) SelfTestResult {
	return RunSelfTestAt(probe, manifest, m.clock.Now().UTC())
}

func summarize(probe *store.Probe, pm *store.ProbeMetrics) *Summary {
	if pm == nil {
		return &Summary{
			ProbeID:           probe.ID,
			Status:            StatusUnknown,
			HeartbeatInterval: probe.HeartbeatInterval,
		}
	}
	interval := pm.HeartbeatInterval
	if interval == 0 {
		interval = probe.HeartbeatInterval
	}
	return &Summary{
		ProbeID:           probe.ID,
		Status:            ClassifyStatus(pm.HeartbeatStatus),
		HeartbeatInterval: interval,
		LastHeartbeatAt:   pm.LastHeartbeatAt,
		FailureCount24h:   pm.FailureCount24h,
		LatencyP95Ms:      pm.LatencyP95Ms,
		LastErrorCode:     pm.LastErrorCode,
		Metadata:          pm.Metadata,
	}
}

func (m *Monitor) loadProbe(ctx context.Context, probeID string) (*store.Probe, error) {
	probe, err := m.store.GetProbe(ctx, probeID)
	if err != nil {
		return nil, fault.FromStore("loading probe", err, map[string]any{"probe_id": probeID})
	}
	return probe, nil
}

// loadMetrics returns the stored metrics, or nil when none exist yet.
func (m *Monitor) loadMetrics(ctx context.Context, probeID string) (*store.ProbeMetrics, error) {
	pm, err := m.store.GetProbeMetrics(ctx, probeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.FromStore("loading probe metrics", err, map[string]any{"probe_id": probeID})
	}
	return pm, nil
}

// Metrics returns a probe's health summary. Probes that never reported are unknown.
func (m *Monitor) Metrics(ctx context.Context, probeID string) (*Summary, error) {
	probe, err := m.loadProbe(ctx, probeID)
	if err != nil {
		return nil, err
	}
	pm, err := m.loadMetrics(ctx, probe.ID)
	if err != nil {
		return nil, err
	}
	return summarize(probe, pm), nil
}

// RecordHeartbeat classifies and stores a heartbeat. An outage increments the
// failure counter and publishes a failure event; anything else publishes a
// heartbeat event.
func (m *Monitor) RecordHeartbeat(ctx context.Context, req HeartbeatRequest) (*Summary, error) {
	probe, err := m.loadProbe(ctx, req.ProbeID)
	if err != nil {
		return nil, err
	}

	raw := req.Status
	if raw == nil {
		raw = string(StatusOperational)
	}
	status := ClassifyStatus(raw)

	pm, err := m.loadMetrics(ctx, probe.ID)
	if err != nil {
		return nil, err
	}
	if pm == nil {
		pm = &store.ProbeMetrics{ProbeID: probe.ID, HeartbeatInterval: probe.HeartbeatInterval}
	}

	now := m.clock.Now().UTC()
	pm.HeartbeatStatus = string(status)
	pm.LastHeartbeatAt = &now
	pm.LatencyP95Ms = req.LatencyMs
	pm.LastErrorCode = req.ErrorCode
	if req.Metadata != nil {
		pm.Metadata = req.Metadata
	}
	if status == StatusOutage {
		pm.FailureCount24h++
	}
	pm.UpdatedAt = now

	if err := m.store.UpsertProbeMetrics(ctx, pm); err != nil {
		return nil, fault.FromStore("updating probe metrics", err, map[string]any{"probe_id": probe.ID})
	}

	ledgerType := store.ProbeEventHeartbeat
	if status == StatusOutage {
		ledgerType = store.ProbeEventFailure
	}
	payload := map[string]any{"status": string(status)}
	if req.LatencyMs != nil {
		payload["latencyMs"] = *req.LatencyMs
	}
	if req.ErrorCode != "" {
		payload["errorCode"] = req.ErrorCode
	}
	if err := m.store.RecordProbeEvent(ctx, &store.ProbeEvent{
		ID:        uuid.New().String(),
		ProbeID:   probe.ID,
		Type:      ledgerType,
		Payload:   payload,
		CreatedAt: now,
	}); err != nil {
		return nil, fault.FromStore("recording heartbeat", err, map[string]any{"probe_id": probe.ID})
	}

	if status == StatusOutage {
		code := req.ErrorCode
		if code == "" {
			code = "unknown"
		}
		events.PublishFailure(ctx, m.publisher, events.Failure{
			ProbeID:   probe.ID,
			Slug:      probe.Slug,
			ErrorCode: code,
		})
	} else {
		events.PublishHeartbeat(ctx, m.publisher, events.Heartbeat{
			ProbeID:  probe.ID,
			Slug:     probe.Slug,
			Status:   string(status),
			Metadata: req.Metadata,
		})
	}

	m.logger.Info("probe heartbeat recorded", "probe_id", probe.ID, "status", status)
	return summarize(probe, pm), nil
}

// SweepStale marks probes whose last heartbeat is older than their interval
// plus grace as in outage. Each stale probe is marked once; probes already in
// outage, deprecated probes, and probes that never reported are skipped.
// Returns the IDs of probes that were marked.
func (m *Monitor) SweepStale(ctx context.Context, grace time.Duration) ([]string, error) {
	all, err := m.store.ListProbeMetrics(ctx)
	if err != nil {
		return nil, fault.FromStore("listing probe metrics", err, nil)
	}

	now := m.clock.Now().UTC()
	var marked []string

	for _, pm := range all {
		if pm.LastHeartbeatAt == nil || ClassifyStatus(pm.HeartbeatStatus) == StatusOutage {
			continue
		}
		if now.Sub(*pm.LastHeartbeatAt) <= pm.HeartbeatInterval+grace {
			continue
		}

		probe, err := m.store.GetProbe(ctx, pm.ProbeID)
		if err != nil {
			m.logger.Warn("skipping stale probe", "probe_id", pm.ProbeID, "error", err)
			continue
		}
		if probe.Status == store.ProbeStatusDeprecated {
			continue
		}

		pm.HeartbeatStatus = string(StatusOutage)
		pm.FailureCount24h++
		pm.LastErrorCode = ErrorCodeHeartbeatMissed
		pm.UpdatedAt = now
		err = m.store.UpdateProbeMetrics(ctx, pm, pm.LastHeartbeatAt)
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			m.logger.Debug("stale probe changed during sweep", "probe_id", pm.ProbeID, "error", err)
			continue
		}
		if err != nil {
			return marked, fault.FromStore("updating probe metrics", err, map[string]any{"probe_id": pm.ProbeID})
		}

		if err := m.store.RecordProbeEvent(ctx, &store.ProbeEvent{
			ID:      uuid.New().String(),
			ProbeID: pm.ProbeID,
			Type:    store.ProbeEventFailure,
			Payload: map[string]any{
				"status":          string(StatusOutage),
				"errorCode":       ErrorCodeHeartbeatMissed,
				"lastHeartbeatAt": pm.LastHeartbeatAt.Format(time.RFC3339),
			},
			CreatedAt: now,
		}); err != nil {
			m.logger.Warn("failed to record missed heartbeat", "probe_id", pm.ProbeID, "error", err)
		}

		events.PublishFailure(ctx, m.publisher, events.Failure{
			ProbeID:   pm.ProbeID,
			Slug:      probe.Slug,
			ErrorCode: ErrorCodeHeartbeatMissed,
		})

		m.logger.Warn("probe heartbeat missed",
			"probe_id", pm.ProbeID,
			"last_heartbeat_at", pm.LastHeartbeatAt,
			"interval", pm.HeartbeatInterval)
		marked = append(marked, pm.ProbeID)
	}

	return marked, nil
}
