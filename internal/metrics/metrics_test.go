// ABOUTME: Tests for the Prometheus collector fed from the event bus
// ABOUTME: Verifies counters, per-status probe gauges, bus stats, and the HTTP exposition handler

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/store"
)

func TestCollector_CountsEvents(t *testing.T) {
	bus := events.NewBus(nil, nil)
	c := NewCollector(bus)
	c.Attach(bus)
	ctx := context.Background()

	events.PublishDeployment(ctx, bus, events.Deployment{ProbeID: "p-1", DeploymentID: "d-1", Status: "pending", Environment: "prod"})
	events.PublishDeployment(ctx, bus, events.Deployment{ProbeID: "p-1", DeploymentID: "d-1", Status: "completed", Environment: "prod"})
	events.PublishEvidence(ctx, bus, events.Evidence{ProbeID: "p-1", RunID: "run_1", Status: "accepted"})
	events.PublishFailure(ctx, bus, events.Failure{ProbeID: "p-1", DeploymentID: "d-2", ErrorCode: "self-test-failed"})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues(string(events.KindDeployment))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues(string(events.KindEvidence))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deployments.WithLabelValues("prod", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evidence))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("self-test-failed")))
}

func TestCollector_TracksHeartbeatStatus(t *testing.T) {
	bus := events.NewBus(nil, nil)
	c := NewCollector(nil)
	c.Attach(bus)
	ctx := context.Background()

	c.Seed([]*store.ProbeMetrics{
		{ProbeID: "p-1", HeartbeatStatus: "operational"},
		{ProbeID: "p-2", HeartbeatStatus: "garbage"},
	})
	events.PublishHeartbeat(ctx, bus, events.Heartbeat{ProbeID: "p-3", Status: "degraded"})
	events.PublishFailure(ctx, bus, events.Failure{ProbeID: "p-1", ErrorCode: health.ErrorCodeHeartbeatMissed})
	events.PublishFailure(ctx, bus, events.Failure{ProbeID: "p-3", DeploymentID: "d-1", ErrorCode: "deployment-failed"})

	counts := c.ProbeCounts()
	assert.Equal(t, 0, counts[health.StatusOperational])
	assert.Equal(t, 1, counts[health.StatusDegraded], "deployment failures leave heartbeat status alone")
	assert.Equal(t, 1, counts[health.StatusOutage])
	assert.Equal(t, 1, counts[health.StatusUnknown])
}

func TestCollector_Registry(t *testing.T) {
	bus := events.NewBus(nil, nil)
	c := NewCollector(bus)
	c.Attach(bus)
	bus.Subscribe(events.KindHeartbeat, "broken", func(context.Context, events.Event) error {
		panic("boom")
	})

	events.PublishHeartbeat(context.Background(), bus, events.Heartbeat{ProbeID: "p-1", Status: "operational"})

	reg := NewRegistry(c)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		switch mf.GetName() {
		case "probe_fleet_bus_published_total", "probe_fleet_bus_delivered_total", "probe_fleet_bus_failed_total":
			values[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, values["probe_fleet_bus_published_total"])
	assert.Equal(t, 1.0, values["probe_fleet_bus_delivered_total"])
	assert.Equal(t, 1.0, values["probe_fleet_bus_failed_total"])
}

func TestHandler_ServesExposition(t *testing.T) {
	bus := events.NewBus(nil, nil)
	c := NewCollector(bus)
	c.Attach(bus)
	events.PublishHeartbeat(context.Background(), bus, events.Heartbeat{ProbeID: "p-1", Status: "operational"})

	srv := httptest.NewServer(Handler(NewRegistry(c)))
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `probe_fleet_events_total{kind="probe.heartbeat.v1"} 1`)
	assert.Contains(t, string(body), `probe_fleet_probes{status="operational"} 1`)
}
