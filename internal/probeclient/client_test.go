// ABOUTME: Tests for the probe-side client
// ABOUTME: Covers evidence checksums, receipts, and heartbeats with and without a monitor

package probeclient

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/probe-fleet/internal/events"
	"github.com/2389/probe-fleet/internal/fault"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func recordingBus(t *testing.T) (*events.Bus, *testclock.Clock, *[]events.Event) {
	t.Helper()
	clk := testclock.NewClock(now)
	bus := events.NewBus(nil, clk)
	var published []events.Event
	bus.SubscribeAll("recorder", func(_ context.Context, evt events.Event) error {
		published = append(published, evt)
		return nil
	})
	return bus, clk, &published
}

func TestNew_RequiresProbeID(t *testing.T) {
	_, err := New("  ", Options{})
	assert.ErrorIs(t, err, fault.ErrValidation)

	c, err := New("probe-1", Options{Credential: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "probe-1", c.ProbeID())
	assert.True(t, c.HasCredential())
}

func TestChecksum_StableAcrossKeyOrder(t *testing.T) {
	a, err := Checksum(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := Checksum(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := Checksum(map[string]any{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSubmitEvidence(t *testing.T) {
	bus, _, published := recordingBus(t)
	c, err := New("probe-1", Options{Publisher: bus, Clock: testclock.NewClock(now)})
	require.NoError(t, err)

	payload := map[string]any{"endpoint": "https://example.com", "up": true}
	receipt, err := c.SubmitEvidence(context.Background(), Evidence{
		Payload:         payload,
		ControlMappings: []string{"CC7.1"},
	})
	require.NoError(t, err)

	want, err := Checksum(payload)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, receipt.Status)
	assert.Equal(t, want, receipt.Checksum)
	assert.NotEmpty(t, receipt.RunID)
	assert.Equal(t, now, receipt.SubmittedAt)

	require.Len(t, *published, 1)
	evt := (*published)[0]
	assert.Equal(t, events.KindEvidence, evt.Kind)
	ev := evt.Payload.(events.Evidence)
	assert.Equal(t, "probe-1", ev.ProbeID)
	assert.Equal(t, receipt.RunID, ev.RunID)
	assert.Equal(t, want, ev.Checksum)
	assert.Equal(t, []string{"CC7.1"}, ev.ControlMappings)
}

func TestSubmitEvidence_KeepsCallerChecksumAndRunID(t *testing.T) {
	bus, _, published := recordingBus(t)
	c, err := New("probe-1", Options{Publisher: bus})
	require.NoError(t, err)

	receipt, err := c.SubmitEvidence(context.Background(), Evidence{
		RunID:    "run_abc",
		Payload:  map[string]any{},
		Checksum: "deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, "run_abc", receipt.RunID)
	assert.Equal(t, "deadbeef", receipt.Checksum)
	assert.Equal(t, "deadbeef", (*published)[0].Payload.(events.Evidence).Checksum)
}

func TestSubmitEvidence_RequiresPayload(t *testing.T) {
	bus, _, published := recordingBus(t)
	c, err := New("probe-1", Options{Publisher: bus})
	require.NoError(t, err)

	_, err = c.SubmitEvidence(context.Background(), Evidence{})
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.Empty(t, *published)
}

func TestSubmitHeartbeat_PublishOnly(t *testing.T) {
	bus, _, published := recordingBus(t)
	c, err := New("probe-1", Options{Publisher: bus})
	require.NoError(t, err)

	receipt, err := c.SubmitHeartbeat(context.Background(), "", map[string]any{"region": "eu"})
	require.NoError(t, err)
	assert.Equal(t, "operational", receipt.Status)

	receipt, err = c.SubmitHeartbeat(context.Background(), "Degraded", nil)
	require.NoError(t, err)
	assert.Equal(t, "degraded", receipt.Status)

	require.Len(t, *published, 2)
	hb := (*published)[0].Payload.(events.Heartbeat)
	assert.Equal(t, "probe-1", hb.ProbeID)
	assert.Equal(t, "eu", hb.Metadata["region"])
}

func TestSubmitHeartbeat_ThroughMonitor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	require.NoError(t, s.CreateProbe(ctx, &store.Probe{
		ID:                "probe-1",
		Slug:              "probe-1-slug",
		Name:              "Probe One",
		OwnerEmail:        "ops@example.com",
		Status:            store.ProbeStatusActive,
		HeartbeatInterval: time.Minute,
		CreatedAt:         now,
		UpdatedAt:         now,
	}))

	bus, clk, published := recordingBus(t)
	monitor := health.NewMonitor(s, bus, clk, nil)
	c, err := New("probe-1", Options{Publisher: bus, Heartbeats: monitor, Clock: clk})
	require.NoError(t, err)

	receipt, err := c.SubmitHeartbeat(ctx, "outage", nil)
	require.NoError(t, err)
	assert.Equal(t, "outage", receipt.Status)

	pm, err := s.GetProbeMetrics(ctx, "probe-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pm.FailureCount24h)

	require.Len(t, *published, 1, "the monitor publishes; the client does not publish twice")
	assert.Equal(t, events.KindFailure, (*published)[0].Kind)

	_, err = (&Client{probeID: "missing", heartbeats: monitor, clock: clk, logger: c.logger}).
		SubmitHeartbeat(ctx, "operational", nil)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}
