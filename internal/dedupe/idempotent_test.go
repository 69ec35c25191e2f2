// ABOUTME: Tests for the idempotent event handler wrapper
// ABOUTME: Checks key derivation per payload type and retry after a failed delivery

package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/probe-fleet/internal/events"
)

func TestEventKey(t *testing.T) {
	deployment := events.Event{Kind: events.KindDeployment, Payload: events.Deployment{
		ProbeID: "p-1", DeploymentID: "d-1", Status: "completed",
	}}
	assert.Equal(t, "probe.deployment.v1|p-1|d-1|completed", EventKey(deployment))

	evidence := events.Event{Kind: events.KindEvidence, Payload: events.Evidence{
		ProbeID: "p-1", RunID: "run_1", Checksum: "abc",
	}}
	assert.Equal(t, "probe.evidence.v1|p-1|run_1|abc", EventKey(evidence))

	heartbeat := events.Event{Kind: events.KindHeartbeat, Payload: events.Heartbeat{ProbeID: "p-1", Status: "degraded"}}
	assert.Equal(t, "probe.heartbeat.v1|p-1|degraded", EventKey(heartbeat))

	failure := events.Event{Kind: events.KindFailure, Payload: events.Failure{ProbeID: "p-1", ErrorCode: "heartbeat-missed"}}
	assert.Equal(t, "probe.failure.v1|p-1||heartbeat-missed", EventKey(failure))

	assert.Equal(t, "custom|evt-9", EventKey(events.Event{ID: "evt-9", Kind: "custom", Payload: 42}))
	assert.Empty(t, EventKey(events.Event{Kind: "custom"}))
}

func TestIdempotent_SkipsDuplicates(t *testing.T) {
	cache, _ := newTestCache(t, 5*time.Minute, 100)

	var calls int
	handler := Idempotent(cache, nil, func(context.Context, events.Event) error {
		calls++
		return nil
	}, nil)

	evt := events.Event{Kind: events.KindDeployment, Payload: events.Deployment{
		ProbeID: "p-1", DeploymentID: "d-1", Status: "in_progress",
	}}
	require.NoError(t, handler(context.Background(), evt))
	require.NoError(t, handler(context.Background(), evt))
	assert.Equal(t, 1, calls)

	next := evt
	next.Payload = events.Deployment{ProbeID: "p-1", DeploymentID: "d-1", Status: "completed"}
	require.NoError(t, handler(context.Background(), next))
	assert.Equal(t, 2, calls)
}

func TestIdempotent_RetriesAfterFailure(t *testing.T) {
	cache, _ := newTestCache(t, 5*time.Minute, 100)

	fail := true
	var calls int
	handler := Idempotent(cache, nil, func(context.Context, events.Event) error {
		calls++
		if fail {
			return errors.New("downstream unavailable")
		}
		return nil
	}, nil)

	evt := events.Event{Kind: events.KindHeartbeat, Payload: events.Heartbeat{ProbeID: "p-1", Status: "operational"}}
	require.Error(t, handler(context.Background(), evt))

	fail = false
	require.NoError(t, handler(context.Background(), evt))
	require.NoError(t, handler(context.Background(), evt))
	assert.Equal(t, 2, calls)
}

func TestIdempotent_EmptyKeyAlwaysDelivers(t *testing.T) {
	cache, _ := newTestCache(t, 5*time.Minute, 100)

	var calls int
	handler := Idempotent(cache, func(events.Event) string { return "" }, func(context.Context, events.Event) error {
		calls++
		return nil
	}, nil)

	evt := events.Event{Kind: events.KindHeartbeat}
	require.NoError(t, handler(context.Background(), evt))
	require.NoError(t, handler(context.Background(), evt))
	assert.Equal(t, 2, calls)
}

func TestIdempotent_OnBus(t *testing.T) {
	cache, clk := newTestCache(t, 5*time.Minute, 100)
	bus := events.NewBus(nil, clk)

	var calls int
	bus.Subscribe(events.KindHeartbeat, "counter", Idempotent(cache, nil, func(context.Context, events.Event) error {
		calls++
		return nil
	}, nil))

	for range 3 {
		events.PublishHeartbeat(context.Background(), bus, events.Heartbeat{ProbeID: "p-1", Status: "operational"})
	}
	assert.Equal(t, 1, calls)
}
