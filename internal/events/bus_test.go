// ABOUTME: Tests for the synchronous event bus
// ABOUTME: Covers ordering, kind filtering, fault isolation, zero subscribers, and unsubscribe

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	b := NewBus(nil, nil)

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), Event{Kind: KindHeartbeat, Payload: Heartbeat{ProbeID: "p-1"}})
	})
	assert.Equal(t, Stats{Published: 1}, b.Stats())
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	b := NewBus(nil, nil)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		b.Subscribe(KindDeployment, name, func(ctx context.Context, evt Event) error {
			order = append(order, name)
			return nil
		})
	}

	PublishDeployment(context.Background(), b, Deployment{ProbeID: "p-1", Status: "pending"})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBus_FiltersByKind(t *testing.T) {
	b := NewBus(nil, nil)

	var heartbeats, all int
	b.Subscribe(KindHeartbeat, "hb", func(ctx context.Context, evt Event) error {
		heartbeats++
		return nil
	})
	b.SubscribeAll("all", func(ctx context.Context, evt Event) error {
		all++
		return nil
	})

	ctx := context.Background()
	PublishHeartbeat(ctx, b, Heartbeat{ProbeID: "p-1"})
	PublishFailure(ctx, b, Failure{ProbeID: "p-1", ErrorCode: "timeout"})
	PublishEvidence(ctx, b, Evidence{ProbeID: "p-1", RunID: "run_1", Status: "accepted"})

	assert.Equal(t, 1, heartbeats)
	assert.Equal(t, 3, all)
}

func TestBus_IsolatesFailingSubscribers(t *testing.T) {
	b := NewBus(nil, nil)

	var reached bool
	b.Subscribe(KindFailure, "erroring", func(ctx context.Context, evt Event) error {
		return errors.New("boom")
	})
	b.Subscribe(KindFailure, "panicking", func(ctx context.Context, evt Event) error {
		panic("subscriber bug")
	})
	b.Subscribe(KindFailure, "healthy", func(ctx context.Context, evt Event) error {
		reached = true
		return nil
	})

	assert.NotPanics(t, func() {
		PublishFailure(context.Background(), b, Failure{ProbeID: "p-1", ErrorCode: "deployment-failed"})
	})
	assert.True(t, reached, "a failing subscriber must not stop later ones")
	assert.Equal(t, Stats{Published: 1, Delivered: 1, Failed: 2}, b.Stats())
}

func TestBus_StampsIDAndTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBus(nil, testclock.NewClock(now))

	var got Event
	b.SubscribeAll("capture", func(ctx context.Context, evt Event) error {
		got = evt
		return nil
	})

	PublishHeartbeat(context.Background(), b, Heartbeat{ProbeID: "p-1", Status: "operational"})

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, now, got.PublishedAt)
	assert.Equal(t, KindHeartbeat, got.Kind)
	payload, ok := got.Payload.(Heartbeat)
	require.True(t, ok)
	assert.Equal(t, "operational", payload.Status)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(nil, nil)

	var calls int
	id := b.Subscribe(KindHeartbeat, "counter", func(ctx context.Context, evt Event) error {
		calls++
		return nil
	})
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(id)
	b.Unsubscribe("unknown")
	PublishHeartbeat(context.Background(), b, Heartbeat{ProbeID: "p-1"})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	b := NewBus(nil, nil)

	var late int
	b.Subscribe(KindHeartbeat, "subscriber-adder", func(ctx context.Context, evt Event) error {
		b.Subscribe(KindHeartbeat, "late", func(ctx context.Context, evt Event) error {
			late++
			return nil
		})
		return nil
	})

	PublishHeartbeat(context.Background(), b, Heartbeat{ProbeID: "p-1"})
	assert.Equal(t, 0, late, "subscribers added mid-publish see only later events")

	PublishHeartbeat(context.Background(), b, Heartbeat{ProbeID: "p-1"})
	assert.Equal(t, 1, late)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := NewBus(nil, nil)

	var mu sync.Mutex
	var count int
	b.SubscribeAll("counter", func(ctx context.Context, evt Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			PublishHeartbeat(context.Background(), b, Heartbeat{ProbeID: "p-1"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
	assert.Equal(t, uint64(50), b.Stats().Delivered)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		PublishFailure(context.Background(), Discard, Failure{ProbeID: "p-1"})
	})
}
