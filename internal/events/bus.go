// ABOUTME: Synchronous fan-out event bus with per-subscriber fault isolation
// ABOUTME: Subscriber list is copy-on-write so publish never holds a lock while delivering

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

type subscription struct {
	id      string
	name    string
	kind    Kind // empty matches every kind
	handler Handler
}

// Stats counts deliveries since the bus was created.
type Stats struct {
	Published uint64
	Delivered uint64
	Failed    uint64
}

// Bus delivers events to subscribers in subscription order.
type Bus struct {
	mu     sync.Mutex // serializes writers to subs
	subs   atomic.Pointer[[]subscription]
	clock  clock.Clock
	logger *slog.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewBus creates a bus. Pass nil logger or clock for defaults.
func NewBus(logger *slog.Logger, clk clock.Clock) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	b := &Bus{
		clock:  clk,
		logger: logger.With("component", "events"),
	}
	b.subs.Store(&[]subscription{})
	return b
}

// Subscribe registers handler for one kind and returns a subscription ID.
// The name identifies the subscriber in logs.
func (b *Bus) Subscribe(kind Kind, name string, handler Handler) string {
	return b.add(subscription{
		id:      uuid.New().String(),
		name:    name,
		kind:    kind,
		handler: handler,
	})
}

// SubscribeAll registers handler for every kind.
func (b *Bus) SubscribeAll(name string, handler Handler) string {
	return b.Subscribe("", name, handler)
}

func (b *Bus) add(sub subscription) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()
	next := make([]subscription, len(current), len(current)+1)
	copy(next, current)
	next = append(next, sub)
	b.subs.Store(&next)

	kind := string(sub.kind)
	if kind == "" {
		kind = "*"
	}
	b.logger.Debug("subscriber added", "kind", kind, "subscriber", sub.name, "sub_id", sub.id)
	return sub.id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()
	next := make([]subscription, 0, len(current))
	for _, sub := range current {
		if sub.id != id {
			next = append(next, sub)
		}
	}
	if len(next) == len(current) {
		return
	}
	b.subs.Store(&next)
	b.logger.Debug("subscriber removed", "sub_id", id)
}

// Publish delivers evt to every matching subscriber before returning.
// Subscriber errors and panics are logged and counted, never returned.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.PublishedAt.IsZero() {
		evt.PublishedAt = b.clock.Now().UTC()
	}
	b.published.Add(1)

	matched := 0
	for _, sub := range *b.subs.Load() {
		if sub.kind != "" && sub.kind != evt.Kind {
			continue
		}
		matched++
		if err := b.deliver(ctx, sub, evt); err != nil {
			b.failed.Add(1)
			b.logger.Warn("subscriber failed",
				"kind", evt.Kind,
				"event_id", evt.ID,
				"subscriber", sub.name,
				"error", err)
			continue
		}
		b.delivered.Add(1)
	}

	if matched == 0 {
		b.logger.Debug("no subscribers for event", "kind", evt.Kind, "event_id", evt.ID)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.handler(ctx, evt)
}

// Stats returns delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	return len(*b.subs.Load())
}

// Ensure Bus implements Publisher
var _ Publisher = (*Bus)(nil)
