// ABOUTME: Buffered hand-off that lets slow subscribers run off the publish path
// ABOUTME: Events are dropped with a log when the buffer is full

package events

import (
	"context"
	"log/slog"
	"sync"
)

// defaultAsyncBuffer is the channel buffer for an async subscriber.
const defaultAsyncBuffer = 64

type queued struct {
	ctx context.Context
	evt Event
}

// AsyncHandler runs a Handler on its own goroutine. Handle only enqueues.
type AsyncHandler struct {
	name    string
	handler Handler
	ch      chan queued
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Async wraps handler so publishing to it never blocks. buffer <= 0 uses the
// default size. Pass nil logger for default.
func Async(name string, handler Handler, buffer int, logger *slog.Logger) *AsyncHandler {
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AsyncHandler{
		name:    name,
		handler: handler,
		ch:      make(chan queued, buffer),
		logger:  logger.With("component", "events.async", "subscriber", name),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Handle enqueues evt. It satisfies Handler and never returns an error.
func (a *AsyncHandler) Handle(ctx context.Context, evt Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.logger.Debug("dropped event after close", "kind", evt.Kind, "event_id", evt.ID)
		return nil
	}

	select {
	case a.ch <- queued{ctx: context.WithoutCancel(ctx), evt: evt}:
	default:
		a.logger.Warn("dropped event for slow subscriber", "kind", evt.Kind, "event_id", evt.ID)
	}
	return nil
}

func (a *AsyncHandler) run() {
	defer close(a.done)
	for q := range a.ch {
		a.invoke(q)
	}
}

func (a *AsyncHandler) invoke(q queued) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("async subscriber panicked", "kind", q.evt.Kind, "event_id", q.evt.ID, "panic", r)
		}
	}()
	if err := a.handler(q.ctx, q.evt); err != nil {
		a.logger.Warn("async subscriber failed", "kind", q.evt.Kind, "event_id", q.evt.ID, "error", err)
	}
}

// Close stops accepting events and waits for queued ones to drain.
// It is safe to call multiple times.
func (a *AsyncHandler) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}
