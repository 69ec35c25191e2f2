// ABOUTME: Idempotent-consumer wrapper for event handlers
// ABOUTME: Derives a key per event and skips deliveries already handled within the cache TTL

package dedupe

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/probe-fleet/internal/events"
)

// KeyFunc derives the dedupe key of an event. An empty key disables
// deduplication for that event.
type KeyFunc func(evt events.Event) string

// EventKey identifies an event by its kind and the payload fields that make
// a delivery distinct: the deployment and its status, the evidence run, or
// the probe and its reported status.
func EventKey(evt events.Event) string {
	var parts []string
	switch p := evt.Payload.(type) {
	case events.Deployment:
		parts = []string{p.ProbeID, p.DeploymentID, p.Status}
	case events.Evidence:
		parts = []string{p.ProbeID, p.RunID, p.Checksum}
	case events.Heartbeat:
		parts = []string{p.ProbeID, p.Status}
	case events.Failure:
		parts = []string{p.ProbeID, p.DeploymentID, p.ErrorCode}
	default:
		if evt.ID == "" {
			return ""
		}
		parts = []string{evt.ID}
	}
	return string(evt.Kind) + "|" + strings.Join(parts, "|")
}

// Idempotent returns a handler that calls next only for events whose key has
// not been seen. A failed delivery is forgotten so a redelivery can retry it.
func Idempotent(cache *Cache, key KeyFunc, next events.Handler, logger *slog.Logger) events.Handler {
	if key == nil {
		key = EventKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dedupe")

	return func(ctx context.Context, evt events.Event) error {
		k := key(evt)
		if k == "" {
			return next(ctx, evt)
		}
		if cache.CheckAndMark(k) {
			logger.Debug("duplicate event skipped", "kind", evt.Kind, "key", k)
			return nil
		}
		if err := next(ctx, evt); err != nil {
			cache.Forget(k)
			return err
		}
		return nil
	}
}
