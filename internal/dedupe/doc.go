// Package dedupe suppresses repeated deliveries of the same probe event.
//
// Cache is a TTL and size bounded set of seen keys. Idempotent wraps an
// event handler so a consumer sees each deployment transition, evidence run,
// or heartbeat state at most once per TTL window.
package dedupe
