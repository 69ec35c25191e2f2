// Package events provides the in-process typed event bus.
//
// Four versioned kinds are published:
//
//   - probe.deployment.v1: a deployment was planned or changed state
//   - probe.evidence.v1: a run was accepted or evidence was submitted
//   - probe.heartbeat.v1: a probe reported in or was registered
//   - probe.failure.v1: a deployment failed or a heartbeat reported an outage
//
// Bus.Publish delivers synchronously to every matching subscriber in
// subscription order. A subscriber that returns an error or panics is logged
// and counted; the publisher never sees it and the remaining subscribers
// still run. Slow consumers should wrap their handler with Async so publish
// only enqueues.
package events
