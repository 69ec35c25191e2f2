// Package health classifies probe heartbeats and tracks per-probe health.
//
// ClassifyStatus and RunSelfTest are pure. Monitor records heartbeats in the
// record store, appends a ledger row per heartbeat, and publishes either a
// heartbeat or a failure event. SweepStale marks probes whose heartbeats have
// stopped arriving as in outage.
package health
