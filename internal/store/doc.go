// Package store persists probe-fleet records using SQLite.
//
// # Architecture
//
// A single Store interface covers every record the orchestration packages
// touch:
//
//   - Probe: registered remote agents, looked up by id or slug
//   - Deployment: append-only rollout history per probe
//   - Schedule: cron, event, and ad-hoc run definitions with a NextRunAt projection
//   - ProbeMetrics: rolling heartbeat summary per probe
//   - ProbeEvent: append-only per-probe ledger (heartbeats, failures, runs)
//
// SQLiteStore is the production implementation. MockStore is an in-memory
// implementation with the same semantics for unit tests.
//
// # Conditional Updates
//
// UpdateDeployment and UpdateProbeStatus only apply when the stored row is
// still in the state the caller read. A deployment update matches on both
// status and revision and bumps the revision on success:
//
//	UPDATE deployments SET ..., revision = revision + 1
//	WHERE id = ? AND status = ? AND revision = ?
//
// When no row matches, the store reports ErrNotFound if the row is missing
// and ErrConflict otherwise. Of two concurrent transitions from the same
// state exactly one succeeds.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a single connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC strings so they sort correctly.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore with a path under
// t.TempDir() for integration tests.
package store
