// Package deploy drives probe deployments through their lifecycle.
//
// Every deployment starts pending and moves only along the edges in the
// transition table:
//
//	pending      -> in_progress, cancelled
//	in_progress  -> completed, failed, rolled_back, cancelled
//	completed    -> rolled_back
//
// failed, rolled_back, and cancelled have no outgoing edges. Completed only
// allows a rollback.
//
// The Coordinator holds no locks. Each transition reads the deployment, checks
// the table, and writes it back with a store update conditioned on the status
// and revision it read, so two concurrent transitions of the same deployment
// cannot both succeed. Events are published only after the write succeeds.
package deploy
