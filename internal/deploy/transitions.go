// ABOUTME: Deployment state machine as an explicit transition table
// ABOUTME: Any (from, to) pair not listed is rejected

package deploy

import "github.com/2389/probe-fleet/internal/store"

var transitions = map[store.DeploymentStatus][]store.DeploymentStatus{
	store.DeploymentPending: {
		store.DeploymentInProgress,
		store.DeploymentCancelled,
	},
	store.DeploymentInProgress: {
		store.DeploymentCompleted,
		store.DeploymentFailed,
		store.DeploymentRolledBack,
		store.DeploymentCancelled,
	},
	store.DeploymentCompleted: {
		store.DeploymentRolledBack,
	},
}

// CanTransition reports whether a deployment may move from one status to another.
func CanTransition(from, to store.DeploymentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no forward progress is possible from status.
// Completed is terminal even though it can still be rolled back.
func IsTerminal(status store.DeploymentStatus) bool {
	switch status {
	case store.DeploymentCompleted, store.DeploymentFailed,
		store.DeploymentRolledBack, store.DeploymentCancelled:
		return true
	default:
		return false
	}
}

// Allowed returns the statuses reachable from status in one step.
func Allowed(from store.DeploymentStatus) []store.DeploymentStatus {
	out := make([]store.DeploymentStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// ParseStatus maps a raw status string to a known deployment status.
func ParseStatus(raw string) (store.DeploymentStatus, bool) {
	switch s := store.DeploymentStatus(raw); s {
	case store.DeploymentPending, store.DeploymentInProgress, store.DeploymentCompleted,
		store.DeploymentFailed, store.DeploymentRolledBack, store.DeploymentCancelled:
		return s, true
	default:
		return "", false
	}
}
