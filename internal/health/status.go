// ABOUTME: Heartbeat status classification and pre-rollout self test
// ABOUTME: Both are pure functions over their inputs

package health

import (
	"strings"
	"time"

	"github.com/2389/probe-fleet/internal/store"
)

// Status is a normalized heartbeat status.
type Status string

const (
	StatusOperational Status = "operational"
	StatusDegraded    Status = "degraded"
	StatusOutage      Status = "outage"
	StatusUnknown     Status = "unknown"
)

// ClassifyStatus normalizes a reported status. Non-string or unrecognized
// input is unknown.
func ClassifyStatus(raw any) Status {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case Status:
		s = string(v)
	default:
		return StatusUnknown
	}

	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOperational, StatusDegraded, StatusOutage:
		return st
	default:
		return StatusUnknown
	}
}

// Manifest carries the rollout inputs the self test inspects.
type Manifest struct {
	OverlayID string
	Version   string
}

// Check is one named self-test assertion.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// SelfTestResult is the outcome of RunSelfTest.
type SelfTestResult struct {
	Passed    bool      `json:"passed"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

// Self-test check names, in evaluation order.
const (
	CheckConfigOverlay = "config-overlay"
	CheckVersionTarget = "version-target"
)

// RunSelfTest evaluates the pre-rollout checks at the current wall time.
func RunSelfTest(probe *store.Probe, m Manifest) SelfTestResult {
	return RunSelfTestAt(probe, m, time.Now().UTC())
}

// RunSelfTestAt evaluates the pre-rollout checks and stamps the result with at.
// A check passes when the manifest supplies the value or the probe has one.
func RunSelfTestAt(probe *store.Probe, m Manifest, at time.Time) SelfTestResult {
	var overlays bool
	var target bool
	if probe != nil {
		overlays = len(probe.EnvironmentOverlays) > 0
		target = strings.TrimSpace(probe.SDKVersionTarget) != ""
	}

	checks := []Check{
		{Name: CheckConfigOverlay, Passed: strings.TrimSpace(m.OverlayID) != "" || overlays},
		{Name: CheckVersionTarget, Passed: strings.TrimSpace(m.Version) != "" || target},
	}

	passed := true
	for _, c := range checks {
		passed = passed && c.Passed
	}

	return SelfTestResult{Passed: passed, Checks: checks, Timestamp: at}
}

// FailedChecks returns the names of checks that did not pass.
func (r SelfTestResult) FailedChecks() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}
