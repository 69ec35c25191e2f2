// ABOUTME: Tests for status classification and the rollout self test
// ABOUTME: Table-driven over raw inputs and manifest/probe combinations

package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/probe-fleet/internal/store"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Status
	}{
		{"operational", "operational", StatusOperational},
		{"mixed case and padding", " Degraded ", StatusDegraded},
		{"upper case outage", "OUTAGE", StatusOutage},
		{"typed status", StatusDegraded, StatusDegraded},
		{"unrecognized", "exploded", StatusUnknown},
		{"empty", "", StatusUnknown},
		{"nil", nil, StatusUnknown},
		{"number", 42, StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.raw))
		})
	}
}

func TestRunSelfTestAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	withOverlays := &store.Probe{
		EnvironmentOverlays: map[string]any{"prod": map[string]any{}},
		SDKVersionTarget:    "1.2.0",
	}
	bare := &store.Probe{}

	tests := []struct {
		name     string
		probe    *store.Probe
		manifest Manifest
		passed   bool
		failed   []string
	}{
		{"probe supplies both", withOverlays, Manifest{}, true, nil},
		{"manifest supplies both", bare, Manifest{OverlayID: "ov-1", Version: "1.3.0"}, true, nil},
		{"missing overlay", bare, Manifest{Version: "1.3.0"}, false, []string{CheckConfigOverlay}},
		{"missing both", bare, Manifest{}, false, []string{CheckConfigOverlay, CheckVersionTarget}},
		{"nil probe", nil, Manifest{OverlayID: "ov-1"}, false, []string{CheckVersionTarget}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RunSelfTestAt(tt.probe, tt.manifest, at)
			assert.Equal(t, tt.passed, result.Passed)
			assert.Equal(t, tt.failed, result.FailedChecks())
			assert.Equal(t, at, result.Timestamp)
			assert.Equal(t, CheckConfigOverlay, result.Checks[0].Name)
			assert.Equal(t, CheckVersionTarget, result.Checks[1].Name)
		})
	}
}
