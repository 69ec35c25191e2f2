// ABOUTME: Dotted version comparison and probe SDK compatibility checks
// ABOUTME: Missing or non-numeric segments count as zero; only three segments are compared

package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/probe-fleet/internal/fault"
)

// ErrIncompatible is the kind returned by AssertCompatible.
var ErrIncompatible = fault.ErrVersionIncompatible

// segments is the number of dotted parts that participate in comparison.
const segments = 3

// parse splits v into three numeric parts. Anything that does not parse as a
// non-negative integer is treated as 0, and an empty string is "0.0.0".
func parse(v string) [segments]int {
	var out [segments]int
	if strings.TrimSpace(v) == "" {
		return out
	}

	parts := strings.Split(v, ".")
	for i := 0; i < segments && i < len(parts); i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || n < 0 {
			continue
		}
		out[i] = n
	}
	return out
}

// Compare returns -1, 0, or 1 when a is lower than, equal to, or higher than b.
func Compare(a, b string) int {
	left, right := parse(a), parse(b)
	for i := range segments {
		switch {
		case left[i] > right[i]:
			return 1
		case left[i] < right[i]:
			return -1
		}
	}
	return 0
}

// UpgradePlan describes the move from the running version to the target.
type UpgradePlan struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AssertCompatible fails with ErrIncompatible when v is below minimum.
func AssertCompatible(v, minimum string) error {
	if Compare(v, minimum) < 0 {
		return fault.VersionIncompatible(
			fmt.Sprintf("probe SDK version %s is below the supported minimum (%s)", v, minimum),
			map[string]any{"version": v, "minimum": minimum},
		)
	}
	return nil
}

// PlanUpgrade returns nil when current is already at or beyond target.
func PlanUpgrade(current, target string) *UpgradePlan {
	if Compare(current, target) >= 0 {
		return nil
	}
	return &UpgradePlan{From: current, To: target}
}

// Manager binds the fleet-wide minimum and target SDK versions.
type Manager struct {
	Minimum string
	Target  string
}

// NewManager returns a Manager. Empty values default to "1.0.0".
func NewManager(minimum, target string) *Manager {
	if minimum == "" {
		minimum = "1.0.0"
	}
	if target == "" {
		target = "1.0.0"
	}
	return &Manager{Minimum: minimum, Target: target}
}

// AssertCompatible checks v against the configured minimum.
func (m *Manager) AssertCompatible(v string) error {
	return AssertCompatible(v, m.Minimum)
}

// PlanUpgrade plans a move from current to the configured target.
func (m *Manager) PlanUpgrade(current string) *UpgradePlan {
	return PlanUpgrade(current, m.Target)
}
