// ABOUTME: Tests for version comparison, compatibility checks, and upgrade planning
// ABOUTME: Covers short versions, non-numeric segments, and comparison symmetry

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/probe-fleet/internal/fault"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.99.99", 1},
		{"1.2", "1.2.0", 0},
		{"1", "1.0.1", -1},
		{"", "0.0.0", 0},
		{"1.x.3", "1.0.3", 0},
		{"v1.2.0", "0.2.0", 0},
		{"1.2.3.4", "1.2.3", 0},
		{" 1 . 2 ", "1.2.0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestCompare_AntisymmetricAndReflexive(t *testing.T) {
	versions := []string{"", "0", "1.0", "1.0.0", "1.2.3", "2", "10.0.1", "abc", "3.1.x", "0.0.1"}

	for _, a := range versions {
		assert.Equal(t, 0, Compare(a, a), "compare(%q,%q)", a, a)
		for _, b := range versions {
			assert.Equal(t, -Compare(b, a), Compare(a, b), "compare(%q,%q)", a, b)
		}
	}
}

func TestAssertCompatible(t *testing.T) {
	err := AssertCompatible("1.0.0", "2.0.0")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.ErrorIs(t, err, fault.ErrVersionIncompatible)
	assert.Contains(t, err.Error(), "below the supported minimum")

	assert.NoError(t, AssertCompatible("2.0.0", "2.0.0"))
	assert.NoError(t, AssertCompatible("2.1", "2.0.0"))
}

func TestPlanUpgrade(t *testing.T) {
	assert.Nil(t, PlanUpgrade("3.1.0", "3.1.0"))
	assert.Nil(t, PlanUpgrade("3.2.0", "3.1.0"))
	assert.Equal(t, &UpgradePlan{From: "3.0.0", To: "3.1.0"}, PlanUpgrade("3.0.0", "3.1.0"))
}

func TestManager(t *testing.T) {
	m := NewManager("2.0.0", "3.1.0")

	assert.ErrorIs(t, m.AssertCompatible("1.9.9"), ErrIncompatible)
	assert.NoError(t, m.AssertCompatible("2.0.0"))
	assert.Equal(t, &UpgradePlan{From: "3.0.0", To: "3.1.0"}, m.PlanUpgrade("3.0.0"))
	assert.Nil(t, m.PlanUpgrade("3.1.0"))
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager("", "")
	assert.Equal(t, "1.0.0", m.Minimum)
	assert.Equal(t, "1.0.0", m.Target)
}
