// ABOUTME: Tests for next-window derivation
// ABOUTME: Covers cron interval reduction, type normalization, and ad-hoc/event horizons

package schedule

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/probe-fleet/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestIntervalMinutes(t *testing.T) {
	tests := []struct {
		expr string
		want int
	}{
		{"*/15 * * * *", 15},
		{"0 */2 * * *", 120},
		{DefaultCron, 360},
		{"*/5 * * * * *", 5},
		{"0 0 */3 * *", 3},
		{"0 * * * *", 60},
		{"*/0 * * * *", 60},
		{"0 9 1 1 1", 360},
		{"garbage", 360},
		{"", 360},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, IntervalMinutes(tt.expr))
		})
	}
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, store.ScheduleAdhoc, NormalizeType("  ADHOC "))
	assert.Equal(t, store.ScheduleEvent, NormalizeType("event"))
	assert.Equal(t, store.ScheduleCron, NormalizeType("cron"))
	assert.Equal(t, store.ScheduleCron, NormalizeType(""))
	assert.Equal(t, store.ScheduleCron, NormalizeType("invalid"))
}

func TestDeriveNextWindow_Cron(t *testing.T) {
	s := NewScheduler(testclock.NewClock(now))

	w := s.DeriveNextWindow(Spec{Type: "cron", Expression: "0 */2 * * *"})
	assert.Equal(t, store.ScheduleCron, w.Type)
	require.NotNil(t, w.Expression)
	assert.Equal(t, "0 */2 * * *", *w.Expression)
	assert.Equal(t, now.Add(120*time.Minute), w.NextRunAt)
}

func TestDeriveNextWindow_InvalidTypeFallsBackToDefaultCron(t *testing.T) {
	s := NewScheduler(testclock.NewClock(now))

	w := s.DeriveNextWindow(Spec{Type: "invalid"})
	assert.Equal(t, store.ScheduleCron, w.Type)
	require.NotNil(t, w.Expression)
	assert.Equal(t, DefaultCron, *w.Expression)
	assert.Equal(t, now.Add(6*time.Hour), w.NextRunAt)
}

func TestDeriveNextWindow_Adhoc(t *testing.T) {
	s := NewScheduler(testclock.NewClock(now))

	w := s.DeriveNextWindow(Spec{Type: "adhoc", Expression: "*/5 * * * *"})
	assert.Equal(t, store.ScheduleAdhoc, w.Type)
	assert.Nil(t, w.Expression)
	assert.Equal(t, now.Add(time.Minute), w.NextRunAt)
}

func TestDeriveNextWindow_Event(t *testing.T) {
	s := NewScheduler(testclock.NewClock(now))

	w := s.DeriveNextWindow(Spec{Type: "event"})
	assert.Equal(t, store.ScheduleEvent, w.Type)
	assert.Nil(t, w.Expression)
	assert.Equal(t, now.Add(5*time.Minute), w.NextRunAt)
}

func TestDeriveNextWindow_FollowsClock(t *testing.T) {
	clk := testclock.NewClock(now)
	s := NewScheduler(clk)

	first := s.DeriveNextWindow(Spec{Type: "adhoc"})
	clk.Advance(10 * time.Minute)
	second := s.DeriveNextWindow(Spec{Type: "adhoc"})

	assert.Equal(t, 10*time.Minute, second.NextRunAt.Sub(first.NextRunAt))
}
