// ABOUTME: Next-run window derivation for cron, event, and ad-hoc schedules
// ABOUTME: Cron expressions are reduced to an interval in minutes from the current clock

package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/2389/probe-fleet/internal/store"
)

// DefaultCron is used when a cron schedule has no expression.
const DefaultCron = "0 */6 * * *"

const (
	adhocDelay = time.Minute
	// eventHorizon is how far out an event-driven schedule is next polled.
	eventHorizon = 5 * time.Minute

	wildcardInterval = 60
	fallbackInterval = 360
)

// Spec is the input to DeriveNextWindow. Type is free-form and normalized.
type Spec struct {
	Type       string
	Expression string
}

// Window is a derived run window. Expression is nil unless Type is cron.
type Window struct {
	Type       store.ScheduleType `json:"type"`
	Expression *string            `json:"expression"`
	NextRunAt  time.Time          `json:"nextRunAt"`
}

// NormalizeType maps raw input to a schedule type. Unknown or empty input is cron.
func NormalizeType(raw string) store.ScheduleType {
	switch t := store.ScheduleType(strings.ToLower(strings.TrimSpace(raw))); t {
	case store.ScheduleCron, store.ScheduleEvent, store.ScheduleAdhoc:
		return t
	default:
		return store.ScheduleCron
	}
}

// IntervalMinutes reduces a cron expression to a run interval.
func IntervalMinutes(expr string) int {
	fields := strings.Fields(expr)

	for i, field := range fields {
		step, ok := strings.CutPrefix(field, "*/")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			continue
		}
		if i == 1 && len(fields) == 5 {
			return n * 60
		}
		return n
	}

	if strings.Contains(expr, "*") {
		return wildcardInterval
	}
	return fallbackInterval
}

// Scheduler derives run windows relative to its clock.
type Scheduler struct {
	clock clock.Clock
}

// NewScheduler creates a scheduler. Pass nil for the wall clock.
func NewScheduler(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Scheduler{clock: clk}
}

// DeriveNextWindow computes the next run window for spec.
func (s *Scheduler) DeriveNextWindow(spec Spec) Window {
	now := s.clock.Now().UTC()
	typ := NormalizeType(spec.Type)

	switch typ {
	case store.ScheduleAdhoc:
		return Window{Type: typ, NextRunAt: now.Add(adhocDelay)}
	case store.ScheduleEvent:
		return Window{Type: typ, NextRunAt: now.Add(eventHorizon)}
	}

	expr := strings.TrimSpace(spec.Expression)
	if expr == "" {
		expr = DefaultCron
	}
	minutes := IntervalMinutes(expr)
	return Window{
		Type:       store.ScheduleCron,
		Expression: &expr,
		NextRunAt:  now.Add(time.Duration(minutes) * time.Minute),
	}
}
