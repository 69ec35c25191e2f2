// ABOUTME: Periodic trigger that fires due schedules and sweeps probes with missed heartbeats
// ABOUTME: Runs outside the request path; every pass uses the schedule service and health monitor

package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/schedule"
	"github.com/2389/probe-fleet/internal/store"
)

// TriggerSchedule is the run trigger recorded for dispatched runs.
const TriggerSchedule = schedule.TriggerSchedule

// Config controls the dispatch loop.
type Config struct {
	Interval  time.Duration // time between passes
	Grace     time.Duration // added to each probe's heartbeat interval before it counts as missed
	BatchSize int           // due schedules fired per pass
}

// Result summarizes one pass.
type Result struct {
	Fired    []string // schedule IDs that ran
	Disabled []string // schedule IDs disabled during the pass
	Failed   int
	Stale    []string // probe IDs marked outage
}

// Dispatcher fires due schedules on an interval.
type Dispatcher struct {
	store     store.Store
	schedules *schedule.Service
	monitor   *health.Monitor
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a dispatcher. Zero config values fall back to a one minute
// interval, a ten minute grace, and batches of 100.
func New(s store.Store, schedules *schedule.Service, monitor *health.Monitor, cfg Config, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     s,
		schedules: schedules,
		monitor:   monitor,
		cfg:       cfg,
		clock:     clk,
		logger:    logger.With("component", "dispatch"),
	}
}

// Run performs a pass immediately and then once per interval until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "interval", d.cfg.Interval, "grace", d.cfg.Grace)

	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-d.clock.After(d.cfg.Interval):
		}
	}
}

// Tick runs one pass. Failures on individual schedules are logged and
// counted; only a failure to list due schedules is returned.
func (d *Dispatcher) Tick(ctx context.Context) (*Result, error) {
	res := &Result{}

	due, err := d.store.ListDueSchedules(ctx, d.clock.Now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	for _, sched := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		disabled, err := d.fire(ctx, sched)
		switch {
		case err != nil:
			res.Failed++
			d.logger.Warn("scheduled run failed", "schedule_id", sched.ID, "probe_id", sched.ProbeID, "error", err)
		case disabled:
			res.Disabled = append(res.Disabled, sched.ID)
		default:
			res.Fired = append(res.Fired, sched.ID)
		}
	}

	stale, err := d.monitor.SweepStale(ctx, d.cfg.Grace)
	if err != nil {
		d.logger.Warn("heartbeat sweep failed", "error", err)
	}
	res.Stale = stale

	if len(res.Fired)+len(res.Disabled)+res.Failed+len(res.Stale) > 0 {
		d.logger.Info("dispatch pass complete",
			"fired", len(res.Fired),
			"disabled", len(res.Disabled),
			"failed", res.Failed,
			"stale", len(res.Stale))
	}
	return res, nil
}

// fire runs one due schedule. Schedules of deprecated probes are disabled
// instead. MarkRan reprojects a fired schedule and clears the next run of an
// ad-hoc one, which is then disabled so it runs once.
func (d *Dispatcher) fire(ctx context.Context, sched *store.Schedule) (disabled bool, err error) {
	probe, err := d.store.GetProbe(ctx, sched.ProbeID)
	if err != nil {
		return false, err
	}
	if probe.Status == store.ProbeStatusDeprecated {
		_, err := d.schedules.Disable(ctx, sched.ID)
		return err == nil, err
	}

	_, err = d.schedules.TriggerRun(ctx, sched.ProbeID, schedule.RunRequest{
		Trigger:  TriggerSchedule,
		Controls: sched.Controls,
		Context: map[string]any{
			"scheduleId": sched.ID,
			"type":       string(sched.Type),
			"priority":   string(sched.Priority),
		},
	})
	if err != nil {
		return false, err
	}

	if _, err := d.schedules.MarkRan(ctx, sched.ID); err != nil {
		return false, err
	}
	if sched.Type == store.ScheduleAdhoc {
		_, err = d.schedules.Disable(ctx, sched.ID)
	}
	return false, err
}
