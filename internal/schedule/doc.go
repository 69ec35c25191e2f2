// Package schedule derives probe run windows and manages schedule records.
//
// Scheduler is pure: DeriveNextWindow maps a schedule type and optional cron
// expression to the next time the probe should run, relative to its clock.
// Cron expressions are reduced to a fixed interval rather than evaluated
// against the calendar:
//
//	*/N in the minute field        N minutes
//	*/N in the hour field          N hours
//	any other * field              60 minutes
//	no wildcard at all             360 minutes
//
// Service persists schedules through the record store, recomputing NextRunAt
// whenever a definition changes or a run fires, and triggers ad-hoc runs.
package schedule
