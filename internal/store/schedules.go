// ABOUTME: SQLite persistence for probe schedules
// ABOUTME: Includes the due-schedule query used by the dispatch loop

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const scheduleColumns = `
	id, probe_id, type, expression, priority, status, controls_json,
	metadata_json, last_run_at, next_run_at, created_at, updated_at
`

// CreateSchedule inserts a new schedule. Returns ErrNotFound if the probe does not exist.
func (s *SQLiteStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	controls, err := encodeList(sched.Controls)
	if err != nil {
		return fmt.Errorf("encoding controls: %w", err)
	}
	metadata, err := encodeJSON(sched.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query := `INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		sched.ID,
		sched.ProbeID,
		string(sched.Type),
		nullString(sched.Expression),
		string(sched.Priority),
		string(sched.Status),
		controls,
		metadata,
		nullTime(sched.LastRunAt),
		nullTime(sched.NextRunAt),
		formatTime(sched.CreatedAt),
		formatTime(sched.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting schedule: %w", err)
	}

	s.logger.Debug("created schedule", "id", sched.ID, "probe_id", sched.ProbeID, "type", sched.Type)
	return nil
}

// GetSchedule retrieves a schedule by id.
func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return sched, nil
}

// ListSchedules returns a probe's schedules in creation order.
func (s *SQLiteStore) ListSchedules(ctx context.Context, probeID string) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE probe_id = ?
		ORDER BY created_at ASC, rowid ASC`

	return s.querySchedules(ctx, query, probeID)
}

// ListDueSchedules returns active schedules whose next run is at or before
// now, most urgent first and then earliest first.
func (s *SQLiteStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY CASE priority
			WHEN 'urgent' THEN 0
			WHEN 'high' THEN 1
			WHEN 'normal' THEN 2
			ELSE 3
		END, next_run_at ASC, rowid ASC
		LIMIT ?`

	return s.querySchedules(ctx, query, formatTime(now), clampListLimit(limit))
}

func (s *SQLiteStore) querySchedules(ctx context.Context, query string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}

	return schedules, nil
}

// UpdateSchedule overwrites the mutable fields of a schedule.
func (s *SQLiteStore) UpdateSchedule(ctx context.Context, sched *Schedule) error {
	controls, err := encodeList(sched.Controls)
	if err != nil {
		return fmt.Errorf("encoding controls: %w", err)
	}
	metadata, err := encodeJSON(sched.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET type = ?, expression = ?, priority = ?, status = ?, controls_json = ?,
		    metadata_json = ?, last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`,
		string(sched.Type),
		nullString(sched.Expression),
		string(sched.Priority),
		string(sched.Status),
		controls,
		metadata,
		nullTime(sched.LastRunAt),
		nullTime(sched.NextRunAt),
		formatTime(sched.UpdatedAt),
		sched.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSchedule(row scanner) (*Schedule, error) {
	var sched Schedule
	var typ, priority, status, controls string
	var expression, metadata, lastRunAt, nextRunAt sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&sched.ID,
		&sched.ProbeID,
		&typ,
		&expression,
		&priority,
		&status,
		&controls,
		&metadata,
		&lastRunAt,
		&nextRunAt,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	sched.Type = ScheduleType(typ)
	sched.Expression = expression.String
	sched.Priority = SchedulePriority(priority)
	sched.Status = ScheduleStatus(status)

	if sched.Controls, err = decodeList(controls); err != nil {
		return nil, fmt.Errorf("decoding controls: %w", err)
	}
	if sched.Metadata, err = decodeMap(metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if sched.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return nil, fmt.Errorf("parsing last_run_at: %w", err)
	}
	if sched.NextRunAt, err = parseNullTime(nextRunAt); err != nil {
		return nil, fmt.Errorf("parsing next_run_at: %w", err)
	}
	if sched.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sched.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &sched, nil
}
