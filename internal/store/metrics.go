// ABOUTME: SQLite persistence for per-probe heartbeat metrics
// ABOUTME: One row per probe, replaced on every heartbeat

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const metricsColumns = `
	probe_id, heartbeat_status, heartbeat_interval_seconds, last_heartbeat_at,
	failure_count_24h, latency_p95_ms, last_error_code, metadata_json, updated_at
`

// UpsertProbeMetrics inserts or replaces the metrics row for a probe.
func (s *SQLiteStore) UpsertProbeMetrics(ctx context.Context, m *ProbeMetrics) error {
	metadata, err := encodeJSON(m.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	var latency any
	if m.LatencyP95Ms != nil {
		latency = *m.LatencyP95Ms
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO probe_metrics (`+metricsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(probe_id) DO UPDATE SET
			heartbeat_status = excluded.heartbeat_status,
			heartbeat_interval_seconds = excluded.heartbeat_interval_seconds,
			last_heartbeat_at = excluded.last_heartbeat_at,
			failure_count_24h = excluded.failure_count_24h,
			latency_p95_ms = excluded.latency_p95_ms,
			last_error_code = excluded.last_error_code,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`,
		m.ProbeID,
		m.HeartbeatStatus,
		int64(m.HeartbeatInterval/time.Second),
		nullTime(m.LastHeartbeatAt),
		m.FailureCount24h,
		latency,
		nullString(m.LastErrorCode),
		metadata,
		formatTime(m.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("upserting probe metrics: %w", err)
	}

	return nil
}

// UpdateProbeMetrics conditionally replaces a metrics row. It returns
// ErrNotFound when the row is missing and ErrConflict when a heartbeat
// landed after the caller read it.
func (s *SQLiteStore) UpdateProbeMetrics(ctx context.Context, m *ProbeMetrics, expectedLastHeartbeat *time.Time) error {
	metadata, err := encodeJSON(m.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	var latency any
	if m.LatencyP95Ms != nil {
		latency = *m.LatencyP95Ms
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE probe_metrics
		SET heartbeat_status = ?, heartbeat_interval_seconds = ?, last_heartbeat_at = ?,
		    failure_count_24h = ?, latency_p95_ms = ?, last_error_code = ?,
		    metadata_json = ?, updated_at = ?
		WHERE probe_id = ? AND last_heartbeat_at IS ?
	`,
		m.HeartbeatStatus,
		int64(m.HeartbeatInterval/time.Second),
		nullTime(m.LastHeartbeatAt),
		m.FailureCount24h,
		latency,
		nullString(m.LastErrorCode),
		metadata,
		formatTime(m.UpdatedAt),
		m.ProbeID,
		nullTime(expectedLastHeartbeat),
	)
	if err != nil {
		return fmt.Errorf("updating probe metrics: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM probe_metrics WHERE probe_id = ?`, m.ProbeID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking probe_metrics row: %w", err)
	}
	return ErrConflict
}

// GetProbeMetrics retrieves the metrics row for a probe.
func (s *SQLiteStore) GetProbeMetrics(ctx context.Context, probeID string) (*ProbeMetrics, error) {
	m, err := scanMetrics(s.db.QueryRowContext(ctx,
		`SELECT `+metricsColumns+` FROM probe_metrics WHERE probe_id = ?`, probeID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying probe metrics: %w", err)
	}
	return m, nil
}

// ListProbeMetrics returns every metrics row ordered by probe id.
func (s *SQLiteStore) ListProbeMetrics(ctx context.Context) ([]*ProbeMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metricsColumns+` FROM probe_metrics ORDER BY probe_id`)
	if err != nil {
		return nil, fmt.Errorf("querying probe metrics: %w", err)
	}
	defer rows.Close()

	var out []*ProbeMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning probe metrics: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating probe metrics: %w", err)
	}

	return out, nil
}

func scanMetrics(row scanner) (*ProbeMetrics, error) {
	var m ProbeMetrics
	var intervalSeconds int64
	var lastHeartbeatAt, lastErrorCode, metadata sql.NullString
	var latency sql.NullInt64
	var updatedAtStr string

	err := row.Scan(
		&m.ProbeID,
		&m.HeartbeatStatus,
		&intervalSeconds,
		&lastHeartbeatAt,
		&m.FailureCount24h,
		&latency,
		&lastErrorCode,
		&metadata,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	m.HeartbeatInterval = time.Duration(intervalSeconds) * time.Second
	m.LastErrorCode = lastErrorCode.String
	if latency.Valid {
		v := latency.Int64
		m.LatencyP95Ms = &v
	}

	if m.LastHeartbeatAt, err = parseNullTime(lastHeartbeatAt); err != nil {
		return nil, fmt.Errorf("parsing last_heartbeat_at: %w", err)
	}
	if m.Metadata, err = decodeMap(metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &m, nil
}
