// ABOUTME: Per-probe ledger of heartbeats, failures, deployments, and runs
// ABOUTME: Rows are append-only and kept separate from bus events

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordProbeEvent appends a ledger row. Returns ErrNotFound if the probe does not exist.
func (s *SQLiteStore) RecordProbeEvent(ctx context.Context, event *ProbeEvent) error {
	payload, err := encodeJSON(event.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO probe_events (event_id, probe_id, type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		event.ID,
		event.ProbeID,
		string(event.Type),
		payload,
		formatTime(event.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting probe event: %w", err)
	}

	return nil
}

// ListProbeEvents returns a probe's ledger rows, newest first.
func (s *SQLiteStore) ListProbeEvents(ctx context.Context, probeID string, limit int) ([]*ProbeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, probe_id, type, payload_json, created_at
		FROM probe_events
		WHERE probe_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, probeID, clampListLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying probe events: %w", err)
	}
	defer rows.Close()

	var events []*ProbeEvent
	for rows.Next() {
		var evt ProbeEvent
		var typ, createdAtStr string
		var payload sql.NullString

		if err := rows.Scan(&evt.ID, &evt.ProbeID, &typ, &payload, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning probe event: %w", err)
		}

		evt.Type = ProbeEventType(typ)
		if evt.Payload, err = decodeMap(payload); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
		if evt.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating probe events: %w", err)
	}

	return events, nil
}
