// ABOUTME: SQLite persistence for registered probes
// ABOUTME: Supports lookup by id or slug, filtered listing, and one-way status changes

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const probeColumns = `
	id, slug, name, description, owner_email, owner_team, status,
	framework_bindings_json, tags_json, alert_channels_json,
	evidence_schema_json, environment_overlays_json,
	sdk_version_min, sdk_version_target, heartbeat_interval_seconds,
	metadata_json, last_deployed_at, archived_at, created_at, updated_at
`

// CreateProbe inserts a new probe. Returns ErrDuplicate if the id or slug is taken.
func (s *SQLiteStore) CreateProbe(ctx context.Context, probe *Probe) error {
	bindings, err := encodeList(probe.FrameworkBindings)
	if err != nil {
		return fmt.Errorf("encoding framework bindings: %w", err)
	}
	tags, err := encodeList(probe.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	channels, err := encodeList(probe.AlertChannels)
	if err != nil {
		return fmt.Errorf("encoding alert channels: %w", err)
	}
	evidenceSchema, err := encodeJSON(probe.EvidenceSchema)
	if err != nil {
		return fmt.Errorf("encoding evidence schema: %w", err)
	}
	overlays, err := encodeJSON(probe.EnvironmentOverlays)
	if err != nil {
		return fmt.Errorf("encoding environment overlays: %w", err)
	}
	metadata, err := encodeJSON(probe.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query := `INSERT INTO probes (` + probeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		probe.ID,
		probe.Slug,
		probe.Name,
		nullString(probe.Description),
		probe.OwnerEmail,
		nullString(probe.OwnerTeam),
		string(probe.Status),
		bindings,
		tags,
		channels,
		evidenceSchema,
		overlays,
		probe.SDKVersionMin,
		probe.SDKVersionTarget,
		int64(probe.HeartbeatInterval/time.Second),
		metadata,
		nullTime(probe.LastDeployedAt),
		nullTime(probe.ArchivedAt),
		formatTime(probe.CreatedAt),
		formatTime(probe.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting probe: %w", err)
	}

	s.logger.Debug("created probe", "id", probe.ID, "slug", probe.Slug)
	return nil
}

// GetProbe retrieves a probe by its id or, failing that, its slug.
func (s *SQLiteStore) GetProbe(ctx context.Context, idOrSlug string) (*Probe, error) {
	query := `SELECT ` + probeColumns + ` FROM probes WHERE id = ? OR slug = ? ORDER BY id = ? DESC LIMIT 1`

	probe, err := scanProbe(s.db.QueryRowContext(ctx, query, idOrSlug, idOrSlug, idOrSlug))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying probe: %w", err)
	}
	return probe, nil
}

// probeWhere builds the WHERE clause shared by ListProbes and CountProbes.
func probeWhere(filter ProbeFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(filter.FrameworkIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.FrameworkIDs)), ", ")
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(probes.framework_bindings_json) WHERE json_each.value IN ("+placeholders+"))")
		for _, id := range filter.FrameworkIDs {
			args = append(args, id)
		}
	}
	if filter.Owner != "" {
		conds = append(conds, "LOWER(owner_email) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Owner)+"%")
	}
	if filter.Search != "" {
		term := "%" + strings.ToLower(filter.Search) + "%"
		conds = append(conds, "(LOWER(name) LIKE ? OR LOWER(COALESCE(description, '')) LIKE ? OR LOWER(slug) LIKE ?)")
		args = append(args, term, term, term)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListProbes returns probes matching the filter, newest first.
func (s *SQLiteStore) ListProbes(ctx context.Context, filter ProbeFilter) ([]*Probe, error) {
	where, args := probeWhere(filter)
	query := `SELECT ` + probeColumns + ` FROM probes` + where +
		` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, clampProbeLimit(filter.Limit), offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying probes: %w", err)
	}
	defer rows.Close()

	var probes []*Probe
	for rows.Next() {
		probe, err := scanProbe(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning probe: %w", err)
		}
		probes = append(probes, probe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating probes: %w", err)
	}

	return probes, nil
}

// CountProbes returns the number of probes matching the filter, ignoring paging.
func (s *SQLiteStore) CountProbes(ctx context.Context, filter ProbeFilter) (int, error) {
	where, args := probeWhere(filter)

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM probes`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting probes: %w", err)
	}
	return count, nil
}

// UpdateProbeStatus moves a probe from one status to another. The update only
// applies if the probe is still in the expected status. Moving to deprecated
// also stamps archived_at.
func (s *SQLiteStore) UpdateProbeStatus(ctx context.Context, id string, from, to ProbeStatus, at time.Time) error {
	var archivedAt any
	if to == ProbeStatusDeprecated {
		archivedAt = formatTime(at)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE probes
		SET status = ?, archived_at = COALESCE(?, archived_at), updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), archivedAt, formatTime(at), id, string(from))
	if err != nil {
		return fmt.Errorf("updating probe status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return s.missingOrConflict(ctx, "probes", id)
	}

	s.logger.Debug("updated probe status", "id", id, "from", from, "to", to)
	return nil
}

// TouchLastDeployment records the time of the probe's latest completed rollout.
func (s *SQLiteStore) TouchLastDeployment(ctx context.Context, probeID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE probes SET last_deployed_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(at), probeID,
	)
	if err != nil {
		return fmt.Errorf("updating last_deployed_at: %w", err)
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

// missingOrConflict distinguishes the two reasons a conditional update can
// touch zero rows.
func (s *SQLiteStore) missingOrConflict(ctx context.Context, table, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking %s row: %w", table, err)
	}
	return ErrConflict
}

func scanProbe(row scanner) (*Probe, error) {
	var p Probe
	var status string
	var description, ownerTeam, evidenceSchema, overlays, metadata sql.NullString
	var lastDeployedAt, archivedAt sql.NullString
	var bindings, tags, channels string
	var heartbeatSeconds int64
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&p.ID,
		&p.Slug,
		&p.Name,
		&description,
		&p.OwnerEmail,
		&ownerTeam,
		&status,
		&bindings,
		&tags,
		&channels,
		&evidenceSchema,
		&overlays,
		&p.SDKVersionMin,
		&p.SDKVersionTarget,
		&heartbeatSeconds,
		&metadata,
		&lastDeployedAt,
		&archivedAt,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	p.Status = ProbeStatus(status)
	p.Description = description.String
	p.OwnerTeam = ownerTeam.String
	p.HeartbeatInterval = time.Duration(heartbeatSeconds) * time.Second

	if p.FrameworkBindings, err = decodeList(bindings); err != nil {
		return nil, fmt.Errorf("decoding framework bindings: %w", err)
	}
	if p.Tags, err = decodeList(tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if p.AlertChannels, err = decodeList(channels); err != nil {
		return nil, fmt.Errorf("decoding alert channels: %w", err)
	}
	if p.EvidenceSchema, err = decodeMap(evidenceSchema); err != nil {
		return nil, fmt.Errorf("decoding evidence schema: %w", err)
	}
	if p.EnvironmentOverlays, err = decodeMap(overlays); err != nil {
		return nil, fmt.Errorf("decoding environment overlays: %w", err)
	}
	if p.Metadata, err = decodeMap(metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if p.LastDeployedAt, err = parseNullTime(lastDeployedAt); err != nil {
		return nil, fmt.Errorf("parsing last_deployed_at: %w", err)
	}
	if p.ArchivedAt, err = parseNullTime(archivedAt); err != nil {
		return nil, fmt.Errorf("parsing archived_at: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}
