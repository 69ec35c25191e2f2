// ABOUTME: SQLite persistence for deployment records
// ABOUTME: Updates are conditional on status and revision so concurrent transitions cannot both win

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const deploymentColumns = `
	id, probe_id, version, environment, status, canary_percent, summary,
	overlay_id, manifest_json, metadata_json, self_test_json,
	started_at, completed_at, rolled_back_at, revision, created_at, updated_at
`

// CreateDeployment inserts a new deployment. Returns ErrNotFound if the
// probe does not exist and ErrDuplicate if the id is taken.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	manifest, err := encodeJSON(d.Manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	metadata, err := encodeJSON(d.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query := `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		d.ID,
		d.ProbeID,
		d.Version,
		d.Environment,
		string(d.Status),
		nullInt(d.CanaryPercent),
		nullString(d.Summary),
		nullString(d.OverlayID),
		manifest,
		metadata,
		nullString(string(d.SelfTest)),
		nullTime(d.StartedAt),
		nullTime(d.CompletedAt),
		nullTime(d.RolledBackAt),
		d.Revision,
		formatTime(d.CreatedAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting deployment: %w", err)
	}

	s.logger.Debug("created deployment", "id", d.ID, "probe_id", d.ProbeID, "version", d.Version)
	return nil
}

// GetDeployment retrieves a deployment by id.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`

	d, err := scanDeployment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying deployment: %w", err)
	}
	return d, nil
}

// ListDeployments returns a probe's deployments, newest first.
func (s *SQLiteStore) ListDeployments(ctx context.Context, probeID string, limit int) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE probe_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, probeID, clampListLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployments: %w", err)
	}

	return deployments, nil
}

// UpdateDeployment writes the mutable fields of d, but only if the stored row
// is still in the expected status at the expected revision. On success the
// revision is incremented and d.Revision reflects the new value.
func (s *SQLiteStore) UpdateDeployment(ctx context.Context, d *Deployment, expected DeploymentStatus, expectedRevision int64) error {
	metadata, err := encodeJSON(d.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, summary = ?, metadata_json = ?, self_test_json = ?,
		    started_at = ?, completed_at = ?, rolled_back_at = ?,
		    revision = revision + 1, updated_at = ?
		WHERE id = ? AND status = ? AND revision = ?
	`,
		string(d.Status),
		nullString(d.Summary),
		metadata,
		nullString(string(d.SelfTest)),
		nullTime(d.StartedAt),
		nullTime(d.CompletedAt),
		nullTime(d.RolledBackAt),
		formatTime(d.UpdatedAt),
		d.ID,
		string(expected),
		expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("updating deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return s.missingOrConflict(ctx, "deployments", d.ID)
	}

	d.Revision = expectedRevision + 1
	s.logger.Debug("updated deployment", "id", d.ID, "from", expected, "to", d.Status, "revision", d.Revision)
	return nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func scanDeployment(row scanner) (*Deployment, error) {
	var d Deployment
	var status string
	var canary sql.NullInt64
	var summary, overlayID, manifest, metadata, selfTest sql.NullString
	var startedAt, completedAt, rolledBackAt sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&d.ID,
		&d.ProbeID,
		&d.Version,
		&d.Environment,
		&status,
		&canary,
		&summary,
		&overlayID,
		&manifest,
		&metadata,
		&selfTest,
		&startedAt,
		&completedAt,
		&rolledBackAt,
		&d.Revision,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	d.Status = DeploymentStatus(status)
	d.Summary = summary.String
	d.OverlayID = overlayID.String
	if canary.Valid {
		v := int(canary.Int64)
		d.CanaryPercent = &v
	}
	if selfTest.Valid && selfTest.String != "" {
		d.SelfTest = []byte(selfTest.String)
	}

	if d.Manifest, err = decodeMap(manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if d.Metadata, err = decodeMap(metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if d.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if d.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}
	if d.RolledBackAt, err = parseNullTime(rolledBackAt); err != nil {
		return nil, fmt.Errorf("parsing rolled_back_at: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &d, nil
}
