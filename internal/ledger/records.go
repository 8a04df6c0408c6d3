package ledger

import (
	"context"
	"fmt"

	"cadpipe/internal/artifacts"
)

// RecordScript stores the metadata of one submitted script version. The
// (project, version) pair is append-only; a duplicate insert is a bug
// upstream and surfaces as a constraint error.
func (s *Store) RecordScript(ctx context.Context, script *ScriptVersion) error {
	_, err := s.execContext(ctx, `
		INSERT INTO scripts (project_id, version, storage_key, size, uploader_id, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		script.ProjectID, script.Version, script.StorageKey, script.Size,
		script.UploaderID, formatTime(script.UploadedAt))
	if err != nil {
		return fmt.Errorf("record script %s v%d: %w", script.ProjectID, script.Version, err)
	}
	return nil
}

// ScriptsByProject lists submitted versions, newest first.
func (s *Store) ScriptsByProject(ctx context.Context, projectID string) ([]*ScriptVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, version, storage_key, size, uploader_id, uploaded_at
		FROM scripts WHERE project_id = ? ORDER BY version DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("scripts for %s: %w", projectID, err)
	}
	defer rows.Close()

	var scripts []*ScriptVersion
	for rows.Next() {
		var sv ScriptVersion
		var uploadedAt string
		if err := rows.Scan(&sv.ProjectID, &sv.Version, &sv.StorageKey, &sv.Size, &sv.UploaderID, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan script: %w", err)
		}
		if sv.UploadedAt, err = parseTime(uploadedAt); err != nil {
			return nil, fmt.Errorf("script %s uploaded_at: %w", sv.StorageKey, err)
		}
		scripts = append(scripts, &sv)
	}
	return scripts, rows.Err()
}

// RecordArtifact stores one observed worker output. Re-observing the same key
// on a later poll is routine, so duplicates are ignored.
func (s *Store) RecordArtifact(ctx context.Context, artifact *OutputArtifact) error {
	_, err := s.execContext(ctx, `
		INSERT INTO output_artifacts (storage_key, project_id, version, format, size, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(storage_key) DO NOTHING`,
		artifact.StorageKey, artifact.ProjectID, artifact.Version,
		string(artifact.Format), artifact.Size, formatTime(artifact.DiscoveredAt))
	if err != nil {
		return fmt.Errorf("record artifact %s: %w", artifact.StorageKey, err)
	}
	return nil
}

// ArtifactsByVersion lists the outputs attributed to one script version.
func (s *Store) ArtifactsByVersion(ctx context.Context, projectID string, version int) ([]*OutputArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT storage_key, project_id, version, format, size, discovered_at
		FROM output_artifacts WHERE project_id = ? AND version = ?
		ORDER BY storage_key`, projectID, version)
	if err != nil {
		return nil, fmt.Errorf("artifacts for %s v%d: %w", projectID, version, err)
	}
	defer rows.Close()

	var outputs []*OutputArtifact
	for rows.Next() {
		var oa OutputArtifact
		var format, discoveredAt string
		if err := rows.Scan(&oa.StorageKey, &oa.ProjectID, &oa.Version, &format, &oa.Size, &discoveredAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		parsed, ok := artifacts.ParseFormat(format)
		if !ok {
			return nil, fmt.Errorf("artifact %s has unknown format %q", oa.StorageKey, format)
		}
		oa.Format = parsed
		if oa.DiscoveredAt, err = parseTime(discoveredAt); err != nil {
			return nil, fmt.Errorf("artifact %s discovered_at: %w", oa.StorageKey, err)
		}
		outputs = append(outputs, &oa)
	}
	return outputs, rows.Err()
}

// RecordLog stores a pointer to one worker log. Duplicate keys are ignored
// for the same reason as artifacts.
func (s *Store) RecordLog(ctx context.Context, record *LogRecord) error {
	_, err := s.execContext(ctx, `
		INSERT INTO log_records (storage_key, project_id, version, summary, logged_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(storage_key) DO NOTHING`,
		record.StorageKey, record.ProjectID, record.Version, record.Summary, formatTime(record.LoggedAt))
	if err != nil {
		return fmt.Errorf("record log %s: %w", record.StorageKey, err)
	}
	return nil
}

// LogsByProject lists a project's known worker logs, newest first.
func (s *Store) LogsByProject(ctx context.Context, projectID string) ([]*LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT storage_key, project_id, version, summary, logged_at
		FROM log_records WHERE project_id = ? ORDER BY logged_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("logs for %s: %w", projectID, err)
	}
	defer rows.Close()

	var records []*LogRecord
	for rows.Next() {
		var lr LogRecord
		var loggedAt string
		if err := rows.Scan(&lr.StorageKey, &lr.ProjectID, &lr.Version, &lr.Summary, &loggedAt); err != nil {
			return nil, fmt.Errorf("scan log record: %w", err)
		}
		if lr.LoggedAt, err = parseTime(loggedAt); err != nil {
			return nil, fmt.Errorf("log %s logged_at: %w", lr.StorageKey, err)
		}
		records = append(records, &lr)
	}
	return records, rows.Err()
}
