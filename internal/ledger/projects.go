package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureProject creates the project row on first contact. Existing rows are
// left untouched so concurrent submitters never clobber the version pointer.
func (s *Store) EnsureProject(ctx context.Context, id, displayName, ownerID string) error {
	now := formatTime(time.Now())
	_, err := s.execContext(ctx, `
		INSERT INTO projects (id, display_name, owner_id, current_version, cas_token, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, displayName, ownerID, now, now)
	if err != nil {
		return fmt.Errorf("ensure project %s: %w", id, err)
	}
	return nil
}

// GetProject loads one project row.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, owner_id, current_version, cas_token, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var p Project
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.DisplayName, &p.OwnerID, &p.CurrentVersion, &p.CASToken, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("project %s created_at: %w", id, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("project %s updated_at: %w", id, err)
	}
	return &p, nil
}

// CommitVersion advances the project's version pointer only when casToken
// still matches the observed row. Returns false when another submitter moved
// the pointer first.
func (s *Store) CommitVersion(ctx context.Context, id string, version int, casToken int64) (bool, error) {
	result, err := s.execContext(ctx, `
		UPDATE projects
		SET current_version = ?, cas_token = cas_token + 1, updated_at = ?
		WHERE id = ? AND cas_token = ?`,
		version, formatTime(time.Now()), id, casToken)
	if err != nil {
		return false, fmt.Errorf("commit version %d for %s: %w", version, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("commit version %d for %s: %w", version, id, err)
	}
	return affected == 1, nil
}

// Projects lists all known projects ordered by id.
func (s *Store) Projects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, owner_id, current_version, cas_token, created_at, updated_at
		FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.OwnerID, &p.CurrentVersion, &p.CASToken, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("project %s created_at: %w", p.ID, err)
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("project %s updated_at: %w", p.ID, err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}
