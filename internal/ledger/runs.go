package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const runColumns = `id, project_id, version, state, started_at, timeout_at,
	last_poll_at, poll_count, failure_streak, finished_at, message, baseline_keys`

// CreateRun inserts a new Pending run. Callers supersede the project's active
// run first; this method only appends.
func (s *Store) CreateRun(ctx context.Context, projectID string, version int, startedAt, timeoutAt time.Time, baseline []string) (*Run, error) {
	baselineJSON, err := encodeBaseline(baseline)
	if err != nil {
		return nil, err
	}
	run := &Run{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Version:      version,
		State:        StatePending,
		StartedAt:    startedAt.UTC(),
		TimeoutAt:    timeoutAt.UTC(),
		BaselineKeys: baseline,
	}
	_, err = s.execContext(ctx, `
		INSERT INTO runs (id, project_id, version, state, started_at, timeout_at, poll_count, failure_streak, message, baseline_keys)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, '', ?)`,
		run.ID, run.ProjectID, run.Version, string(run.State),
		formatTime(run.StartedAt), formatTime(run.TimeoutAt), baselineJSON)
	if err != nil {
		return nil, fmt.Errorf("create run for %s v%d: %w", projectID, version, err)
	}
	return run, nil
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var state, startedAt, timeoutAt, baselineJSON string
	var lastPollAt, finishedAt sql.NullString
	err := row.Scan(&run.ID, &run.ProjectID, &run.Version, &state, &startedAt, &timeoutAt,
		&lastPollAt, &run.PollCount, &run.FailureStreak, &finishedAt, &run.Message, &baselineJSON)
	if err != nil {
		return nil, err
	}
	parsed, ok := ParseRunState(state)
	if !ok {
		return nil, fmt.Errorf("run %s has unknown state %q", run.ID, state)
	}
	run.State = parsed
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("run %s started_at: %w", run.ID, err)
	}
	if run.TimeoutAt, err = parseTime(timeoutAt); err != nil {
		return nil, fmt.Errorf("run %s timeout_at: %w", run.ID, err)
	}
	if run.LastPollAt, err = parseNullableTime(lastPollAt); err != nil {
		return nil, fmt.Errorf("run %s last_poll_at: %w", run.ID, err)
	}
	if run.FinishedAt, err = parseNullableTime(finishedAt); err != nil {
		return nil, fmt.Errorf("run %s finished_at: %w", run.ID, err)
	}
	if run.BaselineKeys, err = decodeBaseline(baselineJSON); err != nil {
		return nil, fmt.Errorf("run %s baseline: %w", run.ID, err)
	}
	return &run, nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return run, nil
}

// LatestRun returns the most recent run for a project regardless of state.
func (s *Store) LatestRun(ctx context.Context, projectID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE project_id = ?
		ORDER BY version DESC, started_at DESC LIMIT 1`, projectID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no runs for project %s", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest run for %s: %w", projectID, err)
	}
	return run, nil
}

// RunsByProject lists a project's runs, newest first.
func (s *Store) RunsByProject(ctx context.Context, projectID string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE project_id = ?
		ORDER BY version DESC, started_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("runs for %s: %w", projectID, err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ActiveRuns lists every non-terminal run across all projects. The daemon
// uses this at startup to resume polling after a restart.
func (s *Store) ActiveRuns(ctx context.Context) ([]*Run, error) {
	clause, args := activeStatePlaceholders()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE state IN (`+clause+`)
		ORDER BY started_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("active runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func collectRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SupersedeActive marks every non-terminal run of a project with a version
// below the given one Superseded and returns how many rows changed. Zero is
// normal for a project's first submission. Supersession only ever flows from
// newer versions to older ones; a stale submission cannot displace a run that
// outranks it.
func (s *Store) SupersedeActive(ctx context.Context, projectID string, belowVersion int, message string) (int64, error) {
	clause, args := activeStatePlaceholders()
	queryArgs := append([]any{string(StateSuperseded), formatTime(time.Now()), message, projectID, belowVersion}, args...)
	result, err := s.execContext(ctx, `
		UPDATE runs
		SET state = ?, finished_at = ?, message = ?
		WHERE project_id = ? AND version < ? AND state IN (`+clause+`)`, queryArgs...)
	if err != nil {
		return 0, fmt.Errorf("supersede runs for %s: %w", projectID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("supersede runs for %s: %w", projectID, err)
	}
	return affected, nil
}

// HighestRunVersion returns the largest version any run of the project has
// reached, in any state, or zero when the project has no runs.
func (s *Store) HighestRunVersion(ctx context.Context, projectID string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM runs WHERE project_id = ?`, projectID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("highest run version for %s: %w", projectID, err)
	}
	return int(version.Int64), nil
}

// RecordPoll bumps a run's poll bookkeeping and moves it to Processing. It
// applies only while the run is still active; false means the run turned
// terminal under us and the caller must stop polling.
func (s *Store) RecordPoll(ctx context.Context, runID string, at time.Time, failureStreak int) (bool, error) {
	clause, args := activeStatePlaceholders()
	queryArgs := append([]any{string(StateProcessing), formatTime(at), failureStreak, runID}, args...)
	result, err := s.execContext(ctx, `
		UPDATE runs
		SET state = ?, last_poll_at = ?, poll_count = poll_count + 1, failure_streak = ?
		WHERE id = ? AND state IN (`+clause+`)`, queryArgs...)
	if err != nil {
		return false, fmt.Errorf("record poll for run %s: %w", runID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record poll for run %s: %w", runID, err)
	}
	return affected == 1, nil
}

// FinishRun moves an active run to a terminal state. Returns false when the
// run already reached a terminal state through another path; terminal states
// never change again.
func (s *Store) FinishRun(ctx context.Context, runID string, state RunState, message string, at time.Time) (bool, error) {
	if !state.IsTerminal() {
		return false, fmt.Errorf("finish run %s: %s is not terminal", runID, state)
	}
	clause, args := activeStatePlaceholders()
	queryArgs := append([]any{string(state), formatTime(at), message, runID}, args...)
	result, err := s.execContext(ctx, `
		UPDATE runs
		SET state = ?, finished_at = ?, message = ?
		WHERE id = ? AND state IN (`+clause+`)`, queryArgs...)
	if err != nil {
		return false, fmt.Errorf("finish run %s: %w", runID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish run %s: %w", runID, err)
	}
	return affected == 1, nil
}
