// Package monitor watches the object store for worker outputs and drives each
// run through its lifecycle. One scheduler job exists per tracked run; a job
// removes itself once its run reaches a terminal state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"cadpipe/internal/artifacts"
	"cadpipe/internal/ledger"
	"cadpipe/internal/logging"
	"cadpipe/internal/metrics"
	"cadpipe/internal/storage"
)

// Options carries the tunables the monitor needs.
type Options struct {
	PollInterval      time.Duration
	MaxProcessingTime time.Duration
	FailureThreshold  int
}

// Monitor owns run tracking and polling. All state transitions go through the
// ledger's guarded updates, so concurrent polls and supersessions stay safe.
type Monitor struct {
	ledger    *ledger.Store
	store     storage.Store
	opts      Options
	logger    *slog.Logger
	scheduler gocron.Scheduler
	now       func() time.Time

	mu   sync.Mutex
	jobs map[string]uuid.UUID // run id -> scheduler job

	// trackMu serializes Track so two racing submissions cannot interleave
	// their supersede/create steps and invert the version ordering.
	trackMu sync.Mutex
}

// New builds a Monitor with its own scheduler. Call Start before tracking.
func New(ledgerStore *ledger.Store, store storage.Store, opts Options, logger *slog.Logger) (*Monitor, error) {
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 1
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Monitor{
		ledger:    ledgerStore,
		store:     store,
		opts:      opts,
		logger:    logging.WithComponent(logger, "monitor"),
		scheduler: scheduler,
		now:       func() time.Time { return time.Now().UTC() },
		jobs:      make(map[string]uuid.UUID),
	}, nil
}

// Start begins executing scheduled poll jobs.
func (m *Monitor) Start() {
	m.scheduler.Start()
}

// Stop shuts the scheduler down and waits for in-flight polls.
func (m *Monitor) Stop() error {
	return m.scheduler.Shutdown()
}

// Track supersedes any older active run for the project, snapshots the
// current output namespace as the new run's baseline, creates the run, and
// schedules its poll job. Supersession only flows downward: when a run with a
// higher version already exists the new run is recorded for the audit trail
// but born Superseded, never polled.
func (m *Monitor) Track(ctx context.Context, projectID string, version int) (*ledger.Run, error) {
	m.trackMu.Lock()
	defer m.trackMu.Unlock()

	superseded, err := m.ledger.SupersedeActive(ctx, projectID, version,
		fmt.Sprintf("superseded by version %d", version))
	if err != nil {
		return nil, err
	}
	if superseded > 0 {
		metrics.RunsFinishedTotal.WithLabelValues("superseded").Add(float64(superseded))
		metrics.ActiveRuns.Sub(float64(superseded))
		m.logger.Info("superseded active run",
			logging.Project(projectID),
			logging.Version(version),
			logging.Int64("count", superseded))
	}

	newest, err := m.ledger.HighestRunVersion(ctx, projectID)
	if err != nil {
		return nil, err
	}

	baseline, err := m.snapshotOutputs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("snapshot outputs for %s: %w", projectID, err)
	}

	startedAt := m.now()
	run, err := m.ledger.CreateRun(ctx, projectID, version, startedAt,
		startedAt.Add(m.opts.MaxProcessingTime), baseline)
	if err != nil {
		return nil, err
	}

	if newest > version {
		// A newer submission raced ahead of this one.
		if _, err := m.ledger.FinishRun(ctx, run.ID, ledger.StateSuperseded,
			fmt.Sprintf("superseded by version %d", newest), startedAt); err != nil {
			return nil, err
		}
		metrics.RunsFinishedTotal.WithLabelValues("superseded").Inc()
		m.logger.Info("stale submission arrived after a newer version",
			logging.Project(projectID),
			logging.Version(version),
			logging.Int("newer", newest),
			logging.RunID(run.ID))
		return m.ledger.GetRun(ctx, run.ID)
	}

	metrics.ActiveRuns.Inc()
	if err := m.scheduleRun(run); err != nil {
		return nil, err
	}
	m.logger.Info("tracking run",
		logging.Project(projectID),
		logging.Version(version),
		logging.RunID(run.ID))
	return run, nil
}

// Resume reschedules poll jobs for every run left active by a previous
// process. Runs whose deadline already passed get picked up by their first
// poll and timed out there.
func (m *Monitor) Resume(ctx context.Context) error {
	runs, err := m.ledger.ActiveRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if err := m.scheduleRun(run); err != nil {
			return err
		}
		metrics.ActiveRuns.Inc()
		m.logger.Info("resumed run",
			logging.Project(run.ProjectID),
			logging.Version(run.Version),
			logging.RunID(run.ID))
	}
	return nil
}

func (m *Monitor) scheduleRun(run *ledger.Run) error {
	job, err := m.scheduler.NewJob(
		gocron.DurationJob(m.opts.PollInterval),
		gocron.NewTask(m.pollTask, run.ID),
		gocron.WithName("poll-"+run.ProjectID),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule run %s: %w", run.ID, err)
	}
	m.mu.Lock()
	m.jobs[run.ID] = job.ID()
	m.mu.Unlock()
	return nil
}

func (m *Monitor) removeJob(runID string) {
	m.mu.Lock()
	jobID, ok := m.jobs[runID]
	if ok {
		delete(m.jobs, runID)
	}
	m.mu.Unlock()
	if ok {
		if err := m.scheduler.RemoveJob(jobID); err != nil {
			m.logger.Debug("remove poll job", logging.RunID(runID), logging.Error(err))
		}
	}
}

func (m *Monitor) pollTask(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PollInterval)
	defer cancel()
	if _, err := m.CheckNow(ctx, runID); err != nil {
		m.logger.Error("poll cycle failed", logging.RunID(runID), logging.Error(err))
	}
}

// CheckNow executes one poll cycle for a run and returns its state afterward.
// Safe to call concurrently with scheduled polls; guarded ledger updates make
// the duplicate cycle a no-op.
func (m *Monitor) CheckNow(ctx context.Context, runID string) (*ledger.Run, error) {
	run, err := m.ledger.GetRun(ctx, runID)
	if err != nil {
		m.removeJob(runID)
		return nil, err
	}
	if run.State.IsTerminal() {
		m.removeJob(runID)
		return run, nil
	}

	metrics.PollsTotal.Inc()
	now := m.now()

	objects, err := m.store.List(ctx, artifacts.OutputPrefix(run.ProjectID))
	if err != nil {
		return m.handlePollFailure(ctx, run, now, err)
	}

	fresh := m.freshOutputs(run, objects)
	if len(fresh) > 0 {
		return m.completeRun(ctx, run, now, fresh)
	}

	if !now.Before(run.TimeoutAt) {
		return m.finishRun(ctx, run, ledger.StateTimedOut,
			fmt.Sprintf("no output after %s", m.opts.MaxProcessingTime), now)
	}

	if _, err := m.ledger.RecordPoll(ctx, run.ID, now, 0); err != nil {
		return nil, err
	}
	return m.ledger.GetRun(ctx, run.ID)
}

// freshOutputs returns recognized output objects attributable to this run:
// keys absent from the baseline snapshot, or baseline keys the worker has
// rewritten since the run started. The second case covers workers that reuse
// a fixed output filename across versions.
func (m *Monitor) freshOutputs(run *ledger.Run, objects []storage.Object) []storage.Object {
	baseline := make(map[string]struct{}, len(run.BaselineKeys))
	for _, key := range run.BaselineKeys {
		baseline[key] = struct{}{}
	}
	var fresh []storage.Object
	for _, obj := range objects {
		if _, known := artifacts.FormatForKey(obj.Key); !known {
			continue
		}
		if _, seen := baseline[obj.Key]; seen && !obj.Updated.After(run.StartedAt) {
			continue
		}
		fresh = append(fresh, obj)
	}
	return fresh
}

func (m *Monitor) handlePollFailure(ctx context.Context, run *ledger.Run, now time.Time, pollErr error) (*ledger.Run, error) {
	if errors.Is(pollErr, storage.ErrUnauthorized) {
		// Credentials will not fix themselves between polls.
		return m.finishRun(ctx, run, ledger.StateFailed, "storage authorization failed", now)
	}

	streak := run.FailureStreak + 1
	if streak >= m.opts.FailureThreshold {
		return m.finishRun(ctx, run, ledger.StateFailed,
			fmt.Sprintf("storage unavailable for %d consecutive polls", streak), now)
	}

	m.logger.Warn("poll failed, will retry",
		logging.Project(run.ProjectID),
		logging.RunID(run.ID),
		logging.Int("streak", streak),
		logging.Error(pollErr))
	if _, err := m.ledger.RecordPoll(ctx, run.ID, now, streak); err != nil {
		return nil, err
	}
	return m.ledger.GetRun(ctx, run.ID)
}

func (m *Monitor) completeRun(ctx context.Context, run *ledger.Run, now time.Time, fresh []storage.Object) (*ledger.Run, error) {
	applied, err := m.ledger.FinishRun(ctx, run.ID, ledger.StateCompleted,
		fmt.Sprintf("%d output artifacts", len(fresh)), now)
	if err != nil {
		return nil, err
	}
	m.removeJob(run.ID)
	if !applied {
		// Another path already finished the run, usually a supersession.
		// Do not attribute outputs or write markers for it.
		return m.ledger.GetRun(ctx, run.ID)
	}

	metrics.RunsFinishedTotal.WithLabelValues("completed").Inc()
	metrics.ActiveRuns.Dec()

	for _, obj := range fresh {
		format, _ := artifacts.FormatForKey(obj.Key)
		record := &ledger.OutputArtifact{
			ProjectID:    run.ProjectID,
			Version:      run.Version,
			Format:       format,
			StorageKey:   obj.Key,
			Size:         obj.Size,
			DiscoveredAt: now,
		}
		if err := m.ledger.RecordArtifact(ctx, record); err != nil {
			m.logger.Error("record artifact", logging.Key(obj.Key), logging.Error(err))
		}
	}

	m.writeProcessedMarker(ctx, run)
	m.recordLogs(ctx, run)

	m.logger.Info("run completed",
		logging.Project(run.ProjectID),
		logging.Version(run.Version),
		logging.RunID(run.ID),
		logging.Int("artifacts", len(fresh)))
	return m.ledger.GetRun(ctx, run.ID)
}

func (m *Monitor) finishRun(ctx context.Context, run *ledger.Run, state ledger.RunState, message string, now time.Time) (*ledger.Run, error) {
	applied, err := m.ledger.FinishRun(ctx, run.ID, state, message, now)
	if err != nil {
		return nil, err
	}
	m.removeJob(run.ID)
	if applied {
		outcome := "failed"
		if state == ledger.StateTimedOut {
			outcome = "timed_out"
		}
		metrics.RunsFinishedTotal.WithLabelValues(outcome).Inc()
		metrics.ActiveRuns.Dec()
		m.recordLogs(ctx, run)
		m.logger.Warn("run finished without output",
			logging.Project(run.ProjectID),
			logging.Version(run.Version),
			logging.RunID(run.ID),
			logging.String("state", string(state)),
			logging.String("reason", message))
	}
	return m.ledger.GetRun(ctx, run.ID)
}

// writeProcessedMarker drops the idempotent completion marker next to the
// script. An existing marker means a previous process got here first.
func (m *Monitor) writeProcessedMarker(ctx context.Context, run *ledger.Run) {
	key := artifacts.ProcessedKey(run.ProjectID, run.Version)
	err := m.store.Put(ctx, key, []byte{}, "application/octet-stream")
	if err != nil && !errors.Is(err, storage.ErrKeyExists) {
		m.logger.Warn("write processed marker", logging.Key(key), logging.Error(err))
	}
}

// recordLogs snapshots the worker's log listing into the ledger so clients
// can browse logs without a storage round trip.
func (m *Monitor) recordLogs(ctx context.Context, run *ledger.Run) {
	objects, err := m.store.List(ctx, artifacts.LogPrefix(run.ProjectID))
	if err != nil {
		m.logger.Debug("list worker logs", logging.Project(run.ProjectID), logging.Error(err))
		return
	}
	for _, obj := range objects {
		loggedAt, ok := artifacts.ParseLogTimestamp(run.ProjectID, obj.Key)
		if !ok {
			loggedAt = obj.Updated.UTC()
		}
		record := &ledger.LogRecord{
			ProjectID:  run.ProjectID,
			Version:    run.Version,
			StorageKey: obj.Key,
			LoggedAt:   loggedAt,
		}
		if err := m.ledger.RecordLog(ctx, record); err != nil {
			m.logger.Debug("record worker log", logging.Key(obj.Key), logging.Error(err))
		}
	}
}

// snapshotOutputs lists the recognized output keys currently present for a
// project. Unrecognized keys are ignored both here and during polling, so
// leaving them out keeps the baseline minimal.
func (m *Monitor) snapshotOutputs(ctx context.Context, projectID string) ([]string, error) {
	objects, err := m.store.List(ctx, artifacts.OutputPrefix(projectID))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		if _, known := artifacts.FormatForKey(obj.Key); known {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}
