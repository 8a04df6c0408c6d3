// Package api exposes the pipeline's operations as a service facade consumed
// by the daemon's HTTP server, plus the wire types shared with the CLI.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cadpipe/internal/allocator"
	"cadpipe/internal/artifacts"
	"cadpipe/internal/ledger"
	"cadpipe/internal/logging"
	"cadpipe/internal/metrics"
	"cadpipe/internal/monitor"
	"cadpipe/internal/resolver"
	"cadpipe/internal/storage"
)

// ErrEmptyScript rejects submissions with no content.
var ErrEmptyScript = errors.New("script content is empty")

// ErrNoRuns indicates the project exists but nothing was ever submitted.
var ErrNoRuns = errors.New("no runs for project")

// ErrUnknownFormat rejects download requests naming a format the worker
// never produces.
var ErrUnknownFormat = errors.New("unknown format")

// ErrInvalidLogKey rejects log content requests for keys outside the
// project's log namespace.
var ErrInvalidLogKey = errors.New("key is not a worker log for this project")

// PipelineService coordinates allocation, storage, tracking, and resolution
// for one submission pipeline.
type PipelineService struct {
	ledger    *ledger.Store
	store     storage.Store
	allocator *allocator.Allocator
	monitor   *monitor.Monitor
	resolver  *resolver.Resolver
	scriptExt string
	logger    *slog.Logger
}

// NewPipelineService wires the pipeline components together.
func NewPipelineService(
	ledgerStore *ledger.Store,
	store storage.Store,
	alloc *allocator.Allocator,
	mon *monitor.Monitor,
	res *resolver.Resolver,
	scriptExt string,
	logger *slog.Logger,
) *PipelineService {
	return &PipelineService{
		ledger:    ledgerStore,
		store:     store,
		allocator: alloc,
		monitor:   mon,
		resolver:  res,
		scriptExt: scriptExt,
		logger:    logging.WithComponent(logger, "pipeline"),
	}
}

// Submit stores a new immutable script version and begins tracking its run.
// The version is allocated before upload; the upload itself is write-once, so
// a lost race surfaces as a conflict instead of an overwrite.
func (s *PipelineService) Submit(ctx context.Context, projectID string, content []byte, uploaderID string) (*SubmitResponse, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, ErrEmptyScript
	}

	version, err := s.allocator.Allocate(ctx, projectID)
	if err != nil {
		return nil, err
	}

	key := artifacts.InputKey(projectID, version, s.scriptExt)
	if err := s.store.Put(ctx, key, content, "text/x-python"); err != nil {
		if errors.Is(err, storage.ErrKeyExists) {
			// A stale object occupies a version the ledger considered free.
			// The submission is rejected rather than silently renumbered.
			return nil, fmt.Errorf("version %d already stored for %s: %w", version, projectID, err)
		}
		return nil, fmt.Errorf("store script: %w", err)
	}

	script := &ledger.ScriptVersion{
		ProjectID:  projectID,
		Version:    version,
		StorageKey: key,
		Size:       int64(len(content)),
		UploaderID: uploaderID,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.ledger.RecordScript(ctx, script); err != nil {
		return nil, err
	}

	run, err := s.monitor.Track(ctx, projectID, version)
	if err != nil {
		return nil, fmt.Errorf("track run: %w", err)
	}

	metrics.SubmissionsTotal.Inc()
	s.logger.Info("script submitted",
		logging.Project(projectID),
		logging.Version(version),
		logging.Key(key),
		logging.RunID(run.ID))

	return &SubmitResponse{
		Project:    projectID,
		Version:    version,
		StorageKey: key,
		RunID:      run.ID,
		State:      string(run.State),
	}, nil
}

// Status reports the latest run of a project together with the formats
// currently downloadable from the store.
func (s *PipelineService) Status(ctx context.Context, projectID string) (*StatusResponse, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	run, err := s.ledger.LatestRun(ctx, projectID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoRuns, projectID)
	}
	if err != nil {
		return nil, err
	}

	available, err := s.resolver.AvailableFormats(ctx, projectID)
	if err != nil {
		// Status must stay readable when the store is down; the ledger part
		// is still authoritative.
		s.logger.Warn("available formats lookup failed",
			logging.Project(projectID), logging.Error(err))
		available = nil
	}

	return statusFromRun(run, available), nil
}

// Check forces one poll cycle for the project's latest run and returns the
// refreshed status. Terminal runs are returned as-is.
func (s *PipelineService) Check(ctx context.Context, projectID string) (*StatusResponse, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	run, err := s.ledger.LatestRun(ctx, projectID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoRuns, projectID)
	}
	if err != nil {
		return nil, err
	}
	if !run.State.IsTerminal() {
		if run, err = s.monitor.CheckNow(ctx, run.ID); err != nil {
			return nil, err
		}
	}

	available, err := s.resolver.AvailableFormats(ctx, projectID)
	if err != nil {
		available = nil
	}
	return statusFromRun(run, available), nil
}

// Download resolves the best (or requested) format into a signed link.
func (s *PipelineService) Download(ctx context.Context, projectID, formatTag string) (*DownloadResponse, error) {
	var format artifacts.Format
	if formatTag != "" {
		parsed, ok := artifacts.ParseFormat(formatTag)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, formatTag)
		}
		format = parsed
	}
	resolution, err := s.resolver.Resolve(ctx, projectID, format)
	if err != nil {
		return nil, err
	}
	return &DownloadResponse{
		Project:   projectID,
		Format:    string(resolution.Format),
		Key:       resolution.Key,
		URL:       resolution.URL,
		ExpiresAt: resolution.ExpiresAt,
	}, nil
}

// Runs lists a project's run history, newest first.
func (s *PipelineService) Runs(ctx context.Context, projectID string) ([]RunSummary, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	runs, err := s.ledger.RunsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, runSummary(run))
	}
	return summaries, nil
}

// Scripts lists a project's submitted versions, newest first.
func (s *PipelineService) Scripts(ctx context.Context, projectID string) ([]ScriptSummary, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	scripts, err := s.ledger.ScriptsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	summaries := make([]ScriptSummary, 0, len(scripts))
	for _, script := range scripts {
		summaries = append(summaries, ScriptSummary{
			Project:    script.ProjectID,
			Version:    script.Version,
			StorageKey: script.StorageKey,
			Size:       script.Size,
			UploaderID: script.UploaderID,
			UploadedAt: script.UploadedAt,
		})
	}
	return summaries, nil
}

// Logs lists the worker logs recorded for a project, newest first.
func (s *PipelineService) Logs(ctx context.Context, projectID string) ([]LogSummary, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	records, err := s.ledger.LogsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	summaries := make([]LogSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, LogSummary{
			Project:    record.ProjectID,
			Version:    record.Version,
			StorageKey: record.StorageKey,
			LoggedAt:   record.LoggedAt,
		})
	}
	return summaries, nil
}

// ScriptContent fetches the stored script for one submitted version.
func (s *PipelineService) ScriptContent(ctx context.Context, projectID string, version int) ([]byte, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if version < 1 {
		return nil, fmt.Errorf("%w: version %d", ledger.ErrNotFound, version)
	}
	return s.store.Get(ctx, artifacts.InputKey(projectID, version, s.scriptExt))
}

// LogContent fetches one worker log by its storage key. The key must sit in
// the project's log namespace; arbitrary keys are rejected.
func (s *PipelineService) LogContent(ctx context.Context, projectID, key string) ([]byte, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(key, artifacts.LogPrefix(projectID)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLogKey, key)
	}
	return s.store.Get(ctx, key)
}

func statusFromRun(run *ledger.Run, available []artifacts.Format) *StatusResponse {
	tags := make([]string, 0, len(available))
	for _, f := range available {
		tags = append(tags, string(f))
	}
	return &StatusResponse{
		Project:          run.ProjectID,
		Version:          run.Version,
		RunID:            run.ID,
		State:            string(run.State),
		SubmittedAt:      run.StartedAt,
		TimeoutAt:        run.TimeoutAt,
		LastCheckedAt:    run.LastPollAt,
		FinishedAt:       run.FinishedAt,
		PollCount:        run.PollCount,
		Message:          run.Message,
		AvailableFormats: tags,
	}
}

func runSummary(run *ledger.Run) RunSummary {
	return RunSummary{
		RunID:         run.ID,
		Project:       run.ProjectID,
		Version:       run.Version,
		State:         string(run.State),
		StartedAt:     run.StartedAt,
		TimeoutAt:     run.TimeoutAt,
		LastCheckedAt: run.LastPollAt,
		FinishedAt:    run.FinishedAt,
		PollCount:     run.PollCount,
		Message:       run.Message,
	}
}
