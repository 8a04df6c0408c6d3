// Package daemon runs the pipeline as a single long-lived process: it owns
// the ledger, the storage client, the run monitor, and the HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"cadpipe/internal/allocator"
	"cadpipe/internal/api"
	"cadpipe/internal/config"
	"cadpipe/internal/ledger"
	"cadpipe/internal/logging"
	"cadpipe/internal/monitor"
	"cadpipe/internal/resolver"
	"cadpipe/internal/storage"
)

// ErrAlreadyRunning means another daemon holds the lock file.
var ErrAlreadyRunning = errors.New("daemon already running")

// Daemon wires the pipeline together and manages its lifecycle.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	ledger  *ledger.Store
	store   storage.Store
	monitor *monitor.Monitor
	service *api.PipelineService

	lock      *flock.Flock
	apiServer *apiServer
	startedAt time.Time
}

// New builds a daemon from configuration. Nothing starts until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Daemon{cfg: cfg, logger: logger}, nil
}

// Start acquires the process lock, opens the ledger and storage backend,
// resumes interrupted runs, and begins serving the API. It returns once
// everything is up; blocking until shutdown is the caller's job via ctx.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.acquireLock(); err != nil {
		return err
	}

	store, err := ledger.Open(d.cfg.Paths.DataDir)
	if err != nil {
		d.releaseLock()
		return fmt.Errorf("open ledger: %w", err)
	}
	d.ledger = store

	objStore, err := storage.Open(ctx, d.cfg)
	if err != nil {
		d.releaseLock()
		_ = d.ledger.Close()
		return fmt.Errorf("open storage: %w", err)
	}
	d.store = objStore

	mon, err := monitor.New(d.ledger, d.store, monitor.Options{
		PollInterval:      d.cfg.PollInterval(),
		MaxProcessingTime: d.cfg.MaxProcessingTime(),
		FailureThreshold:  d.cfg.Monitor.FailureThreshold,
	}, d.logger)
	if err != nil {
		d.shutdownStores()
		return err
	}
	d.monitor = mon

	alloc := allocator.New(d.ledger, d.store, d.cfg.Storage.ScriptExtension, d.cfg.Allocator.RetryBudget, d.logger)
	res := resolver.New(d.store, d.cfg.SignedURLTTL(), d.logger)
	d.service = api.NewPipelineService(d.ledger, d.store, alloc, mon, res, d.cfg.Storage.ScriptExtension, d.logger)

	d.monitor.Start()
	if err := d.monitor.Resume(ctx); err != nil {
		d.logger.Error("resume interrupted runs", logging.Error(err))
	}

	server, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.stopMonitor()
		d.shutdownStores()
		return err
	}
	d.apiServer = server
	if err := d.apiServer.start(ctx); err != nil {
		d.stopMonitor()
		d.shutdownStores()
		return err
	}

	d.startedAt = time.Now().UTC()
	d.logger.Info("daemon started",
		logging.String("ledger", d.ledger.Path()),
		logging.String("bind", d.cfg.Paths.APIBind),
		logging.String("backend", d.cfg.Storage.Backend))
	return nil
}

// Stop shuts everything down in reverse start order.
func (d *Daemon) Stop() {
	if d.apiServer != nil {
		d.apiServer.stop()
	}
	d.stopMonitor()
	d.shutdownStores()
	d.logger.Info("daemon stopped")
}

// Status snapshots the daemon for the API and CLI.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      true,
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		LockFilePath: d.lockPath(),
		Bucket:       d.cfg.Storage.Bucket,
	}
	if d.ledger != nil {
		status.LedgerPath = d.ledger.Path()
		if runs, err := d.ledger.ActiveRuns(ctx); err == nil {
			status.ActiveRuns = len(runs)
		}
		if projects, err := d.ledger.Projects(ctx); err == nil {
			status.Projects = len(projects)
		}
	}
	return status
}

// Service exposes the pipeline facade to the API server.
func (d *Daemon) Service() *api.PipelineService {
	return d.service
}

func (d *Daemon) lockPath() string {
	return filepath.Join(d.cfg.Paths.DataDir, "cadpiped.lock")
}

func (d *Daemon) acquireLock() error {
	if err := os.MkdirAll(d.cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	lock := flock.New(d.lockPath())
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", d.lockPath(), err)
	}
	if !acquired {
		return fmt.Errorf("%w: lock held at %s", ErrAlreadyRunning, d.lockPath())
	}
	d.lock = lock
	return nil
}

func (d *Daemon) releaseLock() {
	if d.lock != nil {
		_ = d.lock.Unlock()
		d.lock = nil
	}
}

func (d *Daemon) stopMonitor() {
	if d.monitor != nil {
		if err := d.monitor.Stop(); err != nil {
			d.logger.Warn("stop monitor", logging.Error(err))
		}
	}
}

func (d *Daemon) shutdownStores() {
	if closer, ok := d.store.(interface{ Close() error }); ok && closer != nil {
		_ = closer.Close()
	}
	if d.ledger != nil {
		_ = d.ledger.Close()
	}
	d.releaseLock()
}
