package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"cadpipe/internal/allocator"
	"cadpipe/internal/artifacts"
	"cadpipe/internal/ledger"
	"cadpipe/internal/logging"
	"cadpipe/internal/monitor"
	"cadpipe/internal/resolver"
	"cadpipe/internal/storage"
	"cadpipe/internal/testsupport"
)

type pipeline struct {
	service *PipelineService
	ledger  *ledger.Store
	store   storage.Store
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	ledgerStore := testsupport.MustOpenLedger(t, cfg)
	store := storage.NewMemory()

	mon, err := monitor.New(ledgerStore, store, monitor.Options{
		PollInterval:      cfg.PollInterval(),
		MaxProcessingTime: cfg.MaxProcessingTime(),
		FailureThreshold:  cfg.Monitor.FailureThreshold,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	t.Cleanup(func() { _ = mon.Stop() })

	alloc := allocator.New(ledgerStore, store, "py", cfg.Allocator.RetryBudget, logging.NewNop())
	res := resolver.New(store, cfg.SignedURLTTL(), logging.NewNop())
	svc := NewPipelineService(ledgerStore, store, alloc, mon, res, "py", logging.NewNop())
	return &pipeline{service: svc, ledger: ledgerStore, store: store}
}

func TestSubmitStoresScriptAndTracksRun(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	response, err := p.service.Submit(ctx, "widget", []byte("import FreeCAD"), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if response.Version != 1 {
		t.Fatalf("version = %d, want 1", response.Version)
	}
	if response.StorageKey != "input/widget/widget_v1.py" {
		t.Fatalf("key = %s", response.StorageKey)
	}
	if response.State != string(ledger.StatePending) {
		t.Fatalf("state = %s, want Pending", response.State)
	}

	exists, err := p.store.Exists(ctx, response.StorageKey)
	if err != nil || !exists {
		t.Fatalf("script not stored: exists=%v err=%v", exists, err)
	}

	scripts, err := p.service.Scripts(ctx, "widget")
	if err != nil {
		t.Fatalf("Scripts: %v", err)
	}
	if len(scripts) != 1 || scripts[0].UploaderID != "alice" {
		t.Fatalf("scripts = %+v", scripts)
	}
}

func TestSubmitValidation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, err := p.service.Submit(ctx, "widget", nil, ""); !errors.Is(err, ErrEmptyScript) {
		t.Fatalf("empty submit err = %v, want ErrEmptyScript", err)
	}
	if _, err := p.service.Submit(ctx, "bad/project", []byte("x"), ""); !errors.Is(err, artifacts.ErrInvalidProjectID) {
		t.Fatalf("invalid project err = %v, want ErrInvalidProjectID", err)
	}
}

func TestResubmitSupersedesPreviousRun(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	first, err := p.service.Submit(ctx, "widget", []byte("v1"), "")
	if err != nil {
		t.Fatalf("Submit v1: %v", err)
	}
	second, err := p.service.Submit(ctx, "widget", []byte("v2"), "")
	if err != nil {
		t.Fatalf("Submit v2: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("version = %d, want 2", second.Version)
	}

	runs, err := p.service.Runs(ctx, "widget")
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	// Newest first.
	if runs[0].RunID != second.RunID || runs[0].State != string(ledger.StatePending) {
		t.Fatalf("latest run = %+v", runs[0])
	}
	if runs[1].RunID != first.RunID || runs[1].State != string(ledger.StateSuperseded) {
		t.Fatalf("previous run = %+v", runs[1])
	}
}

func TestStatusReflectsCheck(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, err := p.service.Status(ctx, "widget"); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("status without runs err = %v, want ErrNoRuns", err)
	}

	if _, err := p.service.Submit(ctx, "widget", []byte("v1"), ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := p.store.Put(ctx, "output/widget/widget.STEP", []byte("solid"), ""); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	status, err := p.service.Check(ctx, "widget")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status.State != string(ledger.StateCompleted) {
		t.Fatalf("state = %s, want Completed", status.State)
	}
	if len(status.AvailableFormats) != 1 || status.AvailableFormats[0] != "STEP" {
		t.Fatalf("available formats = %v", status.AvailableFormats)
	}

	// Check on a terminal run is a plain read.
	again, err := p.service.Check(ctx, "widget")
	if err != nil {
		t.Fatalf("Check again: %v", err)
	}
	if again.PollCount != status.PollCount {
		t.Fatalf("terminal check polled again: %d -> %d", status.PollCount, again.PollCount)
	}
}

func TestDownloadAfterCompletion(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, err := p.service.Submit(ctx, "widget", []byte("v1"), ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, key := range []string{"output/widget/widget.STL", "output/widget/widget.STEP"} {
		if err := p.store.Put(ctx, key, []byte("solid"), ""); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	if _, err := p.service.Check(ctx, "widget"); err != nil {
		t.Fatalf("Check: %v", err)
	}

	best, err := p.service.Download(ctx, "widget", "")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if best.Format != "STEP" {
		t.Fatalf("format = %s, want STEP", best.Format)
	}
	if best.URL == "" || best.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad link: %+v", best)
	}

	mesh, err := p.service.Download(ctx, "widget", "stl")
	if err != nil {
		t.Fatalf("Download stl: %v", err)
	}
	if mesh.Format != "STL" {
		t.Fatalf("format = %s, want STL", mesh.Format)
	}

	if _, err := p.service.Download(ctx, "widget", "pdf"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("unknown format err = %v, want ErrUnknownFormat", err)
	}

	var notAvailable *resolver.NotAvailableError
	if _, err := p.service.Download(ctx, "widget", "iges"); !errors.As(err, &notAvailable) {
		t.Fatalf("missing format err = %v, want NotAvailableError", err)
	}
}

func TestScriptAndLogContent(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	script := []byte("import FreeCAD\ndoc = FreeCAD.newDocument()")
	if _, err := p.service.Submit(ctx, "widget", script, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	logKey := "logs/widget/widget_info_20260815_120000.log"
	if err := p.store.Put(ctx, logKey, []byte("conversion finished"), ""); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	content, err := p.service.ScriptContent(ctx, "widget", 1)
	if err != nil {
		t.Fatalf("ScriptContent: %v", err)
	}
	if string(content) != string(script) {
		t.Fatalf("script content = %q", content)
	}
	if _, err := p.service.ScriptContent(ctx, "widget", 9); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing version err = %v, want ErrNotFound", err)
	}

	logContent, err := p.service.LogContent(ctx, "widget", logKey)
	if err != nil {
		t.Fatalf("LogContent: %v", err)
	}
	if string(logContent) != "conversion finished" {
		t.Fatalf("log content = %q", logContent)
	}

	// Only keys in the project's log namespace are served.
	if _, err := p.service.LogContent(ctx, "widget", "input/widget/widget_v1.py"); !errors.Is(err, ErrInvalidLogKey) {
		t.Fatalf("script via log fetch err = %v, want ErrInvalidLogKey", err)
	}
	if _, err := p.service.LogContent(ctx, "widget", "logs/gear/gear_info_20260815_120000.log"); !errors.Is(err, ErrInvalidLogKey) {
		t.Fatalf("foreign log err = %v, want ErrInvalidLogKey", err)
	}
}

func TestLogsListing(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, err := p.service.Submit(ctx, "widget", []byte("v1"), ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, key := range []string{
		"logs/widget/widget_info_20260815_120000.log",
		"output/widget/widget.STEP",
	} {
		if err := p.store.Put(ctx, key, []byte("x"), ""); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	if _, err := p.service.Check(ctx, "widget"); err != nil {
		t.Fatalf("Check: %v", err)
	}

	logs, err := p.service.Logs(ctx, "widget")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].StorageKey != "logs/widget/widget_info_20260815_120000.log" {
		t.Fatalf("log key = %s", logs[0].StorageKey)
	}
}
