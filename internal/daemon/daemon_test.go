package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cadpipe/internal/api"
	"cadpipe/internal/ledger"
	"cadpipe/internal/logging"
	"cadpipe/internal/storage"
	"cadpipe/internal/testsupport"
)

func startDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)

	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	base := "http://" + d.apiServer.listener.Addr().String()
	return d, base
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body []byte, out any) int {
	t.Helper()
	resp, err := http.Post(url, "text/x-python", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestSecondDaemonRefusesLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(first.Stop)

	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New second: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second daemon started against a held lock")
	}
}

func TestSubmitStatusDownloadOverHTTP(t *testing.T) {
	d, base := startDaemon(t)

	var submitted api.SubmitResponse
	status := postJSON(t, base+"/api/projects/widget/scripts", []byte("import FreeCAD"), &submitted)
	if status != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", status)
	}
	if submitted.Version != 1 || submitted.State != string(ledger.StatePending) {
		t.Fatalf("submit response = %+v", submitted)
	}

	var projectStatus api.StatusResponse
	if code := getJSON(t, base+"/api/projects/widget/status", &projectStatus); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if projectStatus.Version != 1 {
		t.Fatalf("status = %+v", projectStatus)
	}

	// Simulate the worker finishing.
	ctx := context.Background()
	if err := d.store.Put(ctx, "output/widget/widget.STEP", []byte("solid"), ""); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	var checked api.StatusResponse
	if code := postJSON(t, base+"/api/projects/widget/check", nil, &checked); code != http.StatusOK {
		t.Fatalf("check code = %d", code)
	}
	if checked.State != string(ledger.StateCompleted) {
		t.Fatalf("state after check = %s, want Completed", checked.State)
	}

	var download api.DownloadResponse
	if code := getJSON(t, base+"/api/projects/widget/download", &download); code != http.StatusOK {
		t.Fatalf("download code = %d", code)
	}
	if download.Format != "STEP" || download.URL == "" {
		t.Fatalf("download = %+v", download)
	}
	if download.ExpiresAt.Before(time.Now()) {
		t.Fatalf("link already expired: %v", download.ExpiresAt)
	}

	// Stored script content comes back verbatim.
	resp, err := http.Get(base + "/api/projects/widget/scripts?version=1")
	if err != nil {
		t.Fatalf("GET script content: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read script content: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(body) != "import FreeCAD" {
		t.Fatalf("script content = %d %q", resp.StatusCode, body)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	_, base := startDaemon(t)

	if code := getJSON(t, base+"/api/projects/ghost/status", nil); code != http.StatusNotFound {
		t.Fatalf("unknown project status code = %d, want 404", code)
	}
	if code := postJSON(t, base+"/api/projects/widget/scripts", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("empty submit code = %d, want 400", code)
	}
	if code := getJSON(t, base+"/api/projects/bad..id/status", nil); code != http.StatusBadRequest {
		t.Fatalf("invalid id code = %d, want 400", code)
	}
	if code := getJSON(t, base+"/api/projects/ghost/download", nil); code != http.StatusNotFound {
		t.Fatalf("download without outputs code = %d, want 404", code)
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
}

func TestServiceErrorsAreSanitized(t *testing.T) {
	srv := &apiServer{logger: logging.NewNop()}

	cases := []struct {
		err        error
		wantStatus int
		wantBody   string
	}{
		{fmt.Errorf("list outputs: %w: googleapi 503 backend error", storage.ErrUnavailable), http.StatusBadGateway, "storage unavailable"},
		{fmt.Errorf("sign: %w: service account detail", storage.ErrUnauthorized), http.StatusBadGateway, "storage unavailable"},
		{errors.New("sqlite: disk I/O error at /var/lib/cadpipe"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		recorder := httptest.NewRecorder()
		srv.writeServiceError(recorder, tc.err)
		if recorder.Code != tc.wantStatus {
			t.Errorf("status for %v = %d, want %d", tc.err, recorder.Code, tc.wantStatus)
		}
		var body map[string]string
		if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["error"] != tc.wantBody {
			t.Errorf("body for %v = %q, want %q", tc.err, body["error"], tc.wantBody)
		}
	}
}

func TestDaemonStatusEndpoint(t *testing.T) {
	_, base := startDaemon(t)

	var status api.DaemonStatus
	if code := getJSON(t, base+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !status.Running || status.PID == 0 || status.LedgerPath == "" {
		t.Fatalf("daemon status = %+v", status)
	}

	if code := postJSON(t, fmt.Sprintf("%s/api/projects/widget/scripts", base), []byte("x"), nil); code != http.StatusCreated {
		t.Fatalf("submit code = %d", code)
	}
	if code := getJSON(t, base+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.ActiveRuns != 1 || status.Projects != 1 {
		t.Fatalf("daemon status after submit = %+v", status)
	}
}
