package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"cadpipe/internal/allocator"
	"cadpipe/internal/api"
	"cadpipe/internal/artifacts"
	"cadpipe/internal/config"
	"cadpipe/internal/ledger"
	"cadpipe/internal/logging"
	"cadpipe/internal/metrics"
	"cadpipe/internal/resolver"
	"cadpipe/internal/storage"
)

// maxScriptBytes caps one submission body. Generated build scripts are text;
// anything bigger than this is a client error.
const maxScriptBytes = 4 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, errors.New("config and daemon are required")
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/projects/", srv.handleProject)
	mux.Handle("/metrics", metrics.Handler())

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

// handleProject routes /api/projects/{project}/{action}.
func (s *apiServer) handleProject(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	project, action := parts[0], parts[1]

	svc := s.daemon.Service()
	if svc == nil {
		s.writeError(w, http.StatusServiceUnavailable, "daemon is starting")
		return
	}

	switch action {
	case "scripts":
		switch r.Method {
		case http.MethodPost:
			s.handleSubmit(w, r, svc, project)
		case http.MethodGet:
			s.handleScripts(w, r, svc, project)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "status":
		s.requireGet(w, r, func() { s.handleProjectStatus(w, r, svc, project) })
	case "download":
		s.requireGet(w, r, func() { s.handleDownload(w, r, svc, project) })
	case "runs":
		s.requireGet(w, r, func() { s.handleRuns(w, r, svc, project) })
	case "logs":
		s.requireGet(w, r, func() { s.handleLogs(w, r, svc, project) })
	case "check":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleCheck(w, r, svc, project)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) requireGet(w http.ResponseWriter, r *http.Request, next func()) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	next()
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request, svc *api.PipelineService, project string) {
	content, err := io.ReadAll(io.LimitReader(r.Body, maxScriptBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(content) > maxScriptBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "script too large")
		return
	}

	response, err := svc.Submit(r.Context(), project, content, r.Header.Get("X-Uploader-ID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, response)
}

func (s *apiServer) handleProjectStatus(w http.ResponseWriter, r *http.Request, svc *api.PipelineService, project string) {
	response, err := svc.Status(r.Context(), project)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request, svc *api.PipelineService, project string) {
	response, err := svc.Download(r.Context(), project, r.URL.Query().Get("format"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *apiServer) handleRuns(w http.ResponseWriter, r *http.Request, svc *api.PipelineService, project string) {
	runs, err := svc.Runs(r.Context(), project)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: runs})
}

// handleScripts lists submitted versions, or returns one script's content
// when ?version= is given.
func (s *apiServer) handleScripts(w http.ResponseWriter, r *http.Request, svc *api.PipelineService, project string) {
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "version must be a number")
			return
		}
		content, err := svc.ScriptContent(r.Context(), project, version)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeContent(w, "text/x-python", content)
		return
	}
	scripts, err := svc.Scripts(r.Context(), project)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ScriptListResponse{Scripts: scripts})
}

// handleLogs lists recorded worker logs, or returns one log's content when
// ?key= is given.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request, svc *api.PipelineService, project string) {
	if key := r.URL.Query().Get("key"); key != "" {
		content, err := svc.LogContent(r.Context(), project, key)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeContent(w, "text/plain; charset=utf-8", content)
		return
	}
	logs, err := svc.Logs(r.Context(), project)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.LogListResponse{Logs: logs})
}

func (s *apiServer) handleCheck(w http.ResponseWriter, r *http.Request, svc *api.PipelineService, project string) {
	response, err := svc.Check(r.Context(), project)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

// writeServiceError maps service errors onto HTTP status codes. Storage and
// unexpected errors carry provider detail in their chains; clients get a fixed
// message and the detail stays in the daemon log.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	var notAvailable *resolver.NotAvailableError
	switch {
	case errors.Is(err, api.ErrNoRuns),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &notAvailable):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, allocator.ErrVersionConflict), errors.Is(err, storage.ErrKeyExists):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, api.ErrEmptyScript),
		errors.Is(err, api.ErrUnknownFormat),
		errors.Is(err, api.ErrInvalidLogKey),
		errors.Is(err, artifacts.ErrInvalidProjectID):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUnauthorized), errors.Is(err, storage.ErrUnavailable):
		s.log().Error("storage error", logging.Error(err))
		s.writeError(w, http.StatusBadGateway, "storage unavailable")
	default:
		s.log().Error("request failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) writeContent(w http.ResponseWriter, contentType string, content []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		s.log().Error("failed to write content", logging.Error(err))
	}
}

func (s *apiServer) log() *slog.Logger {
	return logging.WithComponent(s.logger, "api-server")
}
