package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmax-ai/elementd/pkg/engine"
	"github.com/rmax-ai/elementd/pkg/executor"
	"github.com/rmax-ai/elementd/pkg/graph"
	"github.com/rmax-ai/elementd/pkg/store"
)

// Server exposes the graph and run lifecycle over HTTP. It owns no
// business rules: validation lives in the executor, admission in the
// controller and persistence behind the repository interface.
type Server struct {
	repo       store.Repository
	exec       *executor.Executor
	admission  *engine.AdmissionController
	dispatcher *engine.Dispatcher
	server     *http.Server
}

// NewServer wires the HTTP routes.
func NewServer(repo store.Repository, exec *executor.Executor, admission *engine.AdmissionController, dispatcher *engine.Dispatcher, addr string) *Server {
	s := &Server{
		repo:       repo,
		exec:       exec,
		admission:  admission,
		dispatcher: dispatcher,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/graphs", s.handleGraphs)
	mux.HandleFunc("/v1/graphs/", s.handleGraphByID)
	mux.HandleFunc("/v1/runs/", s.handleRunByID)

	handler := withLogging(withRecovery(mux))

	if addr == "" {
		addr = ":8091"
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server (blocking).
func (s *Server) Start() error {
	log.Printf("api server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGraphs serves GET (list) and POST (create) on /v1/graphs.
func (s *Server) handleGraphs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := store.GraphFilter{
			TenantID:    r.URL.Query().Get("tenant_id"),
			WorkspaceID: r.URL.Query().Get("workspace_id"),
		}
		graphs, err := s.repo.ListGraphs(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list graphs")
			log.Printf("list graphs: %v", err)
			return
		}
		if graphs == nil {
			graphs = []*graph.Graph{}
		}
		writeJSON(w, http.StatusOK, graphs)

	case http.MethodPost:
		req, ok := decodeGraphRequest(w, r)
		if !ok {
			return
		}
		created, err := s.repo.CreateGraph(r.Context(), req.toGraph())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create graph")
			log.Printf("create graph: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleGraphByID serves /v1/graphs/{id}, /v1/graphs/{id}/execute and
// /v1/graphs/{id}/runs.
func (s *Server) handleGraphByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/graphs/")
	graphID, action, _ := strings.Cut(rest, "/")
	if graphID == "" {
		writeError(w, http.StatusBadRequest, "missing graph id")
		return
	}

	switch action {
	case "":
		s.handleGraph(w, r, graphID)
	case "execute":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleExecute(w, r, graphID)
	case "runs":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleListRuns(w, r, graphID)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request, graphID string) {
	switch r.Method {
	case http.MethodGet:
		g, err := s.repo.GetGraph(r.Context(), graphID)
		if err != nil {
			respondRepoError(w, err, "graph")
			return
		}
		writeJSON(w, http.StatusOK, g)

	case http.MethodPut:
		req, ok := decodeGraphRequest(w, r)
		if !ok {
			return
		}
		updated, err := s.repo.UpdateGraph(r.Context(), graphID, req.toGraph())
		if err != nil {
			respondRepoError(w, err, "graph")
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		if err := s.repo.DeleteGraph(r.Context(), graphID); err != nil {
			respondRepoError(w, err, "graph")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleExecute validates the graph, passes admission control, creates
// a queued run and hands it to the dispatcher. The 202 response
// precedes execution; outcomes are observed by polling the run.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, graphID string) {
	g, err := s.repo.GetGraph(r.Context(), graphID)
	if err != nil {
		respondRepoError(w, err, "graph")
		return
	}

	var req ExecuteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	overrides := make(graph.Overrides, len(req.Overrides))
	for nodeID, override := range req.Overrides {
		overrides[nodeID] = override.Props
	}

	if err := s.exec.Validate(g); err != nil {
		var verr *executor.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to validate graph")
		log.Printf("validate graph %s: %v", graphID, err)
		return
	}

	run, err := s.admission.AdmitAndCreate(r.Context(), g)
	if err != nil {
		var cerr *engine.CapacityError
		if errors.As(err, &cerr) {
			writeError(w, http.StatusTooManyRequests, cerr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create run")
		log.Printf("admit run for graph %s: %v", graphID, err)
		return
	}

	if err := s.dispatcher.Enqueue(run, g, overrides); err != nil {
		// The run exists but cannot execute; fail it so the slot is
		// not occupied forever.
		if _, uerr := s.repo.UpdateRun(r.Context(), run.ID, graph.RunFailed, nil, err.Error()); uerr != nil {
			log.Printf("run %s: failed to mark undispatchable: %v", run.ID, uerr)
		}
		writeError(w, http.StatusServiceUnavailable, "execution backlog is full")
		return
	}

	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request, graphID string) {
	if _, err := s.repo.GetGraph(r.Context(), graphID); err != nil {
		respondRepoError(w, err, "graph")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	runs, err := s.repo.ListRuns(r.Context(), graphID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		log.Printf("list runs for graph %s: %v", graphID, err)
		return
	}
	if runs == nil {
		runs = []*graph.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	run, err := s.repo.GetRun(r.Context(), runID)
	if err != nil {
		respondRepoError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (r *GraphRequest) toGraph() *graph.Graph {
	return &graph.Graph{
		Name:        r.Name,
		TenantID:    r.TenantID,
		WorkspaceID: r.WorkspaceID,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
		Metadata:    r.Metadata,
	}
}

func decodeGraphRequest(w http.ResponseWriter, r *http.Request) (*GraphRequest, bool) {
	var req GraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if req.Name == "" || req.TenantID == "" || req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "name, tenant_id and workspace_id are required")
		return nil, false
	}
	return &req, true
}

func respondRepoError(w http.ResponseWriter, err error, kind string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "storage error")
	log.Printf("storage error: %v", err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// Middleware: Panic Recovery
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("panic recovered: %v (path %s)", err, r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Printf("http %s %s status=%d duration_ms=%d", r.Method, r.URL.Path, ww.status, time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
