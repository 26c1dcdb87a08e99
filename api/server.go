// Package api is the HTTP surface: ingestion submissions, job lifecycle
// with an SSE progress stream, semantic queries, vocabulary and ontology
// administration, health and metrics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/c360studio/semgraph/graph"
	"github.com/c360studio/semgraph/jobs"
	"github.com/c360studio/semgraph/llm"
	"github.com/c360studio/semgraph/metrics"
	"github.com/c360studio/semgraph/query"
	"github.com/c360studio/semgraph/scheduler"
)

// principalHeader carries the caller identity. Ownership checks key off it;
// real authentication lives in front of this service.
const principalHeader = "X-User-ID"

const anonymousPrincipal = "anonymous"

// Config tunes the HTTP surface.
type Config struct {
	// MaxUploadBytes caps multipart and JSON request bodies.
	MaxUploadBytes int64

	// RequirePrincipal rejects requests without X-User-ID instead of
	// attributing them to "anonymous".
	RequirePrincipal bool

	// StreamHeartbeat is the SSE keepalive interval.
	StreamHeartbeat time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes:  25 << 20,
		StreamHeartbeat: 30 * time.Second,
	}
}

// Server wires the service components to HTTP routes.
type Server struct {
	scheduler *scheduler.Scheduler
	sweeper   *scheduler.Sweeper
	engine    *query.Engine
	hub       *jobs.Hub
	queue     *jobs.Queue
	graph     graph.Store
	metrics   *metrics.Metrics
	cfg       Config
	logger    *slog.Logger
}

// New creates a Server. metrics may be nil.
func New(sched *scheduler.Scheduler, sweeper *scheduler.Sweeper, engine *query.Engine, hub *jobs.Hub, queue *jobs.Queue, graphStore graph.Store, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = def.StreamHeartbeat
	}
	return &Server{
		scheduler: sched,
		sweeper:   sweeper,
		engine:    engine,
		hub:       hub,
		queue:     queue,
		graph:     graphStore,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

// Routes returns the fully wired mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST /ingest", s.instrument("ingest", s.handleIngestMultipart))
	mux.Handle("POST /ingest/text", s.instrument("ingest_text", s.handleIngestText))
	mux.Handle("POST /ingest/url", s.instrument("ingest_url", s.handleIngestURL))
	mux.Handle("POST /ingest/image", s.instrument("ingest_image", s.handleIngestImage))
	mux.Handle("GET /ingest/formats", s.instrument("ingest_formats", s.handleFormats))

	mux.Handle("GET /jobs", s.instrument("jobs_list", s.handleListJobs))
	mux.Handle("GET /jobs/{id}", s.instrument("jobs_get", s.handleGetJob))
	mux.Handle("GET /jobs/{id}/stream", http.HandlerFunc(s.handleStream))
	mux.Handle("POST /jobs/{id}/approve", s.instrument("jobs_approve", s.handleApprove))
	mux.Handle("POST /jobs/{id}/reject", s.instrument("jobs_reject", s.handleReject))
	mux.Handle("POST /jobs/{id}/cancel", s.instrument("jobs_cancel", s.handleCancel))
	mux.Handle("DELETE /jobs/{id}", s.instrument("jobs_delete", s.handleDeleteJob))

	mux.Handle("POST /search", s.instrument("search", s.handleSearch))
	mux.Handle("GET /concepts/{id}", s.instrument("concepts_get", s.handleConcept))
	mux.Handle("POST /related", s.instrument("related", s.handleRelated))
	mux.Handle("POST /connect", s.instrument("connect", s.handleConnect))
	mux.Handle("POST /connect-by-search", s.instrument("connect_by_search", s.handleConnectBySearch))

	mux.Handle("GET /vocabulary", s.instrument("vocabulary_list", s.handleVocabulary))
	mux.Handle("POST /vocabulary/types", s.instrument("vocabulary_add", s.handleAddRelType))
	mux.Handle("POST /vocabulary/merge", s.instrument("vocabulary_merge", s.handleMergeRelTypes))

	mux.Handle("GET /ontologies", s.instrument("ontologies_list", s.handleListOntologies))
	mux.Handle("GET /ontologies/{name}", s.instrument("ontologies_get", s.handleGetOntology))
	mux.Handle("GET /ontologies/{name}/export", s.instrument("ontologies_export", s.handleExportOntology))
	mux.Handle("DELETE /ontologies/{name}", s.instrument("ontologies_delete", s.handleDeleteOntology))

	mux.Handle("GET /health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /stats", s.instrument("stats", s.handleStats))
	mux.Handle("POST /admin/reconcile", s.instrument("admin_reconcile", s.handleReconcile))
	mux.Handle("GET /metrics", s.metrics.Handler())

	return mux
}

// statusRecorder captures the response code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.ObserveHTTP(route, strconv.Itoa(rec.status), time.Since(start))
	})
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeFailure maps domain errors onto the HTTP taxonomy.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var (
		transition *jobs.TransitionError
		maxBytes   *http.MaxBytesError
	)
	switch {
	case scheduler.IsValidation(err) || query.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
	case scheduler.IsForbidden(err):
		s.writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case query.IsNoMatch(err):
		s.writeError(w, http.StatusNotFound, "no_match", err.Error())
	case errors.Is(err, jobs.ErrNotFound) || errors.Is(err, graph.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &transition):
		s.writeError(w, http.StatusConflict, "wrong_state", err.Error())
	case errors.As(err, &maxBytes):
		s.writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
	case llm.IsTransient(err):
		s.writeError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
	default:
		s.logger.Error("Request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// principal resolves the caller identity, writing a 401 when required and
// missing. The bool reports whether handling may continue.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := r.Header.Get(principalHeader)
	if p != "" {
		return p, true
	}
	if s.cfg.RequirePrincipal {
		s.writeError(w, http.StatusUnauthorized, "unauthorized", principalHeader+" header is required")
		return "", false
	}
	return anonymousPrincipal, true
}

// decodeJSON reads a size-capped JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// badBody reports a body that failed to parse, distinguishing oversized
// payloads from malformed ones.
func (s *Server) badBody(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		s.writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		return
	}
	s.writeError(w, http.StatusBadRequest, "validation", "invalid request body: "+err.Error())
}
