package api

import (
	"net/http"
	"strings"

	"github.com/c360studio/semgraph/export"
	"github.com/c360studio/semgraph/graph"
)

// VocabularyResponse is the body for GET /vocabulary.
type VocabularyResponse struct {
	Types []graph.RelType `json:"types"`
}

func (s *Server) handleVocabulary(w http.ResponseWriter, r *http.Request) {
	types, err := s.graph.Vocabulary(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, VocabularyResponse{Types: types})
}

// AddRelTypeRequest is the body for POST /vocabulary/types.
type AddRelTypeRequest struct {
	RelType     string `json:"rel_type"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleAddRelType(w http.ResponseWriter, r *http.Request) {
	var req AddRelTypeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}

	name := strings.ToUpper(strings.TrimSpace(req.RelType))
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "validation", "rel_type is required")
		return
	}

	rt := graph.RelType{Name: name, Description: req.Description, IsActive: true}
	if err := s.graph.AddRelType(r.Context(), rt); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rt)
}

// MergeRelTypesRequest is the body for POST /vocabulary/merge.
type MergeRelTypesRequest struct {
	Loser  string `json:"loser"`
	Winner string `json:"winner"`
}

func (s *Server) handleMergeRelTypes(w http.ResponseWriter, r *http.Request) {
	var req MergeRelTypesRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}
	if req.Loser == "" || req.Winner == "" {
		s.writeError(w, http.StatusBadRequest, "validation", "loser and winner are required")
		return
	}
	if req.Loser == req.Winner {
		s.writeError(w, http.StatusBadRequest, "validation", "loser and winner must differ")
		return
	}

	if err := s.graph.MergeRelTypes(r.Context(), req.Loser, req.Winner); err != nil {
		s.writeFailure(w, err)
		return
	}

	resolved, _, err := s.graph.ResolveRelType(r.Context(), req.Loser)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"loser":       req.Loser,
		"winner":      req.Winner,
		"resolves_to": resolved,
	})
}

// OntologiesResponse is the body for GET /ontologies.
type OntologiesResponse struct {
	Ontologies []graph.OntologyInfo `json:"ontologies"`
}

func (s *Server) handleListOntologies(w http.ResponseWriter, r *http.Request) {
	list, err := s.graph.ListOntologies(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if list == nil {
		list = []graph.OntologyInfo{}
	}
	s.writeJSON(w, http.StatusOK, OntologiesResponse{Ontologies: list})
}

// OntologyResponse is the body for GET /ontologies/{name}.
type OntologyResponse struct {
	graph.OntologyInfo
	Documents []graph.DocumentMeta `json:"documents"`
}

func (s *Server) handleGetOntology(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	info, err := s.graph.GetOntology(r.Context(), name)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	docs, err := s.graph.OntologyDocuments(r.Context(), name)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if docs == nil {
		docs = []graph.DocumentMeta{}
	}
	s.writeJSON(w, http.StatusOK, OntologyResponse{OntologyInfo: info, Documents: docs})
}

// exportEvidenceLimit caps the evidence quotes exported per concept.
const exportEvidenceLimit = 5

func (s *Server) handleExportOntology(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	exporter := export.New(s.graph, export.Options{EvidenceLimit: exportEvidenceLimit})
	doc, err := exporter.Export(r.Context(), r.PathValue("name"), format)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	info := export.Formats[format]
	w.Header().Set("Content-Type", info.MediaType+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleDeleteOntology(w http.ResponseWriter, r *http.Request) {
	counts, err := s.graph.DeleteOntology(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

// HealthResponse reports component reachability.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Components: map[string]string{}}

	if err := s.graph.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Components["graph"] = err.Error()
	} else {
		resp.Components["graph"] = "ok"
	}

	if _, err := s.queue.Depth(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Components["queue"] = err.Error()
	} else {
		resp.Components["queue"] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// StatsResponse is the body for GET /stats.
type StatsResponse struct {
	Graph      graph.Stats `json:"graph"`
	QueueDepth int         `json:"queue_depth"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.graph.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{Graph: stats, QueueDepth: depth})
}

// ReconcileRequest is the optional body for POST /admin/reconcile.
type ReconcileRequest struct {
	Ontology string `json:"ontology,omitempty"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if r.ContentLength > 0 {
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.badBody(w, err)
			return
		}
	}

	result, err := s.sweeper.Reconcile(r.Context(), req.Ontology)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
