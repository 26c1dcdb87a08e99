package api

import (
	"net/http"

	"github.com/c360studio/semgraph/query"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req query.SearchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}

	result, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConcept(w http.ResponseWriter, r *http.Request) {
	details, err := s.engine.Details(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	var req query.RelatedRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}

	result, err := s.engine.Related(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req query.ConnectRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}

	result, err := s.engine.Connect(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConnectBySearch(w http.ResponseWriter, r *http.Request) {
	var req query.ConnectBySearchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}

	result, err := s.engine.ConnectBySearch(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
