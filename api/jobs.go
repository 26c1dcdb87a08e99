package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/c360studio/semgraph/jobs"
)

// ListJobsResponse is the body for GET /jobs.
type ListJobsResponse struct {
	Jobs  []*jobs.Job `json:"jobs"`
	Total int         `json:"total"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	filter := jobs.Filter{
		Status:   jobs.Status(r.URL.Query().Get("status")),
		Ontology: r.URL.Query().Get("ontology"),
		Type:     jobs.Type(r.URL.Query().Get("type")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "validation", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	list, err := s.scheduler.List(r.Context(), principal, filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	s.writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: list, Total: len(list)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, err := s.scheduler.Get(r.Context(), r.PathValue("id"), principal)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, err := s.scheduler.Approve(r.Context(), r.PathValue("id"), principal)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// reasonRequest is the optional body for reject and cancel.
type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) readReason(w http.ResponseWriter, r *http.Request) string {
	if r.ContentLength == 0 {
		return ""
	}
	var req reasonRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		return ""
	}
	return req.Reason
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, err := s.scheduler.Reject(r.Context(), r.PathValue("id"), principal, s.readReason(w, r))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, err := s.scheduler.Cancel(r.Context(), r.PathValue("id"), principal, s.readReason(w, r))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	if err := s.scheduler.Delete(r.Context(), r.PathValue("id"), principal); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SSE event types for the job stream.
const (
	sseEventSnapshot  = "snapshot"
	sseEventProgress  = "progress"
	sseEventStatus    = "status"
	sseEventTerminal  = "terminal"
	sseEventHeartbeat = "heartbeat"
)

// handleStream handles GET /jobs/{id}/stream. It sends a snapshot of the
// job, then progress and status deltas, and closes after the terminal
// event. Heartbeats keep idle proxies from dropping the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, err := s.scheduler.Get(r.Context(), r.PathValue("id"), principal)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.writeError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	// Subscribe before the snapshot so no delta falls in between.
	events, cancel := s.hub.Subscribe(job.ID)
	defer cancel()

	var eventID uint64

	send := func(eventType string, data any) error {
		eventID++
		return writeSSE(w, flusher, eventID, eventType, data)
	}

	if err := send(sseEventSnapshot, job); err != nil {
		return
	}
	if job.Status.Terminal() {
		_ = send(sseEventTerminal, job)
		return
	}

	heartbeat := time.NewTicker(s.cfg.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if err := send(sseEventHeartbeat, map[string]any{}); err != nil {
				s.logger.Debug("Stream client disconnected", "job_id", job.ID)
				return
			}

		case event, open := <-events:
			if !open {
				// Dropped as a slow subscriber.
				return
			}
			switch event.Kind {
			case jobs.EventTerminal:
				_ = send(sseEventTerminal, event.Job)
				return
			case jobs.EventStatus:
				if err := send(sseEventStatus, event.Job); err != nil {
					return
				}
			default:
				if err := send(sseEventProgress, event.Job); err != nil {
					return
				}
			}
		}
	}
}

// writeSSE writes one framed server-sent event and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, id uint64, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil // not a connection failure
	}
	if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", eventType, id, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
