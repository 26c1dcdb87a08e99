package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/c360studio/semgraph/ingest"
	"github.com/c360studio/semgraph/jobs"
	"github.com/c360studio/semgraph/scheduler"
)

// SubmitResponse reports a submission outcome. Existing is true when the
// same content was already submitted and no new job was created.
type SubmitResponse struct {
	JobID    string         `json:"job_id"`
	Status   jobs.Status    `json:"status"`
	Existing bool           `json:"existing,omitempty"`
	Analysis *jobs.Analysis `json:"analysis,omitempty"`
}

func (s *Server) writeSubmitResult(w http.ResponseWriter, result *scheduler.SubmitResult) {
	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	s.writeJSON(w, status, SubmitResponse{
		JobID:    result.Job.ID,
		Status:   result.Job.Status,
		Existing: result.Existing,
		Analysis: result.Job.Analysis,
	})
}

// handleIngestMultipart handles POST /ingest: a multipart form carrying
// either a "file" part or a "text" field, plus submission options.
func (s *Server) handleIngestMultipart(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		s.badBody(w, err)
		return
	}

	req := scheduler.SubmitRequest{
		Ontology:  r.FormValue("ontology"),
		Principal: principal,
		Options:   formOptions(r),
		Metadata:  formMetadata(r),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			s.badBody(w, err)
			return
		}
		req.Content = content
		req.Filename = header.Filename
		if ingest.DetectFormat(header.Filename) == ingest.FormatImage {
			req.Type = jobs.TypeImage
		} else {
			req.Type = jobs.TypeFile
		}
	case errors.Is(err, http.ErrMissingFile):
		req.Type = jobs.TypeText
		req.Content = []byte(r.FormValue("text"))
		req.Filename = r.FormValue("filename")
	default:
		s.badBody(w, err)
		return
	}

	result, err := s.scheduler.Submit(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeSubmitResult(w, result)
}

// IngestTextRequest is the body for POST /ingest/text.
type IngestTextRequest struct {
	Text     string            `json:"text"`
	Ontology string            `json:"ontology"`
	Filename string            `json:"filename,omitempty"`
	Options  jobs.Options      `json:"options,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req IngestTextRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}

	result, err := s.scheduler.Submit(r.Context(), scheduler.SubmitRequest{
		Type:      jobs.TypeText,
		Content:   []byte(req.Text),
		Filename:  req.Filename,
		Ontology:  req.Ontology,
		Principal: principal,
		Options:   req.Options,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeSubmitResult(w, result)
}

// IngestURLRequest is the body for POST /ingest/url.
type IngestURLRequest struct {
	URL      string            `json:"url"`
	Ontology string            `json:"ontology"`
	Options  jobs.Options      `json:"options,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req IngestURLRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}

	result, err := s.scheduler.Submit(r.Context(), scheduler.SubmitRequest{
		Type:      jobs.TypeURL,
		URL:       req.URL,
		Ontology:  req.Ontology,
		Principal: principal,
		Options:   req.Options,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeSubmitResult(w, result)
}

// handleIngestImage handles POST /ingest/image: a multipart form with a
// required "file" part.
func (s *Server) handleIngestImage(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		s.badBody(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", "file part is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.badBody(w, err)
		return
	}

	result, err := s.scheduler.Submit(r.Context(), scheduler.SubmitRequest{
		Type:      jobs.TypeImage,
		Content:   content,
		Filename:  header.Filename,
		Ontology:  r.FormValue("ontology"),
		Principal: principal,
		Options:   formOptions(r),
		Metadata:  formMetadata(r),
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeSubmitResult(w, result)
}

// FormatsResponse lists the accepted input formats and their extensions.
type FormatsResponse struct {
	Formats []FormatInfo `json:"formats"`
}

// FormatInfo describes one accepted input format.
type FormatInfo struct {
	Format     string   `json:"format"`
	Extensions []string `json:"extensions"`
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, FormatsResponse{Formats: []FormatInfo{
		{Format: string(ingest.FormatText), Extensions: []string{".txt"}},
		{Format: string(ingest.FormatMarkdown), Extensions: []string{".md", ".markdown"}},
		{Format: string(ingest.FormatHTML), Extensions: []string{".html", ".htm"}},
		{Format: string(ingest.FormatImage), Extensions: []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}},
	}})
}

// formOptions parses submission options from multipart form fields.
func formOptions(r *http.Request) jobs.Options {
	opts := jobs.Options{
		Force:       formBool(r, "force"),
		AutoApprove: formBool(r, "auto_approve"),
	}
	if v, err := strconv.Atoi(r.FormValue("target_tokens")); err == nil && v > 0 {
		opts.TargetTokens = v
	}
	if v, err := strconv.Atoi(r.FormValue("overlap_tokens")); err == nil && v > 0 {
		opts.OverlapTokens = v
	}
	if raw := r.FormValue("vocab_expansion"); raw != "" {
		v := raw == "true" || raw == "1"
		opts.VocabExpansion = &v
	}
	return opts
}

func formBool(r *http.Request, field string) bool {
	v := r.FormValue(field)
	return v == "true" || v == "1"
}

// formMetadata collects metadata_* form fields into the job metadata map.
func formMetadata(r *http.Request) map[string]string {
	if r.MultipartForm == nil {
		return nil
	}
	var meta map[string]string
	for key, values := range r.MultipartForm.Value {
		const prefix = "metadata_"
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix || len(values) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[key[len(prefix):]] = values[0]
	}
	return meta
}
