// Package scheduler is the ingestion control plane: submit with synchronous
// analysis, the approval gate, cancellation, the worker pool, and the
// cleanup and reconciliation sweeps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semgraph/graph"
	"github.com/c360studio/semgraph/ingest"
	"github.com/c360studio/semgraph/jobs"
)

// dedupStatuses are the job states a duplicate submit collides with.
var dedupStatuses = []jobs.Status{
	jobs.StatusCompleted,
	jobs.StatusProcessing,
	jobs.StatusAwaitingApproval,
	jobs.StatusApproved,
}

// SubmitRequest carries one ingestion submission.
type SubmitRequest struct {
	Type      jobs.Type
	Content   []byte
	Filename  string
	URL       string
	Ontology  string
	Principal string
	Options   jobs.Options
	Metadata  map[string]string
}

// SubmitResult is the submit outcome. Existing is true when dedup matched a
// prior job and no new job was created.
type SubmitResult struct {
	Job      *jobs.Job
	Existing bool
}

// Scheduler owns job lifecycle decisions.
type Scheduler struct {
	store   *jobs.Store
	queue   *jobs.Queue
	hub     *jobs.Hub
	graph   graph.Store
	parser  *ingest.Parser
	fetcher *ingest.Fetcher
	cfg     Config
	logger  *slog.Logger
}

// New creates a Scheduler.
func New(store *jobs.Store, queue *jobs.Queue, hub *jobs.Hub, graphStore graph.Store, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		queue:   queue,
		hub:     hub,
		graph:   graphStore,
		parser:  ingest.NewParser(),
		fetcher: ingest.NewFetcher(0, "", 0),
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Submit validates and analyzes a submission, persists content, and leaves
// the job awaiting approval (or approved and enqueued with auto_approve).
// Analysis is synchronous and never calls the LLM.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Principal == "" {
		return nil, NewValidationError("principal", "required")
	}
	if req.Ontology == "" {
		return nil, NewValidationError("ontology", "required")
	}
	if !req.Type.IsValid() {
		return nil, NewValidationError("job_type", fmt.Sprintf("unknown type %q", req.Type))
	}

	var (
		content  []byte // canonical bytes persisted to the content store
		hash     string
		analysis *jobs.Analysis
		title    string
		err      error
	)

	switch req.Type {
	case jobs.TypeImage:
		content, hash, analysis, err = s.prepareImage(req)
	case jobs.TypeURL:
		content, hash, analysis, title, err = s.prepareURL(ctx, &req)
	default:
		content, hash, analysis, title, err = s.prepareText(req)
	}
	if err != nil {
		return nil, err
	}

	if !req.Options.Force {
		existing, err := s.store.FindByContentHash(ctx, hash, req.Principal, req.Ontology, dedupStatuses)
		if err == nil {
			s.logger.Info("Duplicate submission matched existing job",
				"job_id", existing.ID,
				"content_hash", hash)
			return &SubmitResult{Job: existing, Existing: true}, nil
		}
		if !errors.Is(err, jobs.ErrNotFound) {
			return nil, err
		}
	}

	job := jobs.NewJob(req.Type, req.Principal, req.Ontology)
	job.ContentHash = hash
	job.Filename = req.Filename
	job.SourceURL = req.URL
	job.Analysis = analysis
	job.Options = req.Options
	job.Metadata = req.Metadata
	if job.Filename == "" && title != "" {
		job.Filename = title
	}

	ref, err := s.store.PutContent(ctx, job.ID, content)
	if err != nil {
		return nil, err
	}
	job.ContentRef = ref

	expires := time.Now().UTC().Add(s.cfg.ApprovalTimeout)
	job.ExpiresAt = &expires

	if req.Options.AutoApprove {
		if err := job.SetStatus(jobs.StatusApproved, "auto", "auto_approve"); err != nil {
			return nil, err
		}
	} else {
		if err := job.SetStatus(jobs.StatusAwaitingApproval, "", ""); err != nil {
			return nil, err
		}
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	if job.Status == jobs.StatusApproved {
		if err := s.queue.Publish(ctx, job.ID); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Job submitted",
		"job_id", job.ID,
		"job_type", job.Type,
		"status", job.Status,
		"ontology", job.Ontology,
		"chunks", analysis.ChunkCount)

	return &SubmitResult{Job: job}, nil
}

func (s *Scheduler) prepareText(req SubmitRequest) ([]byte, string, *jobs.Analysis, string, error) {
	if len(req.Content) == 0 {
		return nil, "", nil, "", NewValidationError("content", "empty document")
	}

	filename := req.Filename
	if filename == "" {
		filename = "submitted.md"
	}

	doc, err := s.parser.Parse(filename, req.Content)
	if err != nil {
		return nil, "", nil, "", NewValidationError("content", err.Error())
	}
	if doc.Text == "" {
		return nil, "", nil, "", NewValidationError("content", "document has no extractable text")
	}

	analysis := s.AnalyzeText(doc.Text, doc.Hash, string(doc.Format), req.Options)
	return []byte(doc.Text), doc.Hash, analysis, doc.Title, nil
}

func (s *Scheduler) prepareImage(req SubmitRequest) ([]byte, string, *jobs.Analysis, error) {
	mediaType, err := ingest.ValidateImage(req.Content)
	if err != nil {
		return nil, "", nil, NewValidationError("content", err.Error())
	}

	hash := graph.HashContent(req.Content)
	analysis := s.AnalyzeImage(int64(len(req.Content)), hash, mediaType)
	return req.Content, hash, analysis, nil
}

func (s *Scheduler) prepareURL(ctx context.Context, req *SubmitRequest) ([]byte, string, *jobs.Analysis, string, error) {
	if req.URL == "" {
		return nil, "", nil, "", NewValidationError("url", "required")
	}

	result, err := s.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return nil, "", nil, "", NewValidationError("url", err.Error())
	}

	converted, err := s.parser.Converter().ConvertFromURL(result.Body, req.URL)
	if err != nil {
		return nil, "", nil, "", fmt.Errorf("convert fetched page: %w", err)
	}
	if converted.Markdown == "" {
		return nil, "", nil, "", NewValidationError("url", "page has no extractable text")
	}

	text, err := ingest.NormalizeText([]byte(converted.Markdown))
	if err != nil {
		return nil, "", nil, "", fmt.Errorf("normalize fetched page: %w", err)
	}

	hash := graph.HashContent([]byte(text))
	analysis := s.AnalyzeText(text, hash, string(ingest.FormatHTML), req.Options)
	return []byte(text), hash, analysis, converted.Title, nil
}

// Approve moves an awaiting job to approved and enqueues it. Returns
// TransitionError for any other state (the HTTP layer maps it to 409).
func (s *Scheduler) Approve(ctx context.Context, id, principal string) (*jobs.Job, error) {
	if err := s.checkOwner(ctx, id, principal); err != nil {
		return nil, err
	}

	job, err := s.store.Transition(ctx, id, jobs.StatusApproved, principal, "")
	if err != nil {
		return nil, err
	}

	if err := s.queue.Publish(ctx, job.ID); err != nil {
		return nil, err
	}

	s.hub.Publish(job.ID, jobs.Event{Kind: jobs.EventStatus, Job: job})
	s.logger.Info("Job approved", "job_id", job.ID, "approved_by", principal)
	return job, nil
}

// Reject declines an awaiting job.
func (s *Scheduler) Reject(ctx context.Context, id, principal, reason string) (*jobs.Job, error) {
	if err := s.checkOwner(ctx, id, principal); err != nil {
		return nil, err
	}

	job, err := s.store.Transition(ctx, id, jobs.StatusRejected, principal, reason)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(job.ID, jobs.Event{Kind: jobs.EventTerminal, Job: job})
	s.logger.Info("Job rejected", "job_id", job.ID, "reason", reason)
	return job, nil
}

// Cancel stops a job. Jobs not yet processing cancel immediately; a
// processing job gets a cooperative flag the pipeline observes at the next
// chunk boundary. Terminal jobs yield TransitionError.
func (s *Scheduler) Cancel(ctx context.Context, id, principal, reason string) (*jobs.Job, error) {
	if err := s.checkOwner(ctx, id, principal); err != nil {
		return nil, err
	}

	job, _, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status == jobs.StatusProcessing {
		updated, err := s.store.Mutate(ctx, id, func(j *jobs.Job) error {
			if j.Status != jobs.StatusProcessing {
				return j.SetStatus(jobs.StatusCancelled, principal, reason)
			}
			j.CancelRequested = true
			j.UpdatedAt = time.Now().UTC()
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("Cancellation requested for running job", "job_id", id)
		return updated, nil
	}

	updated, err := s.store.Transition(ctx, id, jobs.StatusCancelled, principal, reason)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(id, jobs.Event{Kind: jobs.EventTerminal, Job: updated})
	s.logger.Info("Job cancelled", "job_id", id)
	return updated, nil
}

// Delete cancels a running job or purges a terminal one.
func (s *Scheduler) Delete(ctx context.Context, id, principal string) error {
	if err := s.checkOwner(ctx, id, principal); err != nil {
		return err
	}

	job, _, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if !job.Status.Terminal() {
		_, err := s.Cancel(ctx, id, principal, "deleted")
		return err
	}

	return s.store.Delete(ctx, id)
}

// Get returns a job, enforcing ownership.
func (s *Scheduler) Get(ctx context.Context, id, principal string) (*jobs.Job, error) {
	job, _, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Principal != principal {
		return nil, &ForbiddenError{JobID: id, Principal: principal}
	}
	return job, nil
}

// List returns the principal's jobs matching the filter.
func (s *Scheduler) List(ctx context.Context, principal string, filter jobs.Filter) ([]*jobs.Job, error) {
	filter.Principal = principal
	return s.store.List(ctx, filter)
}

func (s *Scheduler) checkOwner(ctx context.Context, id, principal string) error {
	job, _, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Principal != principal {
		return &ForbiddenError{JobID: id, Principal: principal}
	}
	return nil
}
