// Package jobs provides the ingestion job entity, its status machine, and
// JetStream-backed job storage, content storage, and work queueing.
package jobs

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies how a job's content entered the system.
type Type string

// Job types.
const (
	TypeText  Type = "ingest_text"
	TypeFile  Type = "ingest_file"
	TypeURL   Type = "ingest_url"
	TypeImage Type = "ingest_image"
)

// IsValid reports whether t is a known job type.
func (t Type) IsValid() bool {
	switch t {
	case TypeText, TypeFile, TypeURL, TypeImage:
		return true
	}
	return false
}

// Status represents a job's position in its lifecycle.
type Status string

// Job statuses. The last four are terminal.
const (
	StatusAnalyzing        Status = "analyzing"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
	StatusRejected         Status = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// transitions is the single source of truth for the status machine.
var transitions = map[Status][]Status{
	StatusAnalyzing:        {StatusAwaitingApproval, StatusApproved, StatusFailed, StatusCancelled},
	StatusAwaitingApproval: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:         {StatusProcessing, StatusCancelled},
	StatusProcessing:       {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether s may move to the given status.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a status change is not allowed from the
// job's current state. The HTTP layer maps it to 409.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot transition from %s to %s", e.JobID, e.From, e.To)
}

// StatusChange records a single status transition for the audit trail.
type StatusChange struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Counters accumulate per-job pipeline output totals.
type Counters struct {
	ChunksProcessed      int `json:"chunks_processed"`
	ChunksTotal          int `json:"chunks_total"`
	ConceptsCreated      int `json:"concepts_created"`
	ConceptsLinked       int `json:"concepts_linked"`
	SourcesCreated       int `json:"sources_created"`
	InstancesCreated     int `json:"instances_created"`
	RelationshipsCreated int `json:"relationships_created"`
}

// Checkpoint records resumable pipeline position. LastChunkIndex is the
// highest chunk index whose writes are fully committed.
type Checkpoint struct {
	LastChunkIndex int       `json:"last_chunk_index"`
	Counters       Counters  `json:"counters"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Progress is the streaming view of a running job.
type Progress struct {
	Stage           string  `json:"stage"`
	Percent         float64 `json:"percent"`
	ChunksProcessed int     `json:"chunks_processed"`
	ChunksTotal     int     `json:"chunks_total"`
	Message         string  `json:"message,omitempty"`
}

// CostBand is a low/high cost estimate in USD.
type CostBand struct {
	CostLow  float64 `json:"cost_low"`
	CostHigh float64 `json:"cost_high"`
	Currency string  `json:"currency,omitempty"`
}

// CostEstimate breaks the projected spend down by pipeline stage.
type CostEstimate struct {
	Extraction CostBand `json:"extraction"`
	Embeddings CostBand `json:"embeddings"`
	Total      CostBand `json:"total"`
}

// FileStats summarizes the submitted content.
type FileStats struct {
	Bytes  int64  `json:"bytes"`
	Words  int    `json:"words"`
	Lines  int    `json:"lines"`
	Format string `json:"format"`
}

// Analysis is the synchronous pre-approval estimate. It is computed without
// any LLM calls.
type Analysis struct {
	CostEstimate CostEstimate `json:"cost_estimate"`
	ChunkCount   int          `json:"chunk_count"`
	DocumentHash string       `json:"document_hash"`
	FileStats    FileStats    `json:"file_stats"`
	Warnings     []string     `json:"warnings,omitempty"`
}

// Result holds the final counters and token actuals for a completed job.
type Result struct {
	Counters         Counters `json:"counters"`
	ExtractionTokens int64    `json:"extraction_tokens,omitempty"`
	EmbeddingTokens  int64    `json:"embedding_tokens,omitempty"`
	DurationSeconds  float64  `json:"duration_seconds,omitempty"`
}

// Options carries per-job overrides supplied at submit time.
type Options struct {
	TargetTokens   int   `json:"target_tokens,omitempty"`
	OverlapTokens  int   `json:"overlap_tokens,omitempty"`
	Force          bool  `json:"force,omitempty"`
	AutoApprove    bool  `json:"auto_approve,omitempty"`
	VocabExpansion *bool `json:"vocab_expansion,omitempty"`
}

// Job is an ingestion job record.
type Job struct {
	ID        string `json:"job_id"`
	Type      Type   `json:"job_type"`
	Status    Status `json:"status"`
	Principal string `json:"principal"`
	Ontology  string `json:"ontology"`

	ContentHash string `json:"content_hash,omitempty"`
	ContentRef  string `json:"content_ref,omitempty"`
	Filename    string `json:"filename,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`

	Analysis *Analysis `json:"analysis,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Result   *Result   `json:"result,omitempty"`

	// CancelRequested asks a running pipeline to stop at the next chunk
	// boundary. Jobs not yet processing cancel immediately instead.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	FailedChunk *int   `json:"failed_chunk,omitempty"`

	StatusChanges []StatusChange `json:"status_changes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	Options  Options           `json:"options,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewJobID generates a job identifier of the form "job_" + 12 hex chars.
func NewJobID() string {
	u := uuid.New()
	return "job_" + hex.EncodeToString(u[:6])
}

// NewJob creates a job in the analyzing state.
func NewJob(jobType Type, principal, ontology string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        NewJobID(),
		Type:      jobType,
		Status:    StatusAnalyzing,
		Principal: principal,
		Ontology:  ontology,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetStatus moves the job to a new status, validating the transition,
// recording the audit entry, and stamping lifecycle timestamps.
func (j *Job) SetStatus(to Status, actor, reason string) error {
	if !j.Status.CanTransition(to) {
		return &TransitionError{JobID: j.ID, From: j.Status, To: to}
	}

	now := time.Now().UTC()
	j.StatusChanges = append(j.StatusChanges, StatusChange{
		From:      j.Status,
		To:        to,
		Reason:    reason,
		Actor:     actor,
		Timestamp: now,
	})
	j.Status = to
	j.UpdatedAt = now

	switch {
	case to == StatusApproved:
		j.ApprovedAt = &now
		if actor != "" {
			j.ApprovedBy = actor
		}
	case to == StatusProcessing && j.StartedAt == nil:
		j.StartedAt = &now
	}
	if to.Terminal() {
		j.CompletedAt = &now
	}

	return nil
}
