// Package pipeline executes the per-job ingestion stages: parse or
// describe, chunk, then per chunk extract, embed, upsert, checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semgraph/chunker"
	"github.com/c360studio/semgraph/graph"
	"github.com/c360studio/semgraph/jobs"
	"github.com/c360studio/semgraph/llm"
)

// Extractor turns chunk text into structured concepts.
type Extractor interface {
	Extract(ctx context.Context, chunkText string, vocabulary []llm.VocabEntry, contextHint string) (*llm.ExtractionResult, error)
}

// Embedder produces unit-normalized vectors and the model id that made them.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, string, error)
}

// Vision produces a literal prose description of an image.
type Vision interface {
	Describe(ctx context.Context, imageBytes []byte) (string, string, error)
}

// Config tunes pipeline execution.
type Config struct {
	// ChunkTimeout caps one chunk's extract+embed+upsert time.
	ChunkTimeout time.Duration

	// MergeThreshold is the cosine similarity above which an extracted
	// concept folds into an existing one.
	MergeThreshold float64

	// MaxChunkRetries is how many times a transient adapter failure is
	// retried within a chunk before the job fails.
	MaxChunkRetries int

	// VocabExpansion auto-adds unknown relationship types instead of
	// dropping those relationships.
	VocabExpansion bool

	// TargetTokens and OverlapTokens are chunking defaults; job options
	// override them.
	TargetTokens  int
	OverlapTokens int

	// ProgressInterval rate-limits job-record progress writes.
	ProgressInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ChunkTimeout:     10 * time.Minute,
		MergeThreshold:   0.85,
		MaxChunkRetries:  3,
		VocabExpansion:   true,
		TargetTokens:     900,
		OverlapTokens:    150,
		ProgressInterval: 500 * time.Millisecond,
	}
}

// Progress percent bands: parsing occupies the low band, chunk work the
// middle, finalization tops out at 100.
const (
	percentParsed     = 5.0
	percentChunksBand = 90.0
)

// Pipeline runs ingestion jobs against the concept graph.
type Pipeline struct {
	store     *jobs.Store
	hub       *jobs.Hub
	graph     graph.Store
	extractor Extractor
	embedder  Embedder
	vision    Vision
	cfg       Config
	logger    *slog.Logger
}

// New creates a Pipeline. vision may be nil when image ingestion is
// disabled; image jobs then fail cleanly.
func New(store *jobs.Store, hub *jobs.Hub, graphStore graph.Store, extractor Extractor, embedder Embedder, vision Vision, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = def.ChunkTimeout
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = def.MergeThreshold
	}
	if cfg.MaxChunkRetries <= 0 {
		cfg.MaxChunkRetries = def.MaxChunkRetries
	}
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = def.TargetTokens
	}
	if cfg.OverlapTokens <= 0 {
		cfg.OverlapTokens = def.OverlapTokens
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	return &Pipeline{
		store:     store,
		hub:       hub,
		graph:     graphStore,
		extractor: extractor,
		embedder:  embedder,
		vision:    vision,
		cfg:       cfg,
		logger:    logger,
	}
}

// run carries the state for one job execution.
type run struct {
	job      *jobs.Job
	text     string
	docName  string
	chunks   []chunker.Chunk
	counters jobs.Counters
	// labels maps normalized concept labels to concept ids for
	// cross-chunk identity within the document.
	labels      map[string]string
	vocab       []llm.VocabEntry
	lastPersist time.Time
	startedAt   time.Time
}

// Run executes the pipeline for a job already in processing state. It owns
// every transition to a terminal status; a non-nil error with the job left
// non-terminal signals an infrastructure fault the worker should requeue.
func (p *Pipeline) Run(ctx context.Context, job *jobs.Job) error {
	logger := p.logger.With("job_id", job.ID)
	r := &run{job: job, startedAt: time.Now()}

	if err := p.prepare(ctx, r); err != nil {
		if llm.IsTransient(err) || errors.Is(err, context.Canceled) {
			return err
		}
		return p.fail(ctx, r, -1, "parse_failed", err)
	}

	startIdx := 0
	if job.Checkpoint != nil {
		startIdx = job.Checkpoint.LastChunkIndex + 1
		r.counters = job.Checkpoint.Counters
		if err := p.seedLabels(ctx, r); err != nil {
			return err
		}
		logger.Info("Resuming from checkpoint",
			"start_chunk", startIdx,
			"chunks_total", len(r.chunks))
	}
	r.counters.ChunksTotal = len(r.chunks)

	for i := startIdx; i < len(r.chunks); i++ {
		cancelled, err := p.cancelRequested(ctx, r)
		if err != nil {
			return err
		}
		if cancelled {
			return p.cancel(ctx, r)
		}

		if err := p.runChunkWithRetry(ctx, r, i); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			code := "chunk_failed"
			if errors.Is(err, context.DeadlineExceeded) {
				code = "chunk_timeout"
			}
			return p.fail(ctx, r, i, code, err)
		}

		r.counters.ChunksProcessed++
		if err := p.checkpoint(ctx, r, i); err != nil {
			return err
		}
	}

	return p.finalize(ctx, r)
}

// prepare loads content and produces the chunk list. Image jobs run the
// vision adapter and yield a single chunk of literal prose.
func (p *Pipeline) prepare(ctx context.Context, r *run) error {
	content, err := p.store.GetContent(ctx, r.job.ID)
	if err != nil {
		return err
	}

	r.docName = r.job.Filename
	if r.docName == "" {
		r.docName = r.job.SourceURL
	}
	if r.docName == "" {
		r.docName = r.job.ID
	}

	if r.job.Type == jobs.TypeImage {
		if p.vision == nil {
			return llm.NewFatalError(fmt.Errorf("image ingestion is not configured"))
		}
		visionCtx, cancel := context.WithTimeout(ctx, p.cfg.ChunkTimeout)
		defer cancel()

		description, model, err := p.vision.Describe(visionCtx, content)
		if err != nil {
			return err
		}
		p.logger.Debug("Image described", "job_id", r.job.ID, "model", model)

		r.text = description
		r.chunks = []chunker.Chunk{{
			Index:      0,
			Text:       description,
			TokenCount: chunker.EstimateTokens(description),
			EndOffset:  len(description),
		}}
	} else {
		r.text = string(content)

		cfg := chunker.Config{
			TargetTokens:  p.cfg.TargetTokens,
			OverlapTokens: p.cfg.OverlapTokens,
		}
		if r.job.Options.TargetTokens > 0 {
			cfg.TargetTokens = r.job.Options.TargetTokens
		}
		if r.job.Options.OverlapTokens > 0 {
			cfg.OverlapTokens = r.job.Options.OverlapTokens
		}
		// Small per-job targets must not collide with the global overlap.
		if cfg.OverlapTokens >= cfg.TargetTokens {
			cfg.OverlapTokens = cfg.TargetTokens / 4
		}
		ch, err := chunker.New(cfg)
		if err != nil {
			return err
		}
		r.chunks = ch.Chunk(r.text)
	}

	if len(r.chunks) == 0 {
		return fmt.Errorf("document produced no chunks")
	}

	r.labels = make(map[string]string)

	vocab, err := p.loadVocabulary(ctx)
	if err != nil {
		return err
	}
	r.vocab = vocab

	return nil
}

func (p *Pipeline) loadVocabulary(ctx context.Context) ([]llm.VocabEntry, error) {
	types, err := p.graph.Vocabulary(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]llm.VocabEntry, 0, len(types))
	for _, rt := range types {
		if !rt.IsActive {
			continue
		}
		entries = append(entries, llm.VocabEntry{Name: rt.Name, Description: rt.Description})
	}
	return entries, nil
}

// seedLabels rebuilds the label map from concepts already written for this
// document, so a resumed job keeps cross-chunk identity.
func (p *Pipeline) seedLabels(ctx context.Context, r *run) error {
	concepts, err := p.graph.ConceptsByDocument(ctx, r.job.ContentHash)
	if err != nil {
		return err
	}
	for _, c := range concepts {
		r.labels[graph.NormalizeLabel(c.Label)] = c.ID
	}
	return nil
}

// cancelRequested reloads the job at a chunk boundary and reports whether
// a cooperative cancel is pending.
func (p *Pipeline) cancelRequested(ctx context.Context, r *run) (bool, error) {
	job, _, err := p.store.Get(ctx, r.job.ID)
	if err != nil {
		return false, err
	}
	r.job = job
	return job.CancelRequested || job.Status == jobs.StatusCancelled, nil
}

// runChunkWithRetry runs one chunk, retrying transient adapter failures.
func (p *Pipeline) runChunkWithRetry(ctx context.Context, r *run, idx int) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxChunkRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			p.logger.Warn("Retrying chunk",
				"job_id", r.job.ID,
				"chunk", idx,
				"attempt", attempt,
				"error", lastErr)
		}

		chunkCtx, cancel := context.WithTimeout(ctx, p.cfg.ChunkTimeout)
		err := p.runChunk(chunkCtx, r, idx)
		cancel()

		if err == nil {
			return nil
		}
		if !llm.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("chunk %d: retries exhausted: %w", idx, lastErr)
}

// runChunk processes one chunk: source, extraction, embeddings, concepts
// with evidence, then relationships. Write order keeps every partial state
// resumable.
func (p *Pipeline) runChunk(ctx context.Context, r *run, idx int) error {
	chunk := r.chunks[idx]
	sourceID := graph.SourceID(r.job.ContentHash, chunk.Index)

	created, err := p.graph.UpsertSource(ctx, graph.Source{
		ID:           sourceID,
		Document:     r.docName,
		DocumentHash: r.job.ContentHash,
		Ontology:     r.job.Ontology,
		ChunkIndex:   chunk.Index,
		FullText:     chunk.Text,
	})
	if err != nil {
		return err
	}
	if created {
		r.counters.SourcesCreated++
	}

	extraction, err := p.extractor.Extract(ctx, chunk.Text, r.vocab, r.docName)
	if err != nil {
		return err
	}
	if len(extraction.Concepts) == 0 {
		return nil
	}

	vectors, modelID, err := p.embedConcepts(ctx, extraction.Concepts)
	if err != nil {
		return err
	}

	for i, concept := range extraction.Concepts {
		if err := p.upsertConcept(ctx, r, concept, vectors[i], modelID, sourceID, chunk.Index); err != nil {
			return err
		}
	}

	for _, rel := range extraction.Relationships {
		if err := p.upsertRelationship(ctx, r, rel, sourceID); err != nil {
			return err
		}
	}

	return nil
}

// embedConcepts embeds each concept's label, description, and search
// terms as a single text.
func (p *Pipeline) embedConcepts(ctx context.Context, concepts []llm.ExtractedConcept) ([][]float32, string, error) {
	texts := make([]string, len(concepts))
	for i, c := range concepts {
		texts[i] = embeddingText(c)
	}
	return p.embedder.Embed(ctx, texts)
}

// embeddingText composes the text a concept is embedded under.
func embeddingText(c llm.ExtractedConcept) string {
	parts := make([]string, 0, 2+len(c.SearchTerms))
	parts = append(parts, c.Label)
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	parts = append(parts, c.SearchTerms...)
	return strings.Join(parts, " ")
}

// upsertConcept resolves an extracted concept to an existing concept or
// creates a new one, then writes its evidence.
func (p *Pipeline) upsertConcept(ctx context.Context, r *run, concept llm.ExtractedConcept, vector []float32, modelID, sourceID string, chunkIndex int) error {
	norm := graph.NormalizeLabel(concept.Label)

	conceptID, known := r.labels[norm]
	if !known {
		id, found, err := p.resolveBySimilarity(ctx, r, vector, modelID)
		if err != nil {
			return err
		}
		if found {
			conceptID, known = id, true
		}
	}

	if known {
		err := p.graph.MergeConcept(ctx, conceptID, graph.ConceptMerge{
			SearchTerms: concept.SearchTerms,
			Ontology:    r.job.Ontology,
			SourceID:    sourceID,
		})
		if err != nil {
			return err
		}
		r.labels[norm] = conceptID
		r.counters.ConceptsLinked++
	} else {
		firstQuote := ""
		if len(concept.Instances) > 0 {
			firstQuote = concept.Instances[0].Quote
		}

		conceptID = graph.ConceptID(concept.Label, firstQuote)
		err := p.graph.CreateConcept(ctx, graph.Concept{
			ID:             conceptID,
			Label:          concept.Label,
			Description:    concept.Description,
			SearchTerms:    concept.SearchTerms,
			Embedding:      vector,
			EmbeddingModel: modelID,
			Ontologies:     []string{r.job.Ontology},
			AppearsIn:      []string{sourceID},
		})
		if errors.Is(err, graph.ErrDuplicateID) {
			// Fingerprint collision within this document run; suffix
			// with the chunk index and retry once.
			conceptID = graph.ConceptIDWithChunk(concept.Label, firstQuote, chunkIndex)
			err = p.graph.CreateConcept(ctx, graph.Concept{
				ID:             conceptID,
				Label:          concept.Label,
				Description:    concept.Description,
				SearchTerms:    concept.SearchTerms,
				Embedding:      vector,
				EmbeddingModel: modelID,
				Ontologies:     []string{r.job.Ontology},
				AppearsIn:      []string{sourceID},
			})
		}
		if errors.Is(err, graph.ErrDuplicateID) {
			// Same concept re-created on a re-run; treat as a link.
			if mergeErr := p.graph.MergeConcept(ctx, conceptID, graph.ConceptMerge{
				SearchTerms: concept.SearchTerms,
				Ontology:    r.job.Ontology,
				SourceID:    sourceID,
			}); mergeErr != nil {
				return mergeErr
			}
			r.counters.ConceptsLinked++
		} else if err != nil {
			return err
		} else {
			r.counters.ConceptsCreated++
		}
		r.labels[norm] = conceptID
	}

	for _, instance := range concept.Instances {
		created, err := p.graph.CreateInstance(ctx, graph.Instance{
			ID:        uuid.New().String(),
			ConceptID: conceptID,
			SourceID:  sourceID,
			Quote:     instance.Quote,
			Start:     instance.Start,
			End:       instance.End,
		})
		if err != nil {
			return err
		}
		if created {
			r.counters.InstancesCreated++
		}
	}

	return nil
}

// resolveBySimilarity finds an existing concept close enough to fold into.
func (p *Pipeline) resolveBySimilarity(ctx context.Context, r *run, vector []float32, modelID string) (string, bool, error) {
	if len(vector) == 0 {
		return "", false, nil
	}
	hits, err := p.graph.SimilaritySearch(ctx, graph.SimilarityQuery{
		Vector:   vector,
		Limit:    1,
		MinScore: p.cfg.MergeThreshold,
		Model:    modelID,
	})
	if err != nil {
		return "", false, err
	}
	if len(hits) == 0 {
		return "", false, nil
	}
	return hits[0].Concept.ID, true, nil
}

// upsertRelationship writes one typed edge, honoring vocabulary expansion.
func (p *Pipeline) upsertRelationship(ctx context.Context, r *run, rel llm.ExtractedRelationship, sourceID string) error {
	fromID, okFrom := r.labels[graph.NormalizeLabel(rel.FromLabel)]
	toID, okTo := r.labels[graph.NormalizeLabel(rel.ToLabel)]
	if !okFrom || !okTo || fromID == toID {
		return nil
	}

	edge := graph.Relationship{
		FromID:            fromID,
		ToID:              toID,
		RelType:           rel.RelType,
		Confidence:        rel.Confidence,
		CreatedFromSource: sourceID,
	}

	created, err := p.graph.UpsertRelationship(ctx, edge)
	if graph.IsUnknownRelType(err) {
		if !p.cfg.VocabExpansion {
			p.logger.Debug("Dropping relationship with unknown type",
				"job_id", r.job.ID,
				"rel_type", rel.RelType)
			return nil
		}
		if err := p.graph.AddRelType(ctx, graph.RelType{
			Name:        rel.RelType,
			Description: "added automatically during extraction",
			IsActive:    true,
		}); err != nil {
			return err
		}
		created, err = p.graph.UpsertRelationship(ctx, edge)
	}
	if err != nil {
		return err
	}
	if created {
		r.counters.RelationshipsCreated++
	}
	return nil
}

// checkpoint persists chunk completion and publishes a progress delta.
// Job-record writes are rate-limited; the final chunk always persists.
func (p *Pipeline) checkpoint(ctx context.Context, r *run, idx int) error {
	final := idx == len(r.chunks)-1
	progress := p.progressFor(r)

	if !final && time.Since(r.lastPersist) < p.cfg.ProgressInterval {
		p.hub.Publish(r.job.ID, jobs.Event{Kind: jobs.EventProgress, Job: r.job})
		return nil
	}

	job, err := p.store.Mutate(ctx, r.job.ID, func(j *jobs.Job) error {
		j.Checkpoint = &jobs.Checkpoint{
			LastChunkIndex: idx,
			Counters:       r.counters,
			UpdatedAt:      time.Now().UTC(),
		}
		j.Progress = &progress
		j.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	r.job = job
	r.lastPersist = time.Now()
	p.hub.Publish(job.ID, jobs.Event{Kind: jobs.EventProgress, Job: job})
	return nil
}

func (p *Pipeline) progressFor(r *run) jobs.Progress {
	total := len(r.chunks)
	percent := percentParsed
	if total > 0 {
		percent += percentChunksBand * float64(r.counters.ChunksProcessed) / float64(total)
	}
	return jobs.Progress{
		Stage:           "processing",
		Percent:         percent,
		ChunksProcessed: r.counters.ChunksProcessed,
		ChunksTotal:     total,
	}
}

// finalize writes the document record and completes the job.
func (p *Pipeline) finalize(ctx context.Context, r *run) error {
	err := p.graph.UpsertDocument(ctx, graph.DocumentMeta{
		DocumentHash: r.job.ContentHash,
		Document:     r.docName,
		Ontology:     r.job.Ontology,
		ChunkCount:   len(r.chunks),
		ConceptCount: len(r.labels),
		JobID:        r.job.ID,
		IngestedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	job, err := p.store.Mutate(ctx, r.job.ID, func(j *jobs.Job) error {
		j.Result = &jobs.Result{
			Counters:        r.counters,
			DurationSeconds: time.Since(r.startedAt).Seconds(),
		}
		j.Progress = &jobs.Progress{
			Stage:           "completed",
			Percent:         100,
			ChunksProcessed: r.counters.ChunksProcessed,
			ChunksTotal:     len(r.chunks),
		}
		if j.Status.Terminal() {
			return nil
		}
		return j.SetStatus(jobs.StatusCompleted, "", "")
	})
	if err != nil {
		return err
	}

	p.hub.Publish(job.ID, jobs.Event{Kind: jobs.EventTerminal, Job: job})
	p.logger.Info("Job completed",
		"job_id", job.ID,
		"chunks", r.counters.ChunksProcessed,
		"concepts_created", r.counters.ConceptsCreated,
		"concepts_linked", r.counters.ConceptsLinked)
	return nil
}

// cancel finishes a cooperatively cancelled job. Committed chunks remain.
func (p *Pipeline) cancel(ctx context.Context, r *run) error {
	job, err := p.store.Mutate(ctx, r.job.ID, func(j *jobs.Job) error {
		if j.Status.Terminal() {
			return nil
		}
		return j.SetStatus(jobs.StatusCancelled, "", "cancelled at chunk boundary")
	})
	if err != nil {
		return err
	}
	p.hub.Publish(job.ID, jobs.Event{Kind: jobs.EventTerminal, Job: job})
	p.logger.Info("Job cancelled at chunk boundary",
		"job_id", job.ID,
		"chunks_committed", r.counters.ChunksProcessed)
	return nil
}

// fail marks the job failed with the offending chunk recorded.
func (p *Pipeline) fail(ctx context.Context, r *run, chunkIdx int, code string, cause error) error {
	job, err := p.store.Mutate(ctx, r.job.ID, func(j *jobs.Job) error {
		j.Error = cause.Error()
		j.ErrorCode = code
		if chunkIdx >= 0 {
			idx := chunkIdx
			j.FailedChunk = &idx
		}
		if j.Status.Terminal() {
			return nil
		}
		return j.SetStatus(jobs.StatusFailed, "", code)
	})
	if err != nil {
		return err
	}
	p.hub.Publish(job.ID, jobs.Event{Kind: jobs.EventTerminal, Job: job})
	p.logger.Error("Job failed",
		"job_id", job.ID,
		"chunk", chunkIdx,
		"code", code,
		"error", cause)
	return nil
}
