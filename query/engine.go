// Package query answers semantic questions against the concept graph:
// similarity search, concept details with evidence, neighborhood
// traversal and path finding. Reads only; nothing here mutates the graph.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/c360studio/semgraph/graph"
)

// Embedder produces the query vector. It matches the pipeline's adapter so
// both sides embed with the same model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, string, error)
}

// ValidationError reports a malformed query request.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NoMatchError means a free-text query resolved to no concept above the
// similarity threshold.
type NoMatchError struct {
	Query string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no concept matches %q", e.Query)
}

// IsNoMatch reports whether err is a NoMatchError.
func IsNoMatch(err error) bool {
	var nm *NoMatchError
	return errors.As(err, &nm)
}

// Config tunes query defaults and caps.
type Config struct {
	// DefaultLimit is the search result cap when the request gives none.
	DefaultLimit int

	// MaxLimit is the hard search result cap.
	MaxLimit int

	// MinSimilarity is the default search cutoff.
	MinSimilarity float64

	// MaxDepth caps Related traversal depth.
	MaxDepth int

	// MaxHops caps Connect path length.
	MaxHops int

	// SampleEvidence is how many quotes a search hit carries.
	SampleEvidence int

	// EmbeddingModel is the active embedding model id, used to flag
	// concepts whose stored vectors are stale. Empty disables the check.
	EmbeddingModel string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:   10,
		MaxLimit:       50,
		MinSimilarity:  0.7,
		MaxDepth:       5,
		MaxHops:        6,
		SampleEvidence: 3,
	}
}

// Engine executes queries against a graph store.
type Engine struct {
	graph    graph.Store
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates an Engine. Zero cfg fields fall back to defaults.
func New(graphStore graph.Store, embedder Embedder, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = def.MinSimilarity
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = def.MaxHops
	}
	if cfg.SampleEvidence <= 0 {
		cfg.SampleEvidence = def.SampleEvidence
	}
	return &Engine{graph: graphStore, embedder: embedder, cfg: cfg, logger: logger}
}

// SearchRequest is a free-text concept search.
type SearchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
	Ontology      string  `json:"ontology,omitempty"`
}

// SearchHit is one matched concept with a sample of its evidence.
type SearchHit struct {
	ConceptID      string           `json:"concept_id"`
	Label          string           `json:"label"`
	Description    string           `json:"description,omitempty"`
	Ontologies     []string         `json:"ontologies"`
	Similarity     float64          `json:"similarity"`
	EvidenceCount  int64            `json:"evidence_count"`
	SampleEvidence []graph.Evidence `json:"sample_evidence,omitempty"`
}

// SearchResult carries the hits plus threshold diagnostics so a caller can
// tell an empty graph apart from a cutoff that is simply too strict.
type SearchResult struct {
	Hits                []SearchHit `json:"results"`
	ThresholdUsed       float64     `json:"threshold_used"`
	BelowThresholdCount int         `json:"below_threshold_count"`
	// SuggestedThreshold is the strongest below-cutoff similarity floored
	// to two decimals, or zero when nothing scored below the cutoff.
	SuggestedThreshold float64 `json:"suggested_threshold,omitempty"`
}

// Search embeds the query once and ranks concepts by cosine similarity.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, &ValidationError{Field: "query", Msg: "must not be empty"}
	}
	if req.MinSimilarity < 0 || req.MinSimilarity > 1 {
		return nil, &ValidationError{Field: "min_similarity", Msg: "must be between 0 and 1"}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}
	threshold := req.MinSimilarity
	if threshold == 0 {
		threshold = e.cfg.MinSimilarity
	}

	vector, model, err := e.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Scan without a score floor so below-cutoff matches feed the
	// threshold diagnostics.
	hits, err := e.graph.SimilaritySearch(ctx, graph.SimilarityQuery{
		Vector:   vector[0],
		Ontology: req.Ontology,
		Model:    model,
	})
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Hits:          []SearchHit{},
		ThresholdUsed: threshold,
	}
	for _, hit := range hits {
		if hit.Similarity <= 0 {
			// Orthogonal concepts are not near misses.
			continue
		}
		if hit.Similarity < threshold {
			result.BelowThresholdCount++
			if result.SuggestedThreshold == 0 {
				result.SuggestedThreshold = math.Floor(hit.Similarity*100) / 100
			}
			continue
		}
		if len(result.Hits) >= limit {
			continue
		}

		count, err := e.graph.CountInstances(ctx, hit.Concept.ID)
		if err != nil {
			return nil, err
		}
		sample, err := e.graph.EvidenceSample(ctx, hit.Concept.ID, e.cfg.SampleEvidence)
		if err != nil {
			return nil, err
		}
		result.Hits = append(result.Hits, SearchHit{
			ConceptID:      hit.Concept.ID,
			Label:          hit.Concept.Label,
			Description:    hit.Concept.Description,
			Ontologies:     hit.Concept.Ontologies,
			Similarity:     hit.Similarity,
			EvidenceCount:  count,
			SampleEvidence: sample,
		})
	}

	return result, nil
}

// Details returns a concept with its full evidence and outgoing edges.
func (e *Engine) Details(ctx context.Context, conceptID string) (*graph.ConceptDetails, error) {
	if conceptID == "" {
		return nil, &ValidationError{Field: "concept_id", Msg: "must not be empty"}
	}

	concept, err := e.graph.GetConcept(ctx, conceptID)
	if err != nil {
		return nil, err
	}
	evidence, err := e.graph.EvidenceForConcept(ctx, conceptID)
	if err != nil {
		return nil, err
	}
	rels, err := e.graph.Outgoing(ctx, conceptID)
	if err != nil {
		return nil, err
	}

	stale := e.cfg.EmbeddingModel != "" &&
		concept.EmbeddingModel != "" &&
		concept.EmbeddingModel != e.cfg.EmbeddingModel

	return &graph.ConceptDetails{
		Concept:        concept,
		Evidence:       evidence,
		Relationships:  rels,
		EmbeddingStale: stale,
	}, nil
}
