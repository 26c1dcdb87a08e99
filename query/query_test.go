package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgraph/graph"
	"github.com/c360studio/semgraph/graph/memstore"
)

// fakeEmbedder maps known query strings to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, string, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := f.vectors[text]
		if !ok {
			vec = make([]float32, 4)
		}
		out[i] = vec
	}
	return out, "mock-embed-1", nil
}

// seedGraph builds a small diamond with evidence:
//
//	alpha --SUPPORTS--> beta  --IMPLIES--> delta
//	alpha --SUPPORTS--> gamma --IMPLIES--> delta  (weaker)
//
// omega is embedded but disconnected.
func seedGraph(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	ctx := context.Background()

	concepts := []graph.Concept{
		{ID: "c_alpha", Label: "alpha cycle", Description: "The first phase.", Embedding: []float32{1, 0, 0, 0}},
		{ID: "c_beta", Label: "beta phase", Embedding: []float32{0, 1, 0, 0}},
		{ID: "c_gamma", Label: "gamma phase", Embedding: []float32{0, 0, 1, 0}},
		{ID: "c_delta", Label: "delta outcome", Embedding: []float32{0, 0, 0, 1}},
		{ID: "c_omega", Label: "omega aside", Embedding: []float32{0.6, 0.8, 0, 0}},
	}
	for _, c := range concepts {
		c.EmbeddingModel = "mock-embed-1"
		c.Ontologies = []string{"research"}
		require.NoError(t, s.CreateConcept(ctx, c))
	}

	_, err := s.UpsertSource(ctx, graph.Source{
		ID:           "src_0",
		Document:     "notes.md",
		DocumentHash: "hash_notes",
		Ontology:     "research",
		ChunkIndex:   0,
		FullText:     "the alpha cycle begins. later the alpha cycle repeats.",
	})
	require.NoError(t, err)

	for i, in := range []graph.Instance{
		{ID: "i_1", ConceptID: "c_alpha", SourceID: "src_0", Quote: "the alpha cycle begins", Start: 0, End: 22},
		{ID: "i_2", ConceptID: "c_alpha", SourceID: "src_0", Quote: "the alpha cycle repeats", Start: 30, End: 53},
	} {
		created, err := s.CreateInstance(ctx, in)
		require.NoError(t, err, "instance %d", i)
		require.True(t, created)
	}

	edges := []graph.Relationship{
		{FromID: "c_alpha", ToID: "c_beta", RelType: "SUPPORTS", Confidence: 0.9},
		{FromID: "c_beta", ToID: "c_delta", RelType: "IMPLIES", Confidence: 0.9},
		{FromID: "c_alpha", ToID: "c_gamma", RelType: "SUPPORTS", Confidence: 0.9},
		// Reversed edge direction; traversal is undirected.
		{FromID: "c_delta", ToID: "c_gamma", RelType: "IMPLIES", Confidence: 0.7},
	}
	for _, r := range edges {
		_, err := s.UpsertRelationship(ctx, r)
		require.NoError(t, err)
	}
	return s
}

func newEngine(t *testing.T, s *memstore.Store, embedder Embedder) *Engine {
	t.Helper()
	return New(s, embedder, DefaultConfig(), nil)
}

func TestSearch(t *testing.T) {
	s := seedGraph(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"what starts the cycle": {0.8, 0.6, 0, 0},
	}}
	e := newEngine(t, s, embedder)
	ctx := context.Background()

	result, err := e.Search(ctx, SearchRequest{Query: "what starts the cycle"})
	require.NoError(t, err)

	// alpha at 0.8 clears the 0.7 default; beta at 0.6 and omega at 0.96...
	// omega is 0.6*0.8+0.8*0.6 = 0.96, above threshold.
	require.Len(t, result.Hits, 2)
	assert.Equal(t, "c_omega", result.Hits[0].ConceptID)
	assert.InDelta(t, 0.96, result.Hits[0].Similarity, 1e-6)
	assert.Equal(t, "c_alpha", result.Hits[1].ConceptID)
	assert.InDelta(t, 0.8, result.Hits[1].Similarity, 1e-6)

	// alpha carries its evidence sample.
	assert.Equal(t, int64(2), result.Hits[1].EvidenceCount)
	require.Len(t, result.Hits[1].SampleEvidence, 2)
	assert.Equal(t, "the alpha cycle begins", result.Hits[1].SampleEvidence[0].Quote)

	// beta scored 0.6: below the cutoff, so it feeds the diagnostics.
	assert.Equal(t, 0.7, result.ThresholdUsed)
	assert.Equal(t, 1, result.BelowThresholdCount)
	assert.InDelta(t, 0.6, result.SuggestedThreshold, 1e-9)
}

func TestSearch_Validation(t *testing.T) {
	e := newEngine(t, seedGraph(t), &fakeEmbedder{})
	ctx := context.Background()

	_, err := e.Search(ctx, SearchRequest{Query: "   "})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = e.Search(ctx, SearchRequest{Query: "ok", MinSimilarity: 1.5})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestSearch_OntologyFilterAndLimit(t *testing.T) {
	s := seedGraph(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"cycle": {0.8, 0.6, 0, 0},
	}}
	e := newEngine(t, s, embedder)
	ctx := context.Background()

	result, err := e.Search(ctx, SearchRequest{Query: "cycle", Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "c_omega", result.Hits[0].ConceptID)

	result, err = e.Search(ctx, SearchRequest{Query: "cycle", Ontology: "unrelated"})
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
}

func TestDetails(t *testing.T) {
	s := seedGraph(t)
	e := newEngine(t, s, &fakeEmbedder{})
	ctx := context.Background()

	details, err := e.Details(ctx, "c_alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha cycle", details.Concept.Label)
	require.Len(t, details.Evidence, 2)
	assert.Equal(t, "the alpha cycle begins", details.Evidence[0].Quote)
	assert.Equal(t, "notes.md", details.Evidence[0].Document)
	require.Len(t, details.Relationships, 2)
	assert.False(t, details.EmbeddingStale)

	_, err = e.Details(ctx, "c_missing")
	require.ErrorIs(t, err, graph.ErrNotFound)
}

func TestDetails_StaleEmbedding(t *testing.T) {
	s := seedGraph(t)
	cfg := DefaultConfig()
	cfg.EmbeddingModel = "mock-embed-2"
	e := New(s, &fakeEmbedder{}, cfg, nil)

	details, err := e.Details(context.Background(), "c_alpha")
	require.NoError(t, err)
	assert.True(t, details.EmbeddingStale)
}

func TestRelated(t *testing.T) {
	s := seedGraph(t)
	e := newEngine(t, s, &fakeEmbedder{})
	ctx := context.Background()

	result, err := e.Related(ctx, RelatedRequest{ConceptID: "c_alpha", MaxDepth: 2})
	require.NoError(t, err)
	require.Len(t, result.Related, 3)

	assert.Equal(t, "c_beta", result.Related[0].ConceptID)
	assert.Equal(t, 1, result.Related[0].Distance)
	assert.Equal(t, []string{"SUPPORTS"}, result.Related[0].PathTypes)
	assert.Equal(t, "c_gamma", result.Related[1].ConceptID)
	assert.Equal(t, 1, result.Related[1].Distance)

	assert.Equal(t, "c_delta", result.Related[2].ConceptID)
	assert.Equal(t, 2, result.Related[2].Distance)
	require.Len(t, result.Related[2].PathTypes, 2)

	// Restricting rel types prunes the walk.
	result, err = e.Related(ctx, RelatedRequest{ConceptID: "c_alpha", MaxDepth: 2, RelTypes: []string{"SUPPORTS"}})
	require.NoError(t, err)
	require.Len(t, result.Related, 2)
	for _, rc := range result.Related {
		assert.Equal(t, 1, rc.Distance)
	}

	_, err = e.Related(ctx, RelatedRequest{ConceptID: "c_alpha", MaxDepth: 9})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = e.Related(ctx, RelatedRequest{ConceptID: "c_missing"})
	require.ErrorIs(t, err, graph.ErrNotFound)
}

func TestConnect(t *testing.T) {
	s := seedGraph(t)
	e := newEngine(t, s, &fakeEmbedder{})
	ctx := context.Background()

	t.Run("picks highest confidence among shortest paths", func(t *testing.T) {
		result, err := e.Connect(ctx, ConnectRequest{FromID: "c_alpha", ToID: "c_delta"})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Hops)
		assert.Equal(t, 2, result.Count)

		// The beta route totals 1.8; the gamma route 1.6.
		require.Len(t, result.Path, 3)
		assert.Equal(t, "c_alpha", result.Path[0].ConceptID)
		assert.Empty(t, result.Path[0].RelType)
		assert.Equal(t, "c_beta", result.Path[1].ConceptID)
		assert.Equal(t, "SUPPORTS", result.Path[1].RelType)
		assert.Equal(t, "c_delta", result.Path[2].ConceptID)
		assert.Equal(t, "IMPLIES", result.Path[2].RelType)
	})

	t.Run("zero hop when endpoints match", func(t *testing.T) {
		result, err := e.Connect(ctx, ConnectRequest{FromID: "c_alpha", ToID: "c_alpha"})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Hops)
		assert.Equal(t, 1, result.Count)
		require.Len(t, result.Path, 1)
	})

	t.Run("no path within max hops", func(t *testing.T) {
		result, err := e.Connect(ctx, ConnectRequest{FromID: "c_alpha", ToID: "c_omega"})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Count)
		assert.Empty(t, result.Path)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		_, err := e.Connect(ctx, ConnectRequest{FromID: "c_alpha", ToID: "c_missing"})
		require.ErrorIs(t, err, graph.ErrNotFound)
	})

	t.Run("max hops cap", func(t *testing.T) {
		_, err := e.Connect(ctx, ConnectRequest{FromID: "c_alpha", ToID: "c_delta", MaxHops: 99})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})
}

func TestConnectBySearch(t *testing.T) {
	s := seedGraph(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"the first phase":   {1, 0, 0, 0},
		"the final outcome": {0, 0, 0, 1},
		"gibberish":         {0, 0, 0, 0},
	}}
	e := newEngine(t, s, embedder)
	ctx := context.Background()

	result, err := e.ConnectBySearch(ctx, ConnectBySearchRequest{
		QueryA: "the first phase",
		QueryB: "the final outcome",
	})
	require.NoError(t, err)

	assert.Equal(t, "c_alpha", result.FromMatch.ConceptID)
	assert.InDelta(t, 1.0, result.FromMatch.Similarity, 1e-6)
	assert.Equal(t, "c_delta", result.ToMatch.ConceptID)
	assert.Equal(t, 2, result.Hops)
	require.Len(t, result.Path, 3)

	// An unresolvable query is a no-match, not an empty path.
	_, err = e.ConnectBySearch(ctx, ConnectBySearchRequest{
		QueryA: "gibberish",
		QueryB: "the final outcome",
	})
	require.Error(t, err)
	assert.True(t, IsNoMatch(err))
}
