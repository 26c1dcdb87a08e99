package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgraph/graph"
)

func testSource(idx int) graph.Source {
	return graph.Source{
		ID:           graph.SourceID("dochash", idx),
		Document:     "notes.md",
		DocumentHash: "dochash",
		Ontology:     "research",
		ChunkIndex:   idx,
		FullText:     "chunk text",
	}
}

func testConcept(id, label string, embedding []float32) graph.Concept {
	return graph.Concept{
		ID:             id,
		Label:          label,
		Description:    "a concept",
		SearchTerms:    []string{label},
		Embedding:      embedding,
		EmbeddingModel: "test-embed",
		Ontologies:     []string{"research"},
	}
}

func TestUpsertSource_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.UpsertSource(ctx, testSource(0))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertSource(ctx, testSource(0))
	require.NoError(t, err)
	assert.False(t, created)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sources)
}

func TestCreateConcept_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateConcept(ctx, testConcept("c_1", "Alpha", nil)))
	err := s.CreateConcept(ctx, testConcept("c_1", "Alpha", nil))
	assert.ErrorIs(t, err, graph.ErrDuplicateID)
}

func TestMergeConcept_Unions(t *testing.T) {
	s := New()
	ctx := context.Background()

	c := testConcept("c_1", "Alpha", nil)
	c.AppearsIn = []string{"s_a"}
	require.NoError(t, s.CreateConcept(ctx, c))

	err := s.MergeConcept(ctx, "c_1", graph.ConceptMerge{
		SearchTerms: []string{"Alpha", "alpha prime"},
		Ontology:    "physics",
		SourceID:    "s_b",
	})
	require.NoError(t, err)

	got, err := s.GetConcept(ctx, "c_1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Alpha", "alpha prime"}, got.SearchTerms)
	assert.ElementsMatch(t, []string{"research", "physics"}, got.Ontologies)
	assert.ElementsMatch(t, []string{"s_a", "s_b"}, got.AppearsIn)
	// Label and description stay as created.
	assert.Equal(t, "Alpha", got.Label)
}

func TestMergeConcept_NotFound(t *testing.T) {
	s := New()
	err := s.MergeConcept(context.Background(), "c_missing", graph.ConceptMerge{})
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestSimilaritySearch(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateConcept(ctx, testConcept("c_close", "Close", []float32{1, 0})))
	require.NoError(t, s.CreateConcept(ctx, testConcept("c_mid", "Mid", []float32{0.7071, 0.7071})))
	require.NoError(t, s.CreateConcept(ctx, testConcept("c_far", "Far", []float32{0, 1})))

	hits, err := s.SimilaritySearch(ctx, graph.SimilarityQuery{
		Vector:   []float32{1, 0},
		Limit:    10,
		MinScore: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c_close", hits[0].Concept.ID)
	assert.Equal(t, "c_mid", hits[1].Concept.ID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestSimilaritySearch_Filters(t *testing.T) {
	s := New()
	ctx := context.Background()

	other := testConcept("c_other", "Other", []float32{1, 0})
	other.Ontologies = []string{"biology"}
	require.NoError(t, s.CreateConcept(ctx, other))

	stale := testConcept("c_stale", "Stale", []float32{1, 0})
	stale.EmbeddingModel = "old-model"
	require.NoError(t, s.CreateConcept(ctx, stale))

	require.NoError(t, s.CreateConcept(ctx, testConcept("c_live", "Live", []float32{1, 0})))

	hits, err := s.SimilaritySearch(ctx, graph.SimilarityQuery{
		Vector:   []float32{1, 0},
		Limit:    10,
		MinScore: 0.5,
		Ontology: "research",
		Model:    "test-embed",
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c_live", hits[0].Concept.ID)
}

func TestCreateInstance_Dedup(t *testing.T) {
	s := New()
	ctx := context.Background()

	in := graph.Instance{
		ID:        "i_1",
		ConceptID: "c_1",
		SourceID:  "s_1",
		Quote:     "the quote",
		Start:     10,
		End:       19,
	}
	created, err := s.CreateInstance(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	// Same span and quote under a different generated id is suppressed.
	in.ID = "i_2"
	created, err = s.CreateInstance(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)

	n, err := s.CountInstances(ctx, "c_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpsertRelationship_UnknownType(t *testing.T) {
	s := New()
	_, err := s.UpsertRelationship(context.Background(), graph.Relationship{
		FromID: "c_a", ToID: "c_b", RelType: "INVENTED", Confidence: 0.9,
	})
	assert.True(t, graph.IsUnknownRelType(err))
}

func TestUpsertRelationship_CoalescesMaxConfidence(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.UpsertRelationship(ctx, graph.Relationship{
		FromID: "c_a", ToID: "c_b", RelType: "SUPPORTS", Confidence: 0.6,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertRelationship(ctx, graph.Relationship{
		FromID: "c_a", ToID: "c_b", RelType: "SUPPORTS", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.False(t, created)

	// Lower confidence never downgrades the stored edge.
	_, err = s.UpsertRelationship(ctx, graph.Relationship{
		FromID: "c_a", ToID: "c_b", RelType: "SUPPORTS", Confidence: 0.3,
	})
	require.NoError(t, err)

	require.NoError(t, s.CreateConcept(ctx, testConcept("c_b", "B", nil)))
	out, err := s.Outgoing(ctx, "c_a")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)
}

func TestUpsertRelationship_SelfLoopDropped(t *testing.T) {
	s := New()
	created, err := s.UpsertRelationship(context.Background(), graph.Relationship{
		FromID: "c_a", ToID: "c_a", RelType: "SUPPORTS", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUpsertRelationship_ResolvesMergedType(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AddRelType(ctx, graph.RelType{Name: "BACKS_UP", IsActive: true}))
	require.NoError(t, s.MergeRelTypes(ctx, "BACKS_UP", "SUPPORTS"))

	created, err := s.UpsertRelationship(ctx, graph.Relationship{
		FromID: "c_a", ToID: "c_b", RelType: "BACKS_UP", Confidence: 0.5,
	})
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, s.CreateConcept(ctx, testConcept("c_b", "B", nil)))
	out, err := s.Outgoing(ctx, "c_a")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "SUPPORTS", out[0].RelType)
}

func TestMergeRelTypes_Validation(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.Error(t, s.MergeRelTypes(ctx, "SUPPORTS", "SUPPORTS"))
	assert.Error(t, s.MergeRelTypes(ctx, "MISSING", "SUPPORTS"))
	assert.Error(t, s.MergeRelTypes(ctx, "SUPPORTS", "MISSING"))
}

func TestResolveRelType(t *testing.T) {
	s := New()
	ctx := context.Background()

	name, ok, err := s.ResolveRelType(ctx, "SUPPORTS")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SUPPORTS", name)

	_, ok, err = s.ResolveRelType(ctx, "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeConceptPair(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateConcept(ctx, testConcept("c_keep", "Keep", []float32{1, 0})))
	loser := testConcept("c_lose", "Lose", []float32{1, 0})
	loser.Ontologies = []string{"biology"}
	loser.AppearsIn = []string{"s_x"}
	require.NoError(t, s.CreateConcept(ctx, loser))
	require.NoError(t, s.CreateConcept(ctx, testConcept("c_third", "Third", nil)))

	_, err := s.CreateInstance(ctx, graph.Instance{
		ID: "i_1", ConceptID: "c_lose", SourceID: "s_x", Quote: "q", Start: 0, End: 1,
	})
	require.NoError(t, err)

	_, err = s.UpsertRelationship(ctx, graph.Relationship{
		FromID: "c_lose", ToID: "c_third", RelType: "IMPLIES", Confidence: 0.8,
	})
	require.NoError(t, err)
	_, err = s.UpsertRelationship(ctx, graph.Relationship{
		FromID: "c_keep", ToID: "c_lose", RelType: "SUPPORTS", Confidence: 0.7,
	})
	require.NoError(t, err)

	require.NoError(t, s.MergeConceptPair(ctx, "c_keep", "c_lose"))

	_, err = s.GetConcept(ctx, "c_lose")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	kept, err := s.GetConcept(ctx, "c_keep")
	require.NoError(t, err)
	assert.Contains(t, kept.SearchTerms, "Lose")
	assert.ElementsMatch(t, []string{"research", "biology"}, kept.Ontologies)
	assert.Contains(t, kept.AppearsIn, "s_x")

	// Evidence moved to the canonical concept.
	n, err := s.CountInstances(ctx, "c_keep")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Outgoing edge rewritten; the keep->lose edge became a self loop and
	// was dropped.
	out, err := s.Outgoing(ctx, "c_keep")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c_third", out[0].ConceptID)
	assert.Equal(t, "IMPLIES", out[0].RelType)
}

func TestEvidenceForConcept_Ordering(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.UpsertSource(ctx, testSource(i))
		require.NoError(t, err)
	}

	later := graph.Instance{ID: "i_late", ConceptID: "c_1", SourceID: graph.SourceID("dochash", 1), Quote: "later", Start: 5, End: 10}
	early := graph.Instance{ID: "i_early", ConceptID: "c_1", SourceID: graph.SourceID("dochash", 0), Quote: "early", Start: 40, End: 45}
	first := graph.Instance{ID: "i_first", ConceptID: "c_1", SourceID: graph.SourceID("dochash", 0), Quote: "first", Start: 2, End: 7}

	for _, in := range []graph.Instance{later, early, first} {
		_, err := s.CreateInstance(ctx, in)
		require.NoError(t, err)
	}

	evidence, err := s.EvidenceForConcept(ctx, "c_1")
	require.NoError(t, err)
	require.Len(t, evidence, 3)
	assert.Equal(t, "first", evidence[0].Quote)
	assert.Equal(t, "early", evidence[1].Quote)
	assert.Equal(t, "later", evidence[2].Quote)

	sample, err := s.EvidenceSample(ctx, "c_1", 2)
	require.NoError(t, err)
	assert.Len(t, sample, 2)
}

func TestConceptsByDocument(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.UpsertSource(ctx, testSource(0))
	require.NoError(t, err)

	c := testConcept("c_doc", "Doc Concept", nil)
	c.AppearsIn = []string{graph.SourceID("dochash", 0)}
	require.NoError(t, s.CreateConcept(ctx, c))
	require.NoError(t, s.CreateConcept(ctx, testConcept("c_elsewhere", "Elsewhere", nil)))

	got, err := s.ConceptsByDocument(ctx, "dochash")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c_doc", got[0].ID)
}

func TestDeleteOntology(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.UpsertSource(ctx, testSource(0))
	require.NoError(t, err)
	srcID := graph.SourceID("dochash", 0)

	exclusive := testConcept("c_only", "Only Research", nil)
	exclusive.AppearsIn = []string{srcID}
	require.NoError(t, s.CreateConcept(ctx, exclusive))

	shared := testConcept("c_shared", "Shared", nil)
	shared.Ontologies = []string{"research", "biology"}
	shared.AppearsIn = []string{srcID, "s_bio"}
	require.NoError(t, s.CreateConcept(ctx, shared))

	_, err = s.CreateInstance(ctx, graph.Instance{ID: "i_1", ConceptID: "c_only", SourceID: srcID, Quote: "q", Start: 0, End: 1})
	require.NoError(t, err)
	_, err = s.UpsertRelationship(ctx, graph.Relationship{FromID: "c_only", ToID: "c_shared", RelType: "SUPPORTS", Confidence: 0.9})
	require.NoError(t, err)
	require.NoError(t, s.UpsertDocument(ctx, graph.DocumentMeta{DocumentHash: "dochash", Document: "notes.md", Ontology: "research"}))

	counts, err := s.DeleteOntology(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Concepts)
	assert.Equal(t, int64(1), counts.Sources)
	assert.Equal(t, int64(1), counts.Instances)
	assert.Equal(t, int64(1), counts.Relationships)

	_, err = s.GetConcept(ctx, "c_only")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	kept, err := s.GetConcept(ctx, "c_shared")
	require.NoError(t, err)
	assert.Equal(t, []string{"biology"}, kept.Ontologies)
	assert.Equal(t, []string{"s_bio"}, kept.AppearsIn)

	_, err = s.GetDocument(ctx, "dochash")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestListOntologies(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.UpsertSource(ctx, testSource(0))
	require.NoError(t, err)
	bio := testSource(1)
	bio.ID = graph.SourceID("biohash", 0)
	bio.DocumentHash = "biohash"
	bio.Ontology = "biology"
	_, err = s.UpsertSource(ctx, bio)
	require.NoError(t, err)

	infos, err := s.ListOntologies(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "biology", infos[0].Name)
	assert.Equal(t, "research", infos[1].Name)
}
