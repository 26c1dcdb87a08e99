package export

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgraph/graph"
	"github.com/c360studio/semgraph/graph/memstore"
)

// seedStore builds a two-concept graph in the "biology" ontology with one
// edge, one evidence quote, and one ingested document.
func seedStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	ctx := context.Background()

	concepts := []graph.Concept{
		{
			ID:          "c_photo",
			Label:       "photosynthesis",
			Description: "Conversion of light into chemical energy.",
			SearchTerms: []string{"photosynthesis", "light reaction"},
			Embedding:   []float32{1, 0},
			Ontologies:  []string{"biology"},
		},
		{
			ID:         "c_glucose",
			Label:      "glucose",
			Embedding:  []float32{0, 1},
			Ontologies: []string{"biology"},
		},
	}
	for _, c := range concepts {
		require.NoError(t, s.CreateConcept(ctx, c))
	}

	_, err := s.UpsertSource(ctx, graph.Source{
		ID:           "src_0",
		Document:     "plants.md",
		DocumentHash: "hash_plants",
		Ontology:     "biology",
		ChunkIndex:   0,
		FullText:     "photosynthesis produces glucose in leaves",
	})
	require.NoError(t, err)

	created, err := s.CreateInstance(ctx, graph.Instance{
		ID:        "i_1",
		ConceptID: "c_photo",
		SourceID:  "src_0",
		Quote:     "photosynthesis produces glucose",
		Start:     0,
		End:       31,
	})
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, s.AddRelType(ctx, graph.RelType{
		Name:        "PRODUCES",
		Description: "Concept A produces Concept B",
		IsActive:    true,
	}))
	_, err = s.UpsertRelationship(ctx, graph.Relationship{
		FromID:     "c_photo",
		ToID:       "c_glucose",
		RelType:    "PRODUCES",
		Confidence: 0.9,
	})
	require.NoError(t, err)

	require.NoError(t, s.UpsertDocument(ctx, graph.DocumentMeta{
		DocumentHash: "hash_plants",
		Document:     "plants.md",
		Ontology:     "biology",
		ChunkCount:   1,
		ConceptCount: 2,
		IngestedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))

	return s
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"turtle", FormatTurtle, false},
		{"ttl", FormatTurtle, false},
		{"", FormatTurtle, false},
		{"N-Triples", FormatNTriples, false},
		{"jsonld", FormatJSONLD, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSnapshotOrdering(t *testing.T) {
	s := seedStore(t)
	e := New(s, Options{EvidenceLimit: 5})

	snap, err := e.Snapshot(context.Background(), "biology")
	require.NoError(t, err)

	require.Len(t, snap.Concepts, 2)
	assert.Equal(t, "c_glucose", snap.Concepts[0].Concept.ID)
	assert.Equal(t, "c_photo", snap.Concepts[1].Concept.ID)

	photo := snap.Concepts[1]
	require.Len(t, photo.Edges, 1)
	assert.Equal(t, "PRODUCES", photo.Edges[0].RelType)
	require.Len(t, photo.Evidence, 1)
	assert.Equal(t, "photosynthesis produces glucose", photo.Evidence[0].Quote)

	require.Len(t, snap.Documents, 1)
	assert.Equal(t, "plants.md", snap.Documents[0].Document)
}

func TestSnapshotUnknownOntology(t *testing.T) {
	e := New(memstore.New(), Options{})

	_, err := e.Snapshot(context.Background(), "nope")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestExportTurtle(t *testing.T) {
	s := seedStore(t)
	e := New(s, Options{EvidenceLimit: 5})

	out, err := e.Export(context.Background(), "biology", FormatTurtle)
	require.NoError(t, err)

	assert.Contains(t, out, "@prefix skos: <http://www.w3.org/2004/02/skos/core#> .")
	assert.Contains(t, out, "<"+SchemeNamespace+"biology>")
	assert.Contains(t, out, "<"+ConceptNamespace+"c_photo>")
	assert.Contains(t, out, `"photosynthesis"`)
	assert.Contains(t, out, `"Conversion of light into chemical energy."`)
	// Alternate labels exclude the preferred label itself.
	assert.Contains(t, out, `"light reaction"`)
	assert.Equal(t, 1, strings.Count(out, `"photosynthesis" ;`))
	// The edge points at the target concept IRI.
	assert.Contains(t, out, "<"+RelationNamespace+"PRODUCES> <"+ConceptNamespace+"c_glucose>")
	// Document provenance.
	assert.Contains(t, out, `"plants.md"`)
	assert.Contains(t, out, `"2026-03-01T12:00:00Z"^^xsd:dateTime`)
}

func TestExportNTriples(t *testing.T) {
	s := seedStore(t)
	e := New(s, Options{EvidenceLimit: 5})

	out, err := e.Export(context.Background(), "biology", FormatNTriples)
	require.NoError(t, err)

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.True(t, strings.HasSuffix(line, " ."), "line not terminated: %s", line)
		assert.True(t, strings.HasPrefix(line, "<"), "line has no subject IRI: %s", line)
	}

	assert.Contains(t, out,
		"<"+ConceptNamespace+"c_photo> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://www.w3.org/2004/02/skos/core#Concept> .")
	assert.Contains(t, out,
		"<"+ConceptNamespace+"c_photo> <"+RelationNamespace+"PRODUCES> <"+ConceptNamespace+"c_glucose> .")
}

func TestExportJSONLD(t *testing.T) {
	s := seedStore(t)
	e := New(s, Options{EvidenceLimit: 5})

	out, err := e.Export(context.Background(), "biology", FormatJSONLD)
	require.NoError(t, err)

	var doc struct {
		Context map[string]string `json:"@context"`
		Graph   []map[string]any  `json:"@graph"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))

	assert.Equal(t, ConceptNamespace, doc.Context["sgc"])
	// Scheme, two concepts, one document.
	require.Len(t, doc.Graph, 4)

	var photo map[string]any
	for _, n := range doc.Graph {
		if n["@id"] == ConceptNamespace+"c_photo" {
			photo = n
		}
	}
	require.NotNil(t, photo, "c_photo node missing")
	assert.Equal(t, "photosynthesis", photo["http://www.w3.org/2004/02/skos/core#prefLabel"])

	edge, ok := photo[RelationNamespace+"PRODUCES"].(map[string]any)
	require.True(t, ok, "edge should be an @id reference")
	assert.Equal(t, ConceptNamespace+"c_glucose", edge["@id"])
}

func TestEscapeLiteral(t *testing.T) {
	in := "a \"quoted\"\nline\twith\\slashes"
	out := escapeLiteral(in)
	assert.Equal(t, `a \"quoted\"\nline\twith\\slashes`, out)
}

func TestRelTypeIRI(t *testing.T) {
	assert.Equal(t, RelationNamespace+"PART_OF", relTypeIRI("PART_OF"))
	assert.Equal(t, RelationNamespace+"relates_to", relTypeIRI("relates to"))
}
