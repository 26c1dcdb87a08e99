// Package graph defines the concept graph data model and the storage
// contract implemented by its backends.
package graph

import "time"

// Concept is a deduplicated idea extracted from one or more documents.
type Concept struct {
	// ID is the stable fingerprint identifier (see ConceptID).
	ID string `json:"concept_id"`

	// Label is the canonical display name chosen at creation time.
	Label string `json:"label"`

	// Description is a one-or-two sentence definition from the first extraction.
	Description string `json:"description"`

	// SearchTerms are alternate names and phrasings, unioned across merges.
	SearchTerms []string `json:"search_terms"`

	// Embedding is the unit-normalized vector for the concept.
	Embedding []float32 `json:"-"`

	// EmbeddingModel identifies the model that produced Embedding.
	// Concepts whose model differs from the active one are stale and
	// excluded from similarity search until re-embedded.
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// Ontologies lists every ontology this concept appears in.
	Ontologies []string `json:"ontologies"`

	// AppearsIn lists source ids the concept was extracted from.
	AppearsIn []string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is one chunk of an ingested document.
type Source struct {
	// ID is derived from the document hash and chunk index (see SourceID).
	ID string `json:"source_id"`

	// Document is the display name of the originating document.
	Document string `json:"document"`

	// DocumentHash is the sha256 of the canonical document text.
	DocumentHash string `json:"document_hash"`

	// Ontology is the namespace the document was ingested into.
	Ontology string `json:"ontology"`

	// ChunkIndex is the zero-based position of this chunk.
	ChunkIndex int `json:"chunk_index"`

	// FullText is the exact chunk text instances index into.
	FullText string `json:"full_text"`

	CreatedAt time.Time `json:"created_at"`
}

// Instance is a verbatim evidence quote anchoring a concept to a source.
// The invariant FullText[Start:End] == Quote holds for the owning source.
type Instance struct {
	ID        string    `json:"instance_id"`
	ConceptID string    `json:"concept_id"`
	SourceID  string    `json:"source_id"`
	Quote     string    `json:"quote"`
	Start     int       `json:"char_offset_start"`
	End       int       `json:"char_offset_end"`
	CreatedAt time.Time `json:"created_at"`
}

// Relationship is a typed, directed edge between two concepts.
type Relationship struct {
	FromID            string    `json:"from_id"`
	ToID              string    `json:"to_id"`
	RelType           string    `json:"rel_type"`
	Confidence        float64   `json:"confidence"`
	CreatedFromSource string    `json:"created_from_source,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RelType is a governed vocabulary entry for relationship types.
type RelType struct {
	Name        string `json:"rel_type"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
	// MergedInto names the surviving type when this one has been merged away.
	MergedInto string    `json:"merged_into,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentMeta summarizes a fully ingested document.
type DocumentMeta struct {
	DocumentHash string    `json:"document_hash"`
	Document     string    `json:"document"`
	Ontology     string    `json:"ontology"`
	ChunkCount   int       `json:"chunk_count"`
	ConceptCount int       `json:"concept_count"`
	JobID        string    `json:"job_id"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// Evidence is an instance joined with its source context for query results.
type Evidence struct {
	Quote      string `json:"quote"`
	Document   string `json:"document"`
	SourceID   string `json:"source_id"`
	ChunkIndex int    `json:"chunk_index"`
	Start      int    `json:"char_offset_start"`
	End        int    `json:"char_offset_end"`
}

// RelatedConcept is an outgoing relationship joined with the target label.
type RelatedConcept struct {
	ConceptID  string  `json:"concept_id"`
	Label      string  `json:"label"`
	RelType    string  `json:"rel_type"`
	Confidence float64 `json:"confidence"`
}

// ConceptDetails is a concept with its full evidence and outgoing edges.
type ConceptDetails struct {
	Concept       Concept          `json:"concept"`
	Evidence      []Evidence       `json:"evidence"`
	Relationships []RelatedConcept `json:"relationships"`
	// EmbeddingStale is set when the stored vector was produced by a
	// different model than the active one.
	EmbeddingStale bool `json:"embedding_stale,omitempty"`
}

// Neighbor is one hop of graph traversal.
type Neighbor struct {
	ConceptID  string
	Label      string
	RelType    string
	Confidence float64
}

// Hit is a similarity search result.
type Hit struct {
	Concept    Concept
	Similarity float64
}

// OntologyInfo summarizes one ontology namespace.
type OntologyInfo struct {
	Name           string    `json:"name"`
	ConceptCount   int64     `json:"concept_count"`
	SourceCount    int64     `json:"source_count"`
	DocumentCount  int64     `json:"document_count"`
	LastIngestedAt time.Time `json:"last_ingested_at,omitempty"`
}

// Stats holds whole-graph node and edge counts.
type Stats struct {
	Concepts      int64 `json:"concepts"`
	Sources       int64 `json:"sources"`
	Instances     int64 `json:"instances"`
	Relationships int64 `json:"relationships"`
	RelTypes      int64 `json:"rel_types"`
	Documents     int64 `json:"documents"`
}
