package graph

import "context"

// SimilarityQuery selects concepts by cosine similarity against a vector.
type SimilarityQuery struct {
	// Vector is the query embedding, assumed unit-normalized.
	Vector []float32

	// Limit caps the number of hits returned.
	Limit int

	// MinScore drops hits below this cosine similarity.
	MinScore float64

	// Ontology restricts hits to one namespace when non-empty.
	Ontology string

	// Model excludes concepts embedded by a different model when non-empty.
	Model string
}

// ConceptMerge carries the fields unioned into an existing concept when an
// extraction resolves to it. Label, description and embedding of the
// existing concept are kept untouched.
type ConceptMerge struct {
	SearchTerms []string
	Ontology    string
	SourceID    string
}

// ConceptEmbedding is the projection used by the reconciliation sweep.
type ConceptEmbedding struct {
	ID        string
	Label     string
	Embedding []float32
	CreatedAt int64
}

// DeleteCounts reports what an ontology deletion removed.
type DeleteCounts struct {
	Concepts      int64 `json:"concepts"`
	Sources       int64 `json:"sources"`
	Instances     int64 `json:"instances"`
	Relationships int64 `json:"relationships"`
}

// Store is the persistence contract for the concept graph. Implementations
// must make every write idempotent so that re-processing a chunk after a
// crash produces no duplicate entities.
type Store interface {
	// UpsertSource stores a chunk source. It reports whether the source
	// was newly created.
	UpsertSource(ctx context.Context, s Source) (bool, error)

	// GetSource returns a source by id, or ErrNotFound.
	GetSource(ctx context.Context, id string) (Source, error)

	// CreateConcept inserts a new concept. It returns ErrDuplicateID when
	// the id already exists.
	CreateConcept(ctx context.Context, c Concept) error

	// MergeConcept unions merge data into an existing concept.
	MergeConcept(ctx context.Context, id string, m ConceptMerge) error

	// GetConcept returns a concept by id, or ErrNotFound.
	GetConcept(ctx context.Context, id string) (Concept, error)

	// ConceptsByDocument returns every concept evidenced by the document,
	// used to rebuild the label map when a job resumes mid-document.
	ConceptsByDocument(ctx context.Context, documentHash string) ([]Concept, error)

	// SimilaritySearch scans concept embeddings and returns hits ordered
	// by descending cosine similarity.
	SimilaritySearch(ctx context.Context, q SimilarityQuery) ([]Hit, error)

	// ConceptEmbeddings streams id/label/vector projections for the
	// reconciliation sweep. Empty ontology selects all concepts.
	ConceptEmbeddings(ctx context.Context, ontology string) ([]ConceptEmbedding, error)

	// MergeConceptPair folds loser into canonical: evidence, sources and
	// relationships are rewritten to canonical and loser is deleted.
	MergeConceptPair(ctx context.Context, canonicalID, loserID string) error

	// CreateInstance stores an evidence quote. Re-creating an identical
	// instance (same source, offsets and quote) reports created=false.
	CreateInstance(ctx context.Context, in Instance) (bool, error)

	// EvidenceForConcept returns all evidence ordered by document, chunk
	// index and start offset.
	EvidenceForConcept(ctx context.Context, conceptID string) ([]Evidence, error)

	// EvidenceSample returns up to limit evidence quotes in stable order.
	EvidenceSample(ctx context.Context, conceptID string, limit int) ([]Evidence, error)

	// CountInstances returns the number of evidence quotes for a concept.
	CountInstances(ctx context.Context, conceptID string) (int64, error)

	// UpsertRelationship coalesces a typed edge on (from, to, rel_type),
	// keeping the maximum confidence seen. The rel_type must resolve to
	// an active vocabulary entry or UnknownRelTypeError is returned.
	UpsertRelationship(ctx context.Context, r Relationship) (bool, error)

	// Outgoing returns the edges leaving a concept with target labels.
	Outgoing(ctx context.Context, conceptID string) ([]RelatedConcept, error)

	// Neighbors returns adjacent concepts in either edge direction,
	// optionally restricted to the given relationship types.
	Neighbors(ctx context.Context, conceptID string, relTypes []string) ([]Neighbor, error)

	// Vocabulary returns every relationship type, active or merged.
	Vocabulary(ctx context.Context) ([]RelType, error)

	// AddRelType inserts a vocabulary entry. Adding an existing name is a
	// no-op so concurrent expansion stays idempotent.
	AddRelType(ctx context.Context, rt RelType) error

	// MergeRelTypes deactivates loser, pointing it at winner. Existing
	// edges keep their stored type; writes resolve through the chain.
	MergeRelTypes(ctx context.Context, loser, winner string) error

	// ResolveRelType follows merged_into chains to an active type name.
	ResolveRelType(ctx context.Context, name string) (string, bool, error)

	// UpsertDocument records an ingested document summary.
	UpsertDocument(ctx context.Context, d DocumentMeta) error

	// GetDocument returns a document summary by hash, or ErrNotFound.
	GetDocument(ctx context.Context, documentHash string) (DocumentMeta, error)

	// ListOntologies summarizes every ontology namespace.
	ListOntologies(ctx context.Context) ([]OntologyInfo, error)

	// GetOntology summarizes one ontology, or ErrNotFound.
	GetOntology(ctx context.Context, name string) (OntologyInfo, error)

	// OntologyDocuments lists the documents ingested into an ontology.
	OntologyDocuments(ctx context.Context, name string) ([]DocumentMeta, error)

	// DeleteOntology removes an ontology's sources, instances and
	// exclusive concepts. Shared concepts lose the namespace only.
	DeleteOntology(ctx context.Context, name string) (DeleteCounts, error)

	// Stats returns whole-graph counts.
	Stats(ctx context.Context) (Stats, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}
