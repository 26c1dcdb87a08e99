package mongo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/c360studio/semgraph/graph"
)

type conceptDoc struct {
	ID             string    `bson:"_id"`
	Label          string    `bson:"label"`
	Description    string    `bson:"description"`
	SearchTerms    []string  `bson:"search_terms"`
	Embedding      []float32 `bson:"embedding,omitempty"`
	EmbeddingModel string    `bson:"embedding_model,omitempty"`
	Ontologies     []string  `bson:"ontologies"`
	AppearsIn      []string  `bson:"appears_in"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func fromConcept(c graph.Concept) conceptDoc {
	return conceptDoc{
		ID:             c.ID,
		Label:          c.Label,
		Description:    c.Description,
		SearchTerms:    c.SearchTerms,
		Embedding:      c.Embedding,
		EmbeddingModel: c.EmbeddingModel,
		Ontologies:     c.Ontologies,
		AppearsIn:      c.AppearsIn,
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
}

func (d conceptDoc) toConcept() graph.Concept {
	return graph.Concept{
		ID:             d.ID,
		Label:          d.Label,
		Description:    d.Description,
		SearchTerms:    d.SearchTerms,
		Embedding:      d.Embedding,
		EmbeddingModel: d.EmbeddingModel,
		Ontologies:     d.Ontologies,
		AppearsIn:      d.AppearsIn,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type sourceDoc struct {
	ID           string    `bson:"_id"`
	Document     string    `bson:"document"`
	DocumentHash string    `bson:"document_hash"`
	Ontology     string    `bson:"ontology"`
	ChunkIndex   int       `bson:"chunk_index"`
	FullText     string    `bson:"full_text"`
	CreatedAt    time.Time `bson:"created_at"`
}

func fromSource(s graph.Source) sourceDoc {
	return sourceDoc{
		ID:           s.ID,
		Document:     s.Document,
		DocumentHash: s.DocumentHash,
		Ontology:     s.Ontology,
		ChunkIndex:   s.ChunkIndex,
		FullText:     s.FullText,
		CreatedAt:    s.CreatedAt.UTC(),
	}
}

func (d sourceDoc) toSource() graph.Source {
	return graph.Source{
		ID:           d.ID,
		Document:     d.Document,
		DocumentHash: d.DocumentHash,
		Ontology:     d.Ontology,
		ChunkIndex:   d.ChunkIndex,
		FullText:     d.FullText,
		CreatedAt:    d.CreatedAt,
	}
}

type instanceDoc struct {
	ID        string    `bson:"_id"`
	DedupKey  string    `bson:"dedup_key"`
	ConceptID string    `bson:"concept_id"`
	SourceID  string    `bson:"source_id"`
	Quote     string    `bson:"quote"`
	Start     int       `bson:"start"`
	End       int       `bson:"end"`
	CreatedAt time.Time `bson:"created_at"`
}

// instanceDedupKey hashes the identity tuple; quotes can exceed Mongo's
// index key limit, so the unique index is on this digest instead.
func instanceDedupKey(conceptID, sourceID string, start, end int, quote string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d|%s", conceptID, sourceID, start, end, quote)))
	return hex.EncodeToString(sum[:])
}

func fromInstance(in graph.Instance) instanceDoc {
	return instanceDoc{
		ID:        in.ID,
		DedupKey:  instanceDedupKey(in.ConceptID, in.SourceID, in.Start, in.End, in.Quote),
		ConceptID: in.ConceptID,
		SourceID:  in.SourceID,
		Quote:     in.Quote,
		Start:     in.Start,
		End:       in.End,
		CreatedAt: in.CreatedAt.UTC(),
	}
}

type relationshipDoc struct {
	ID                string    `bson:"_id"`
	FromID            string    `bson:"from_id"`
	ToID              string    `bson:"to_id"`
	RelType           string    `bson:"rel_type"`
	Confidence        float64   `bson:"confidence"`
	CreatedFromSource string    `bson:"created_from_source,omitempty"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func relationshipID(from, to, relType string) string {
	return from + "|" + to + "|" + relType
}

func (d relationshipDoc) toRelationship() graph.Relationship {
	return graph.Relationship{
		FromID:            d.FromID,
		ToID:              d.ToID,
		RelType:           d.RelType,
		Confidence:        d.Confidence,
		CreatedFromSource: d.CreatedFromSource,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type relTypeDoc struct {
	Name        string    `bson:"_id"`
	Description string    `bson:"description,omitempty"`
	IsActive    bool      `bson:"is_active"`
	MergedInto  string    `bson:"merged_into,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

func fromRelType(rt graph.RelType) relTypeDoc {
	return relTypeDoc{
		Name:        rt.Name,
		Description: rt.Description,
		IsActive:    rt.IsActive,
		MergedInto:  rt.MergedInto,
		CreatedAt:   rt.CreatedAt.UTC(),
	}
}

func (d relTypeDoc) toRelType() graph.RelType {
	return graph.RelType{
		Name:        d.Name,
		Description: d.Description,
		IsActive:    d.IsActive,
		MergedInto:  d.MergedInto,
		CreatedAt:   d.CreatedAt,
	}
}

type documentDoc struct {
	DocumentHash string    `bson:"_id"`
	Document     string    `bson:"document"`
	Ontology     string    `bson:"ontology"`
	ChunkCount   int       `bson:"chunk_count"`
	ConceptCount int       `bson:"concept_count"`
	JobID        string    `bson:"job_id,omitempty"`
	IngestedAt   time.Time `bson:"ingested_at"`
}

func fromDocumentMeta(d graph.DocumentMeta) documentDoc {
	return documentDoc{
		DocumentHash: d.DocumentHash,
		Document:     d.Document,
		Ontology:     d.Ontology,
		ChunkCount:   d.ChunkCount,
		ConceptCount: d.ConceptCount,
		JobID:        d.JobID,
		IngestedAt:   d.IngestedAt.UTC(),
	}
}

func (d documentDoc) toDocumentMeta() graph.DocumentMeta {
	return graph.DocumentMeta{
		DocumentHash: d.DocumentHash,
		Document:     d.Document,
		Ontology:     d.Ontology,
		ChunkCount:   d.ChunkCount,
		ConceptCount: d.ConceptCount,
		JobID:        d.JobID,
		IngestedAt:   d.IngestedAt,
	}
}
