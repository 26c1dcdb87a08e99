package mongo

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/c360studio/semgraph/graph"
)

// UpsertSource stores a chunk source, reporting whether it was new.
func (s *Store) UpsertSource(ctx context.Context, src graph.Source) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	res, err := s.sources.UpdateOne(ctx,
		bson.M{"_id": src.ID},
		bson.M{"$setOnInsert": fromSource(src)},
		options.Update().SetUpsert(true))
	if err != nil {
		return false, graph.NewStoreError("upsert source", err)
	}
	return res.UpsertedCount > 0, nil
}

// GetSource returns a source by id.
func (s *Store) GetSource(ctx context.Context, id string) (graph.Source, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc sourceDoc
	if err := s.sources.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return graph.Source{}, graph.ErrNotFound
		}
		return graph.Source{}, graph.NewStoreError("get source", err)
	}
	return doc.toSource(), nil
}

// CreateInstance stores an evidence quote. The unique dedup index makes
// re-inserting an identical quote a no-op.
func (s *Store) CreateInstance(ctx context.Context, in graph.Instance) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	if _, err := s.instances.InsertOne(ctx, fromInstance(in)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, graph.NewStoreError("create instance", err)
	}
	return true, nil
}

// EvidenceForConcept returns all evidence ordered by document position.
func (s *Store) EvidenceForConcept(ctx context.Context, conceptID string) ([]graph.Evidence, error) {
	return s.evidence(ctx, conceptID, 0)
}

// EvidenceSample returns up to limit evidence quotes in stable order.
func (s *Store) EvidenceSample(ctx context.Context, conceptID string, limit int) ([]graph.Evidence, error) {
	return s.evidence(ctx, conceptID, limit)
}

func (s *Store) evidence(ctx context.Context, conceptID string, limit int) ([]graph.Evidence, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := s.instances.Find(ctx, bson.M{"concept_id": conceptID})
	if err != nil {
		return nil, graph.NewStoreError("evidence", err)
	}
	var docs []instanceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("evidence", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	sourceIDs := make([]string, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if !seen[d.SourceID] {
			seen[d.SourceID] = true
			sourceIDs = append(sourceIDs, d.SourceID)
		}
	}

	srcCursor, err := s.sources.Find(ctx, bson.M{"_id": bson.M{"$in": sourceIDs}},
		options.Find().SetProjection(bson.M{"document": 1, "chunk_index": 1}))
	if err != nil {
		return nil, graph.NewStoreError("evidence sources", err)
	}
	var srcDocs []sourceDoc
	if err := srcCursor.All(ctx, &srcDocs); err != nil {
		return nil, graph.NewStoreError("evidence sources", err)
	}
	srcByID := make(map[string]sourceDoc, len(srcDocs))
	for _, sd := range srcDocs {
		srcByID[sd.ID] = sd
	}

	out := make([]graph.Evidence, 0, len(docs))
	for _, d := range docs {
		ev := graph.Evidence{
			Quote:    d.Quote,
			SourceID: d.SourceID,
			Start:    d.Start,
			End:      d.End,
		}
		if sd, ok := srcByID[d.SourceID]; ok {
			ev.Document = sd.Document
			ev.ChunkIndex = sd.ChunkIndex
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Document != out[j].Document {
			return out[i].Document < out[j].Document
		}
		if out[i].ChunkIndex != out[j].ChunkIndex {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].Start < out[j].Start
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountInstances returns the number of evidence quotes for a concept.
func (s *Store) CountInstances(ctx context.Context, conceptID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.instances.CountDocuments(ctx, bson.M{"concept_id": conceptID})
	if err != nil {
		return 0, graph.NewStoreError("count instances", err)
	}
	return n, nil
}
