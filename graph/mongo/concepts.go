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

// CreateConcept inserts a new concept document.
func (s *Store) CreateConcept(ctx context.Context, c graph.Concept) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if _, err := s.concepts.InsertOne(ctx, fromConcept(c)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return graph.ErrDuplicateID
		}
		return graph.NewStoreError("create concept", err)
	}
	return nil
}

// MergeConcept unions merge data into an existing concept.
func (s *Store) MergeConcept(ctx context.Context, id string, m graph.ConceptMerge) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	addToSet := bson.M{}
	if len(m.SearchTerms) > 0 {
		addToSet["search_terms"] = bson.M{"$each": m.SearchTerms}
	}
	if m.Ontology != "" {
		addToSet["ontologies"] = m.Ontology
	}
	if m.SourceID != "" {
		addToSet["appears_in"] = m.SourceID
	}

	update := bson.M{"$set": bson.M{"updated_at": time.Now().UTC()}}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}

	res, err := s.concepts.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return graph.NewStoreError("merge concept", err)
	}
	if res.MatchedCount == 0 {
		return graph.ErrNotFound
	}
	return nil
}

// GetConcept returns a concept by id.
func (s *Store) GetConcept(ctx context.Context, id string) (graph.Concept, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc conceptDoc
	if err := s.concepts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return graph.Concept{}, graph.ErrNotFound
		}
		return graph.Concept{}, graph.NewStoreError("get concept", err)
	}
	return doc.toConcept(), nil
}

// ConceptsByDocument returns concepts appearing in any chunk of a document.
func (s *Store) ConceptsByDocument(ctx context.Context, documentHash string) ([]graph.Concept, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids, err := s.sourceIDsForDocument(ctx, documentHash)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := s.concepts.Find(ctx, bson.M{"appears_in": bson.M{"$in": ids}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, graph.NewStoreError("concepts by document", err)
	}
	var docs []conceptDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("concepts by document", err)
	}

	out := make([]graph.Concept, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toConcept())
	}
	return out, nil
}

func (s *Store) sourceIDsForDocument(ctx context.Context, documentHash string) ([]string, error) {
	cursor, err := s.sources.Find(ctx, bson.M{"document_hash": documentHash},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, graph.NewStoreError("sources for document", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("sources for document", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// SimilaritySearch scans embeddings and scores cosine similarity in
// process, matching the reference engine's full-scan behavior.
func (s *Store) SimilaritySearch(ctx context.Context, q graph.SimilarityQuery) ([]graph.Hit, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"embedding.0": bson.M{"$exists": true}}
	if q.Ontology != "" {
		filter["ontologies"] = q.Ontology
	}
	if q.Model != "" {
		// Concepts without a recorded model predate tracking and still count.
		filter["embedding_model"] = bson.M{"$in": bson.A{q.Model, "", nil}}
	}

	cursor, err := s.concepts.Find(ctx, filter)
	if err != nil {
		return nil, graph.NewStoreError("similarity search", err)
	}
	defer cursor.Close(ctx)

	var hits []graph.Hit
	for cursor.Next(ctx) {
		var doc conceptDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, graph.NewStoreError("similarity search decode", err)
		}
		sim := graph.Cosine(q.Vector, doc.Embedding)
		if sim < q.MinScore {
			continue
		}
		hits = append(hits, graph.Hit{Concept: doc.toConcept(), Similarity: sim})
	}
	if err := cursor.Err(); err != nil {
		return nil, graph.NewStoreError("similarity search", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Concept.ID < hits[j].Concept.ID
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

// ConceptEmbeddings projects id, label and vector for reconciliation.
func (s *Store) ConceptEmbeddings(ctx context.Context, ontology string) ([]graph.ConceptEmbedding, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"embedding.0": bson.M{"$exists": true}}
	if ontology != "" {
		filter["ontologies"] = ontology
	}

	cursor, err := s.concepts.Find(ctx, filter, options.Find().
		SetProjection(bson.M{"label": 1, "embedding": 1, "created_at": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, graph.NewStoreError("concept embeddings", err)
	}
	var docs []conceptDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("concept embeddings", err)
	}

	out := make([]graph.ConceptEmbedding, 0, len(docs))
	for _, d := range docs {
		out = append(out, graph.ConceptEmbedding{
			ID:        d.ID,
			Label:     d.Label,
			Embedding: d.Embedding,
			CreatedAt: d.CreatedAt.UnixNano(),
		})
	}
	return out, nil
}

// MergeConceptPair folds loser into canonical. The steps are individually
// idempotent so a crash mid-merge is repaired by re-running the sweep.
func (s *Store) MergeConceptPair(ctx context.Context, canonicalID, loserID string) error {
	if canonicalID == loserID {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 4*s.timeout)
	defer cancel()

	loser, err := s.GetConcept(ctx, loserID)
	if err != nil {
		return err
	}
	if _, err := s.GetConcept(ctx, canonicalID); err != nil {
		return err
	}

	update := bson.M{
		"$addToSet": bson.M{
			"search_terms": bson.M{"$each": append(loser.SearchTerms, loser.Label)},
			"ontologies":   bson.M{"$each": loser.Ontologies},
			"appears_in":   bson.M{"$each": loser.AppearsIn},
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	if _, err := s.concepts.UpdateOne(ctx, bson.M{"_id": canonicalID}, update); err != nil {
		return graph.NewStoreError("merge pair union", err)
	}

	if err := s.moveInstances(ctx, canonicalID, loserID); err != nil {
		return err
	}
	if err := s.rewriteEdges(ctx, canonicalID, loserID); err != nil {
		return err
	}

	if _, err := s.concepts.DeleteOne(ctx, bson.M{"_id": loserID}); err != nil {
		return graph.NewStoreError("merge pair delete", err)
	}
	return nil
}

func (s *Store) moveInstances(ctx context.Context, canonicalID, loserID string) error {
	cursor, err := s.instances.Find(ctx, bson.M{"concept_id": loserID})
	if err != nil {
		return graph.NewStoreError("merge pair instances", err)
	}
	var docs []instanceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return graph.NewStoreError("merge pair instances", err)
	}

	for _, d := range docs {
		key := instanceDedupKey(canonicalID, d.SourceID, d.Start, d.End, d.Quote)
		_, err := s.instances.UpdateOne(ctx, bson.M{"_id": d.ID},
			bson.M{"$set": bson.M{"concept_id": canonicalID, "dedup_key": key}})
		if err == nil {
			continue
		}
		if !mongodriver.IsDuplicateKeyError(err) {
			return graph.NewStoreError("merge pair move instance", err)
		}
		// Canonical already holds this exact quote.
		if _, err := s.instances.DeleteOne(ctx, bson.M{"_id": d.ID}); err != nil {
			return graph.NewStoreError("merge pair drop instance", err)
		}
	}
	return nil
}

func (s *Store) rewriteEdges(ctx context.Context, canonicalID, loserID string) error {
	cursor, err := s.relationships.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"from_id": loserID},
		bson.M{"to_id": loserID},
	}})
	if err != nil {
		return graph.NewStoreError("merge pair edges", err)
	}
	var docs []relationshipDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return graph.NewStoreError("merge pair edges", err)
	}

	for _, d := range docs {
		from, to := d.FromID, d.ToID
		if from == loserID {
			from = canonicalID
		}
		if to == loserID {
			to = canonicalID
		}
		if from != to {
			newID := relationshipID(from, to, d.RelType)
			update := bson.M{
				"$max": bson.M{"confidence": d.Confidence},
				"$setOnInsert": bson.M{
					"from_id":             from,
					"to_id":               to,
					"rel_type":            d.RelType,
					"created_from_source": d.CreatedFromSource,
					"created_at":          d.CreatedAt,
				},
				"$set": bson.M{"updated_at": time.Now().UTC()},
			}
			if _, err := s.relationships.UpdateOne(ctx, bson.M{"_id": newID}, update, options.Update().SetUpsert(true)); err != nil {
				return graph.NewStoreError("merge pair rewrite edge", err)
			}
		}
		if _, err := s.relationships.DeleteOne(ctx, bson.M{"_id": d.ID}); err != nil {
			return graph.NewStoreError("merge pair drop edge", err)
		}
	}
	return nil
}
