package mongo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/c360studio/semgraph/graph"
)

func (s *Store) loadVocabulary(ctx context.Context) (map[string]graph.RelType, error) {
	cursor, err := s.vocabulary.Find(ctx, bson.M{})
	if err != nil {
		return nil, graph.NewStoreError("load vocabulary", err)
	}
	var docs []relTypeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("load vocabulary", err)
	}
	types := make(map[string]graph.RelType, len(docs))
	for _, d := range docs {
		types[d.Name] = d.toRelType()
	}
	return types, nil
}

// UpsertRelationship coalesces a typed edge on (from, to, rel_type) using
// $max so concurrent writers keep the highest confidence.
func (s *Store) UpsertRelationship(ctx context.Context, r graph.Relationship) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	types, err := s.loadVocabulary(ctx)
	if err != nil {
		return false, err
	}
	resolved, ok := graph.ResolveMerged(types, r.RelType)
	if !ok {
		return false, &graph.UnknownRelTypeError{RelType: r.RelType}
	}
	r.RelType = resolved

	if r.FromID == r.ToID {
		return false, nil
	}

	now := time.Now().UTC()
	id := relationshipID(r.FromID, r.ToID, r.RelType)
	update := bson.M{
		"$max": bson.M{"confidence": r.Confidence},
		"$setOnInsert": bson.M{
			"from_id":             r.FromID,
			"to_id":               r.ToID,
			"rel_type":            r.RelType,
			"created_from_source": r.CreatedFromSource,
			"created_at":          now,
		},
		"$set": bson.M{"updated_at": now},
	}
	res, err := s.relationships.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, graph.NewStoreError("upsert relationship", err)
	}
	return res.UpsertedCount > 0, nil
}

// Outgoing returns edges leaving a concept with target labels attached.
func (s *Store) Outgoing(ctx context.Context, conceptID string) ([]graph.RelatedConcept, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := s.relationships.Find(ctx, bson.M{"from_id": conceptID})
	if err != nil {
		return nil, graph.NewStoreError("outgoing", err)
	}
	var docs []relationshipDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("outgoing", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	targets := make([]string, 0, len(docs))
	for _, d := range docs {
		targets = append(targets, d.ToID)
	}
	labels, err := s.labelsFor(ctx, targets)
	if err != nil {
		return nil, err
	}

	out := make([]graph.RelatedConcept, 0, len(docs))
	for _, d := range docs {
		out = append(out, graph.RelatedConcept{
			ConceptID:  d.ToID,
			Label:      labels[d.ToID],
			RelType:    d.RelType,
			Confidence: d.Confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelType != out[j].RelType {
			return out[i].RelType < out[j].RelType
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

// Neighbors returns adjacent concepts in either edge direction.
func (s *Store) Neighbors(ctx context.Context, conceptID string, relTypes []string) ([]graph.Neighbor, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"from_id": conceptID},
		bson.M{"to_id": conceptID},
	}}
	if len(relTypes) > 0 {
		filter = bson.M{"$and": bson.A{filter, bson.M{"rel_type": bson.M{"$in": relTypes}}}}
	}

	cursor, err := s.relationships.Find(ctx, filter)
	if err != nil {
		return nil, graph.NewStoreError("neighbors", err)
	}
	var docs []relationshipDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("neighbors", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	others := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.FromID == conceptID {
			others = append(others, d.ToID)
		} else {
			others = append(others, d.FromID)
		}
	}
	labels, err := s.labelsFor(ctx, others)
	if err != nil {
		return nil, err
	}

	out := make([]graph.Neighbor, 0, len(docs))
	for _, d := range docs {
		other := d.ToID
		if d.ToID == conceptID {
			other = d.FromID
		}
		out = append(out, graph.Neighbor{
			ConceptID:  other,
			Label:      labels[other],
			RelType:    d.RelType,
			Confidence: d.Confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConceptID != out[j].ConceptID {
			return out[i].ConceptID < out[j].ConceptID
		}
		return out[i].RelType < out[j].RelType
	})
	return out, nil
}

func (s *Store) labelsFor(ctx context.Context, ids []string) (map[string]string, error) {
	cursor, err := s.concepts.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"label": 1}))
	if err != nil {
		return nil, graph.NewStoreError("labels", err)
	}
	var docs []conceptDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("labels", err)
	}
	labels := make(map[string]string, len(docs))
	for _, d := range docs {
		labels[d.ID] = d.Label
	}
	return labels, nil
}

// Vocabulary returns every relationship type sorted by name.
func (s *Store) Vocabulary(ctx context.Context) ([]graph.RelType, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := s.vocabulary.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, graph.NewStoreError("vocabulary", err)
	}
	var docs []relTypeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("vocabulary", err)
	}
	out := make([]graph.RelType, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRelType())
	}
	return out, nil
}

// AddRelType inserts a vocabulary entry; existing names are untouched.
func (s *Store) AddRelType(ctx context.Context, rt graph.RelType) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = time.Now().UTC()
	}
	_, err := s.vocabulary.UpdateOne(ctx,
		bson.M{"_id": rt.Name},
		bson.M{"$setOnInsert": fromRelType(rt)},
		options.Update().SetUpsert(true))
	if err != nil {
		return graph.NewStoreError("add rel type", err)
	}
	return nil
}

// MergeRelTypes deactivates loser and points it at winner.
func (s *Store) MergeRelTypes(ctx context.Context, loser, winner string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if loser == winner {
		return fmt.Errorf("cannot merge %s into itself", loser)
	}
	types, err := s.loadVocabulary(ctx)
	if err != nil {
		return err
	}
	if _, ok := types[loser]; !ok {
		return fmt.Errorf("merge rel types: %w", graph.ErrNotFound)
	}
	if _, ok := types[winner]; !ok {
		return fmt.Errorf("merge rel types: %w", graph.ErrNotFound)
	}
	if _, ok := graph.ResolveMerged(types, winner); !ok {
		return fmt.Errorf("merge target %s does not resolve to an active type", winner)
	}

	_, err = s.vocabulary.UpdateOne(ctx,
		bson.M{"_id": loser},
		bson.M{"$set": bson.M{"is_active": false, "merged_into": winner}})
	if err != nil {
		return graph.NewStoreError("merge rel types", err)
	}
	return nil
}

// ResolveRelType follows merged_into chains to an active name.
func (s *Store) ResolveRelType(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	types, err := s.loadVocabulary(ctx)
	if err != nil {
		return "", false, err
	}
	resolved, ok := graph.ResolveMerged(types, name)
	return resolved, ok, nil
}
