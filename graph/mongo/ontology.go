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

// UpsertDocument records an ingested document summary.
func (s *Store) UpsertDocument(ctx context.Context, d graph.DocumentMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if d.IngestedAt.IsZero() {
		d.IngestedAt = time.Now().UTC()
	}
	_, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": d.DocumentHash},
		bson.M{"$set": fromDocumentMeta(d)},
		options.Update().SetUpsert(true))
	if err != nil {
		return graph.NewStoreError("upsert document", err)
	}
	return nil
}

// GetDocument returns a document summary by hash.
func (s *Store) GetDocument(ctx context.Context, documentHash string) (graph.DocumentMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc documentDoc
	if err := s.documents.FindOne(ctx, bson.M{"_id": documentHash}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return graph.DocumentMeta{}, graph.ErrNotFound
		}
		return graph.DocumentMeta{}, graph.NewStoreError("get document", err)
	}
	return doc.toDocumentMeta(), nil
}

// ListOntologies summarizes every namespace seen in sources or concepts.
func (s *Store) ListOntologies(ctx context.Context) ([]graph.OntologyInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	names := make(map[string]bool)
	fromSources, err := s.sources.Distinct(ctx, "ontology", bson.M{})
	if err != nil {
		return nil, graph.NewStoreError("list ontologies", err)
	}
	for _, v := range fromSources {
		if name, ok := v.(string); ok && name != "" {
			names[name] = true
		}
	}
	fromConcepts, err := s.concepts.Distinct(ctx, "ontologies", bson.M{})
	if err != nil {
		return nil, graph.NewStoreError("list ontologies", err)
	}
	for _, v := range fromConcepts {
		if name, ok := v.(string); ok && name != "" {
			names[name] = true
		}
	}

	out := make([]graph.OntologyInfo, 0, len(names))
	for name := range names {
		info, err := s.ontologyInfo(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetOntology summarizes one namespace.
func (s *Store) GetOntology(ctx context.Context, name string) (graph.OntologyInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	info, err := s.ontologyInfo(ctx, name)
	if err != nil {
		return graph.OntologyInfo{}, err
	}
	if info.ConceptCount == 0 && info.SourceCount == 0 {
		return graph.OntologyInfo{}, graph.ErrNotFound
	}
	return info, nil
}

func (s *Store) ontologyInfo(ctx context.Context, name string) (graph.OntologyInfo, error) {
	info := graph.OntologyInfo{Name: name}

	var err error
	if info.ConceptCount, err = s.concepts.CountDocuments(ctx, bson.M{"ontologies": name}); err != nil {
		return info, graph.NewStoreError("ontology concepts", err)
	}
	if info.SourceCount, err = s.sources.CountDocuments(ctx, bson.M{"ontology": name}); err != nil {
		return info, graph.NewStoreError("ontology sources", err)
	}
	if info.DocumentCount, err = s.documents.CountDocuments(ctx, bson.M{"ontology": name}); err != nil {
		return info, graph.NewStoreError("ontology documents", err)
	}

	var latest documentDoc
	err = s.documents.FindOne(ctx, bson.M{"ontology": name},
		options.FindOne().SetSort(bson.D{{Key: "ingested_at", Value: -1}})).Decode(&latest)
	switch {
	case err == nil:
		info.LastIngestedAt = latest.IngestedAt
	case errors.Is(err, mongodriver.ErrNoDocuments):
	default:
		return info, graph.NewStoreError("ontology latest document", err)
	}
	return info, nil
}

// OntologyDocuments lists documents ingested into a namespace.
func (s *Store) OntologyDocuments(ctx context.Context, name string) ([]graph.DocumentMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := s.documents.Find(ctx, bson.M{"ontology": name},
		options.Find().SetSort(bson.D{{Key: "ingested_at", Value: 1}}))
	if err != nil {
		return nil, graph.NewStoreError("ontology documents", err)
	}
	var docs []documentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("ontology documents", err)
	}
	out := make([]graph.DocumentMeta, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDocumentMeta())
	}
	return out, nil
}

// DeleteOntology removes a namespace's sources, instances and exclusive
// concepts. Shared concepts lose the namespace and its source links only.
func (s *Store) DeleteOntology(ctx context.Context, name string) (graph.DeleteCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, 6*s.timeout)
	defer cancel()

	var counts graph.DeleteCounts

	sourceIDs, err := s.ontologySourceIDs(ctx, name)
	if err != nil {
		return counts, err
	}

	if len(sourceIDs) > 0 {
		res, err := s.instances.DeleteMany(ctx, bson.M{"source_id": bson.M{"$in": sourceIDs}})
		if err != nil {
			return counts, graph.NewStoreError("delete ontology instances", err)
		}
		counts.Instances = res.DeletedCount
	}

	srcRes, err := s.sources.DeleteMany(ctx, bson.M{"ontology": name})
	if err != nil {
		return counts, graph.NewStoreError("delete ontology sources", err)
	}
	counts.Sources = srcRes.DeletedCount

	// Concepts whose only namespace is the one being deleted.
	exclusiveCursor, err := s.concepts.Find(ctx, bson.M{"ontologies": bson.A{name}},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return counts, graph.NewStoreError("delete ontology concepts", err)
	}
	var exclusive []conceptDoc
	if err := exclusiveCursor.All(ctx, &exclusive); err != nil {
		return counts, graph.NewStoreError("delete ontology concepts", err)
	}
	exclusiveIDs := make([]string, 0, len(exclusive))
	for _, d := range exclusive {
		exclusiveIDs = append(exclusiveIDs, d.ID)
	}

	if len(exclusiveIDs) > 0 {
		res, err := s.concepts.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": exclusiveIDs}})
		if err != nil {
			return counts, graph.NewStoreError("delete ontology concepts", err)
		}
		counts.Concepts = res.DeletedCount

		relRes, err := s.relationships.DeleteMany(ctx, bson.M{"$or": bson.A{
			bson.M{"from_id": bson.M{"$in": exclusiveIDs}},
			bson.M{"to_id": bson.M{"$in": exclusiveIDs}},
		}})
		if err != nil {
			return counts, graph.NewStoreError("delete ontology relationships", err)
		}
		counts.Relationships = relRes.DeletedCount

		instRes, err := s.instances.DeleteMany(ctx, bson.M{"concept_id": bson.M{"$in": exclusiveIDs}})
		if err != nil {
			return counts, graph.NewStoreError("delete ontology concept instances", err)
		}
		counts.Instances += instRes.DeletedCount
	}

	// Shared concepts keep other namespaces; detach this one.
	pull := bson.M{"ontologies": name}
	if len(sourceIDs) > 0 {
		pull["appears_in"] = bson.M{"$in": sourceIDs}
	}
	_, err = s.concepts.UpdateMany(ctx, bson.M{"ontologies": name}, bson.M{
		"$pull": pull,
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return counts, graph.NewStoreError("detach ontology concepts", err)
	}

	if _, err := s.documents.DeleteMany(ctx, bson.M{"ontology": name}); err != nil {
		return counts, graph.NewStoreError("delete ontology documents", err)
	}

	return counts, nil
}

func (s *Store) ontologySourceIDs(ctx context.Context, name string) ([]string, error) {
	cursor, err := s.sources.Find(ctx, bson.M{"ontology": name},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, graph.NewStoreError("ontology source ids", err)
	}
	var docs []sourceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.NewStoreError("ontology source ids", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
