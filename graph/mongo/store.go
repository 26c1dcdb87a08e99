// Package mongo implements graph.Store on MongoDB. Writes are shaped as
// idempotent upserts so at-least-once chunk processing never duplicates
// graph entities. Similarity search is a collection scan with in-process
// cosine scoring.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/c360studio/semgraph/graph"
)

const (
	defaultDatabase  = "semgraph"
	defaultOpTimeout = 10 * time.Second

	collConcepts      = "concepts"
	collSources       = "sources"
	collInstances     = "instances"
	collRelationships = "relationships"
	collVocabulary    = "vocabulary"
	collDocuments     = "documents"
)

// Options configures the Mongo graph store.
type Options struct {
	// Client is a connected driver client. Required.
	Client *mongodriver.Client

	// Database is the database name. Defaults to "semgraph".
	Database string

	// Timeout bounds individual store operations.
	Timeout time.Duration
}

// Store is the MongoDB-backed graph store.
type Store struct {
	client        *mongodriver.Client
	concepts      *mongodriver.Collection
	sources       *mongodriver.Collection
	instances     *mongodriver.Collection
	relationships *mongodriver.Collection
	vocabulary    *mongodriver.Collection
	documents     *mongodriver.Collection
	timeout       time.Duration
}

// New returns a Store backed by MongoDB, creating indexes and seeding the
// built-in vocabulary on first use.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	database := opts.Database
	if database == "" {
		database = defaultDatabase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(database)
	s := &Store{
		client:        opts.Client,
		concepts:      db.Collection(collConcepts),
		sources:       db.Collection(collSources),
		instances:     db.Collection(collInstances),
		relationships: db.Collection(collRelationships),
		vocabulary:    db.Collection(collVocabulary),
		documents:     db.Collection(collDocuments),
		timeout:       timeout,
	}

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.ensureIndexes(setupCtx); err != nil {
		return nil, graph.NewStoreError("ensure indexes", err)
	}
	if err := s.seedVocabulary(setupCtx); err != nil {
		return nil, graph.NewStoreError("seed vocabulary", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongodriver.Collection][]mongodriver.IndexModel{
		s.concepts: {
			{Keys: bson.D{{Key: "appears_in", Value: 1}}},
			{Keys: bson.D{{Key: "ontologies", Value: 1}}},
		},
		s.sources: {
			{Keys: bson.D{{Key: "document_hash", Value: 1}}},
			{Keys: bson.D{{Key: "ontology", Value: 1}}},
		},
		s.instances: {
			{Keys: bson.D{{Key: "dedup_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "concept_id", Value: 1}}},
			{Keys: bson.D{{Key: "source_id", Value: 1}}},
		},
		s.relationships: {
			{Keys: bson.D{{Key: "from_id", Value: 1}}},
			{Keys: bson.D{{Key: "to_id", Value: 1}}},
		},
		s.documents: {
			{Keys: bson.D{{Key: "ontology", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seedVocabulary(ctx context.Context) error {
	for _, rt := range graph.SeedVocabulary() {
		doc := fromRelType(rt)
		filter := bson.M{"_id": doc.Name}
		update := bson.M{"$setOnInsert": doc}
		if _, err := s.vocabulary.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Ping verifies the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Stats returns whole-graph counts.
func (s *Store) Stats(ctx context.Context) (graph.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		stats graph.Stats
		err   error
	)
	if stats.Concepts, err = s.concepts.CountDocuments(ctx, bson.M{}); err != nil {
		return graph.Stats{}, graph.NewStoreError("count concepts", err)
	}
	if stats.Sources, err = s.sources.CountDocuments(ctx, bson.M{}); err != nil {
		return graph.Stats{}, graph.NewStoreError("count sources", err)
	}
	if stats.Instances, err = s.instances.CountDocuments(ctx, bson.M{}); err != nil {
		return graph.Stats{}, graph.NewStoreError("count instances", err)
	}
	if stats.Relationships, err = s.relationships.CountDocuments(ctx, bson.M{}); err != nil {
		return graph.Stats{}, graph.NewStoreError("count relationships", err)
	}
	if stats.RelTypes, err = s.vocabulary.CountDocuments(ctx, bson.M{}); err != nil {
		return graph.Stats{}, graph.NewStoreError("count vocabulary", err)
	}
	if stats.Documents, err = s.documents.CountDocuments(ctx, bson.M{}); err != nil {
		return graph.Stats{}, graph.NewStoreError("count documents", err)
	}
	return stats, nil
}

var _ graph.Store = (*Store)(nil)
