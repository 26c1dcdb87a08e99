// Package memstore provides an in-memory graph.Store used by tests and by
// single-process development runs. Semantics mirror the mongo backend.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/semgraph/graph"
)

// Store is an in-memory implementation of graph.Store. All methods are
// safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	concepts      map[string]graph.Concept
	sources       map[string]graph.Source
	instances     map[string]graph.Instance
	instanceKeys  map[string]string // dedup key -> instance id
	relationships map[string]graph.Relationship
	vocabulary    map[string]graph.RelType
	documents     map[string]graph.DocumentMeta
}

// New creates an empty store seeded with the built-in vocabulary.
func New() *Store {
	s := &Store{
		concepts:      make(map[string]graph.Concept),
		sources:       make(map[string]graph.Source),
		instances:     make(map[string]graph.Instance),
		instanceKeys:  make(map[string]string),
		relationships: make(map[string]graph.Relationship),
		vocabulary:    make(map[string]graph.RelType),
		documents:     make(map[string]graph.DocumentMeta),
	}
	for _, rt := range graph.SeedVocabulary() {
		s.vocabulary[rt.Name] = rt
	}
	return s
}

func instanceKey(in graph.Instance) string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", in.ConceptID, in.SourceID, in.Start, in.End, in.Quote)
}

func relKey(from, to, relType string) string {
	return from + "|" + to + "|" + relType
}

// UpsertSource stores a chunk source, reporting whether it was new.
func (s *Store) UpsertSource(_ context.Context, src graph.Source) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[src.ID]; ok {
		return false, nil
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	s.sources[src.ID] = src
	return true, nil
}

// GetSource returns a source by id.
func (s *Store) GetSource(_ context.Context, id string) (graph.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return graph.Source{}, graph.ErrNotFound
	}
	return src, nil
}

// CreateConcept inserts a new concept.
func (s *Store) CreateConcept(_ context.Context, c graph.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.concepts[c.ID]; ok {
		return graph.ErrDuplicateID
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.concepts[c.ID] = c
	return nil
}

// MergeConcept unions merge data into an existing concept.
func (s *Store) MergeConcept(_ context.Context, id string, m graph.ConceptMerge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.concepts[id]
	if !ok {
		return graph.ErrNotFound
	}
	c.SearchTerms = unionStrings(c.SearchTerms, m.SearchTerms)
	if m.Ontology != "" {
		c.Ontologies = unionStrings(c.Ontologies, []string{m.Ontology})
	}
	if m.SourceID != "" {
		c.AppearsIn = unionStrings(c.AppearsIn, []string{m.SourceID})
	}
	c.UpdatedAt = time.Now().UTC()
	s.concepts[id] = c
	return nil
}

// GetConcept returns a concept by id.
func (s *Store) GetConcept(_ context.Context, id string) (graph.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.concepts[id]
	if !ok {
		return graph.Concept{}, graph.ErrNotFound
	}
	return c, nil
}

// ConceptsByDocument returns concepts appearing in any chunk of a document.
func (s *Store) ConceptsByDocument(_ context.Context, documentHash string) ([]graph.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docSources := make(map[string]bool)
	for id, src := range s.sources {
		if src.DocumentHash == documentHash {
			docSources[id] = true
		}
	}

	var out []graph.Concept
	for _, c := range s.concepts {
		for _, sid := range c.AppearsIn {
			if docSources[sid] {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SimilaritySearch scans all embeddings and returns cosine hits.
func (s *Store) SimilaritySearch(_ context.Context, q graph.SimilarityQuery) ([]graph.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []graph.Hit
	for _, c := range s.concepts {
		if len(c.Embedding) == 0 {
			continue
		}
		if q.Model != "" && c.EmbeddingModel != "" && c.EmbeddingModel != q.Model {
			continue
		}
		if q.Ontology != "" && !containsString(c.Ontologies, q.Ontology) {
			continue
		}
		sim := graph.Cosine(q.Vector, c.Embedding)
		if sim < q.MinScore {
			continue
		}
		hits = append(hits, graph.Hit{Concept: c, Similarity: sim})
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

// ConceptEmbeddings projects id/label/vector for the reconciliation sweep.
func (s *Store) ConceptEmbeddings(_ context.Context, ontology string) ([]graph.ConceptEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.ConceptEmbedding
	for _, c := range s.concepts {
		if ontology != "" && !containsString(c.Ontologies, ontology) {
			continue
		}
		if len(c.Embedding) == 0 {
			continue
		}
		out = append(out, graph.ConceptEmbedding{
			ID:        c.ID,
			Label:     c.Label,
			Embedding: c.Embedding,
			CreatedAt: c.CreatedAt.UnixNano(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MergeConceptPair folds loser into canonical and deletes loser.
func (s *Store) MergeConceptPair(_ context.Context, canonicalID, loserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, ok := s.concepts[canonicalID]
	if !ok {
		return graph.ErrNotFound
	}
	loser, ok := s.concepts[loserID]
	if !ok {
		return graph.ErrNotFound
	}
	if canonicalID == loserID {
		return nil
	}

	canonical.SearchTerms = unionStrings(canonical.SearchTerms, loser.SearchTerms)
	canonical.SearchTerms = unionStrings(canonical.SearchTerms, []string{loser.Label})
	canonical.Ontologies = unionStrings(canonical.Ontologies, loser.Ontologies)
	canonical.AppearsIn = unionStrings(canonical.AppearsIn, loser.AppearsIn)
	canonical.UpdatedAt = time.Now().UTC()
	s.concepts[canonicalID] = canonical

	// Move evidence, dropping quotes canonical already holds.
	for id, in := range s.instances {
		if in.ConceptID != loserID {
			continue
		}
		delete(s.instanceKeys, instanceKey(in))
		in.ConceptID = canonicalID
		key := instanceKey(in)
		if _, exists := s.instanceKeys[key]; exists {
			delete(s.instances, id)
			continue
		}
		s.instances[id] = in
		s.instanceKeys[key] = id
	}

	// Rewrite edges, coalescing any that now collide.
	rewritten := make(map[string]graph.Relationship, len(s.relationships))
	for _, r := range s.relationships {
		if r.FromID == loserID {
			r.FromID = canonicalID
		}
		if r.ToID == loserID {
			r.ToID = canonicalID
		}
		if r.FromID == r.ToID {
			continue
		}
		key := relKey(r.FromID, r.ToID, r.RelType)
		if prev, ok := rewritten[key]; ok && prev.Confidence >= r.Confidence {
			continue
		}
		rewritten[key] = r
	}
	s.relationships = rewritten

	delete(s.concepts, loserID)
	return nil
}

// CreateInstance stores an evidence quote with duplicate suppression.
func (s *Store) CreateInstance(_ context.Context, in graph.Instance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := instanceKey(in)
	if _, ok := s.instanceKeys[key]; ok {
		return false, nil
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	s.instances[in.ID] = in
	s.instanceKeys[key] = in.ID
	return true, nil
}

// EvidenceForConcept returns all evidence ordered by document position.
func (s *Store) EvidenceForConcept(_ context.Context, conceptID string) ([]graph.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evidenceLocked(conceptID, 0), nil
}

// EvidenceSample returns up to limit evidence quotes.
func (s *Store) EvidenceSample(_ context.Context, conceptID string, limit int) ([]graph.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evidenceLocked(conceptID, limit), nil
}

func (s *Store) evidenceLocked(conceptID string, limit int) []graph.Evidence {
	var out []graph.Evidence
	for _, in := range s.instances {
		if in.ConceptID != conceptID {
			continue
		}
		ev := graph.Evidence{
			Quote:    in.Quote,
			SourceID: in.SourceID,
			Start:    in.Start,
			End:      in.End,
		}
		if src, ok := s.sources[in.SourceID]; ok {
			ev.Document = src.Document
			ev.ChunkIndex = src.ChunkIndex
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
	return out
}

// CountInstances returns the number of evidence quotes for a concept.
func (s *Store) CountInstances(_ context.Context, conceptID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, in := range s.instances {
		if in.ConceptID == conceptID {
			n++
		}
	}
	return n, nil
}

// UpsertRelationship coalesces a typed edge keeping maximum confidence.
func (s *Store) UpsertRelationship(_ context.Context, r graph.Relationship) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved, ok := graph.ResolveMerged(s.vocabulary, r.RelType)
	if !ok {
		return false, &graph.UnknownRelTypeError{RelType: r.RelType}
	}
	r.RelType = resolved

	if r.FromID == r.ToID {
		return false, nil
	}

	now := time.Now().UTC()
	key := relKey(r.FromID, r.ToID, r.RelType)
	if prev, exists := s.relationships[key]; exists {
		// created_from_source keeps the first creator.
		if r.Confidence > prev.Confidence {
			prev.Confidence = r.Confidence
			prev.UpdatedAt = now
			s.relationships[key] = prev
		}
		return false, nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.relationships[key] = r
	return true, nil
}

// Outgoing returns edges leaving a concept with target labels.
func (s *Store) Outgoing(_ context.Context, conceptID string) ([]graph.RelatedConcept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.RelatedConcept
	for _, r := range s.relationships {
		if r.FromID != conceptID {
			continue
		}
		rc := graph.RelatedConcept{
			ConceptID:  r.ToID,
			RelType:    r.RelType,
			Confidence: r.Confidence,
		}
		if c, ok := s.concepts[r.ToID]; ok {
			rc.Label = c.Label
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelType != out[j].RelType {
			return out[i].RelType < out[j].RelType
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

// Neighbors returns adjacent concepts in either direction.
func (s *Store) Neighbors(_ context.Context, conceptID string, relTypes []string) ([]graph.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := make(map[string]bool, len(relTypes))
	for _, rt := range relTypes {
		filter[rt] = true
	}

	var out []graph.Neighbor
	for _, r := range s.relationships {
		if len(filter) > 0 && !filter[r.RelType] {
			continue
		}
		var other string
		switch conceptID {
		case r.FromID:
			other = r.ToID
		case r.ToID:
			other = r.FromID
		default:
			continue
		}
		n := graph.Neighbor{ConceptID: other, RelType: r.RelType, Confidence: r.Confidence}
		if c, ok := s.concepts[other]; ok {
			n.Label = c.Label
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConceptID != out[j].ConceptID {
			return out[i].ConceptID < out[j].ConceptID
		}
		return out[i].RelType < out[j].RelType
	})
	return out, nil
}

// Vocabulary returns every relationship type sorted by name.
func (s *Store) Vocabulary(_ context.Context) ([]graph.RelType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]graph.RelType, 0, len(s.vocabulary))
	for _, rt := range s.vocabulary {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddRelType inserts a vocabulary entry; existing names are left untouched.
func (s *Store) AddRelType(_ context.Context, rt graph.RelType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vocabulary[rt.Name]; ok {
		return nil
	}
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = time.Now().UTC()
	}
	s.vocabulary[rt.Name] = rt
	return nil
}

// MergeRelTypes deactivates loser and points it at winner.
func (s *Store) MergeRelTypes(_ context.Context, loser, winner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loser == winner {
		return fmt.Errorf("cannot merge %s into itself", loser)
	}
	l, ok := s.vocabulary[loser]
	if !ok {
		return fmt.Errorf("merge rel types: %w", graph.ErrNotFound)
	}
	if _, ok := s.vocabulary[winner]; !ok {
		return fmt.Errorf("merge rel types: %w", graph.ErrNotFound)
	}
	if _, ok := graph.ResolveMerged(s.vocabulary, winner); !ok {
		return fmt.Errorf("merge target %s does not resolve to an active type", winner)
	}
	l.IsActive = false
	l.MergedInto = winner
	s.vocabulary[loser] = l
	return nil
}

// ResolveRelType follows merged_into chains to an active name.
func (s *Store) ResolveRelType(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved, ok := graph.ResolveMerged(s.vocabulary, name)
	return resolved, ok, nil
}

// UpsertDocument records an ingested document summary.
func (s *Store) UpsertDocument(_ context.Context, d graph.DocumentMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.IngestedAt.IsZero() {
		d.IngestedAt = time.Now().UTC()
	}
	s.documents[d.DocumentHash] = d
	return nil
}

// GetDocument returns a document summary by hash.
func (s *Store) GetDocument(_ context.Context, documentHash string) (graph.DocumentMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[documentHash]
	if !ok {
		return graph.DocumentMeta{}, graph.ErrNotFound
	}
	return d, nil
}

// ListOntologies summarizes every namespace seen in sources or concepts.
func (s *Store) ListOntologies(_ context.Context) ([]graph.OntologyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]bool)
	for _, src := range s.sources {
		names[src.Ontology] = true
	}
	for _, c := range s.concepts {
		for _, o := range c.Ontologies {
			names[o] = true
		}
	}

	out := make([]graph.OntologyInfo, 0, len(names))
	for name := range names {
		out = append(out, s.ontologyInfoLocked(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetOntology summarizes one namespace.
func (s *Store) GetOntology(_ context.Context, name string) (graph.OntologyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := s.ontologyInfoLocked(name)
	if info.ConceptCount == 0 && info.SourceCount == 0 {
		return graph.OntologyInfo{}, graph.ErrNotFound
	}
	return info, nil
}

func (s *Store) ontologyInfoLocked(name string) graph.OntologyInfo {
	info := graph.OntologyInfo{Name: name}
	for _, src := range s.sources {
		if src.Ontology == name {
			info.SourceCount++
		}
	}
	for _, c := range s.concepts {
		if containsString(c.Ontologies, name) {
			info.ConceptCount++
		}
	}
	for _, d := range s.documents {
		if d.Ontology == name {
			info.DocumentCount++
			if d.IngestedAt.After(info.LastIngestedAt) {
				info.LastIngestedAt = d.IngestedAt
			}
		}
	}
	return info
}

// OntologyDocuments lists documents ingested into a namespace.
func (s *Store) OntologyDocuments(_ context.Context, name string) ([]graph.DocumentMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.DocumentMeta
	for _, d := range s.documents {
		if d.Ontology == name {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngestedAt.Before(out[j].IngestedAt) })
	return out, nil
}

// DeleteOntology removes a namespace. Concepts shared with other
// ontologies survive with the namespace and its sources detached.
func (s *Store) DeleteOntology(_ context.Context, name string) (graph.DeleteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts graph.DeleteCounts

	deletedSources := make(map[string]bool)
	for id, src := range s.sources {
		if src.Ontology == name {
			deletedSources[id] = true
			delete(s.sources, id)
			counts.Sources++
		}
	}

	for id, in := range s.instances {
		if deletedSources[in.SourceID] {
			delete(s.instanceKeys, instanceKey(in))
			delete(s.instances, id)
			counts.Instances++
		}
	}

	deletedConcepts := make(map[string]bool)
	for id, c := range s.concepts {
		if !containsString(c.Ontologies, name) {
			continue
		}
		if len(c.Ontologies) == 1 {
			deletedConcepts[id] = true
			delete(s.concepts, id)
			counts.Concepts++
			continue
		}
		c.Ontologies = removeString(c.Ontologies, name)
		c.AppearsIn = filterStrings(c.AppearsIn, func(sid string) bool { return !deletedSources[sid] })
		c.UpdatedAt = time.Now().UTC()
		s.concepts[id] = c
	}

	for key, r := range s.relationships {
		if deletedConcepts[r.FromID] || deletedConcepts[r.ToID] {
			delete(s.relationships, key)
			counts.Relationships++
		}
	}

	for hash, d := range s.documents {
		if d.Ontology == name {
			delete(s.documents, hash)
		}
	}

	return counts, nil
}

// Stats returns whole-graph counts.
func (s *Store) Stats(_ context.Context) (graph.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return graph.Stats{
		Concepts:      int64(len(s.concepts)),
		Sources:       int64(len(s.sources)),
		Instances:     int64(len(s.instances)),
		Relationships: int64(len(s.relationships)),
		RelTypes:      int64(len(s.vocabulary)),
		Documents:     int64(len(s.documents)),
	}, nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

func unionStrings(base, add []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(add))
	for _, v := range base {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, v := range add {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	return filterStrings(list, func(s string) bool { return s != v })
}

func filterStrings(list []string, keep func(string) bool) []string {
	out := list[:0]
	for _, s := range list {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

var _ graph.Store = (*Store)(nil)
