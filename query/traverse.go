package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/semgraph/graph"
)

// maxShortestPaths caps path enumeration in Connect so dense graphs cannot
// blow up a single request.
const maxShortestPaths = 64

// RelatedRequest asks for the neighborhood of a concept.
type RelatedRequest struct {
	ConceptID string   `json:"concept_id"`
	MaxDepth  int      `json:"max_depth,omitempty"`
	RelTypes  []string `json:"rel_types,omitempty"`
}

// RelatedConcept is one neighborhood member with the relationship types
// walked to reach it.
type RelatedConcept struct {
	ConceptID string   `json:"concept_id"`
	Label     string   `json:"label"`
	Distance  int      `json:"distance"`
	PathTypes []string `json:"path_types"`
}

// RelatedResult is the neighborhood ordered by distance then label.
type RelatedResult struct {
	Root    string           `json:"root"`
	Related []RelatedConcept `json:"related"`
}

const defaultRelatedDepth = 2

// Related walks the graph breadth-first from a concept, in both edge
// directions, up to MaxDepth hops.
func (e *Engine) Related(ctx context.Context, req RelatedRequest) (*RelatedResult, error) {
	if req.ConceptID == "" {
		return nil, &ValidationError{Field: "concept_id", Msg: "must not be empty"}
	}
	depth := req.MaxDepth
	if depth <= 0 {
		depth = defaultRelatedDepth
	}
	if depth > e.cfg.MaxDepth {
		return nil, &ValidationError{Field: "max_depth", Msg: fmt.Sprintf("must be at most %d", e.cfg.MaxDepth)}
	}

	if _, err := e.graph.GetConcept(ctx, req.ConceptID); err != nil {
		return nil, err
	}

	type visit struct {
		id        string
		pathTypes []string
	}
	seen := map[string]bool{req.ConceptID: true}
	frontier := []visit{{id: req.ConceptID}}

	var related []RelatedConcept
	for dist := 1; dist <= depth && len(frontier) > 0; dist++ {
		var next []visit
		for _, v := range frontier {
			neighbors, err := e.graph.Neighbors(ctx, v.id, req.RelTypes)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if seen[n.ConceptID] {
					continue
				}
				seen[n.ConceptID] = true
				pathTypes := append(append([]string{}, v.pathTypes...), n.RelType)
				related = append(related, RelatedConcept{
					ConceptID: n.ConceptID,
					Label:     n.Label,
					Distance:  dist,
					PathTypes: pathTypes,
				})
				next = append(next, visit{id: n.ConceptID, pathTypes: pathTypes})
			}
		}
		frontier = next
	}

	sort.Slice(related, func(i, j int) bool {
		if related[i].Distance != related[j].Distance {
			return related[i].Distance < related[j].Distance
		}
		return related[i].Label < related[j].Label
	})

	return &RelatedResult{Root: req.ConceptID, Related: related}, nil
}

// ConnectRequest asks for the best path between two concepts.
type ConnectRequest struct {
	FromID  string `json:"from_id"`
	ToID    string `json:"to_id"`
	MaxHops int    `json:"max_hops,omitempty"`
}

// PathNode is one step of a path. RelType and Confidence describe the edge
// arriving at this node; they are empty on the first node.
type PathNode struct {
	ConceptID  string  `json:"concept_id"`
	Label      string  `json:"label"`
	RelType    string  `json:"rel_type,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ConnectResult reports the best shortest path. Count is the number of
// distinct shortest paths found; zero means no path within MaxHops.
type ConnectResult struct {
	From  string     `json:"from_id"`
	To    string     `json:"to_id"`
	Hops  int        `json:"hops"`
	Count int        `json:"count"`
	Path  []PathNode `json:"path,omitempty"`
}

// Connect finds the shortest undirected path between two concepts. Among
// equal-length paths the winner has the highest total confidence, then the
// lexicographically smallest node id sequence.
func (e *Engine) Connect(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	if req.FromID == "" {
		return nil, &ValidationError{Field: "from_id", Msg: "must not be empty"}
	}
	if req.ToID == "" {
		return nil, &ValidationError{Field: "to_id", Msg: "must not be empty"}
	}
	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = e.cfg.MaxHops
	}
	if maxHops > e.cfg.MaxHops {
		return nil, &ValidationError{Field: "max_hops", Msg: fmt.Sprintf("must be at most %d", e.cfg.MaxHops)}
	}

	from, err := e.graph.GetConcept(ctx, req.FromID)
	if err != nil {
		return nil, fmt.Errorf("from concept: %w", err)
	}
	if _, err := e.graph.GetConcept(ctx, req.ToID); err != nil {
		return nil, fmt.Errorf("to concept: %w", err)
	}

	result := &ConnectResult{From: req.FromID, To: req.ToID}

	if req.FromID == req.ToID {
		result.Hops = 0
		result.Count = 1
		result.Path = []PathNode{{ConceptID: from.ID, Label: from.Label}}
		return result, nil
	}

	dist, found, err := e.bfsDistances(ctx, req.FromID, req.ToID, maxHops)
	if err != nil {
		return nil, err
	}
	if !found {
		return result, nil
	}

	paths, err := e.enumerateShortest(ctx, req.ToID, dist)
	if err != nil {
		return nil, err
	}

	result.Hops = dist[req.ToID]
	result.Count = len(paths)
	best := pickBestPath(paths)
	result.Path = append([]PathNode{{ConceptID: from.ID, Label: from.Label}}, best...)
	return result, nil
}

// bfsDistances runs a breadth-first scan from fromID, stopping at the level
// where toID appears or at maxHops.
func (e *Engine) bfsDistances(ctx context.Context, fromID, toID string, maxHops int) (map[string]int, bool, error) {
	dist := map[string]int{fromID: 0}
	frontier := []string{fromID}

	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := e.graph.Neighbors(ctx, id, nil)
			if err != nil {
				return nil, false, err
			}
			for _, n := range neighbors {
				if _, seen := dist[n.ConceptID]; seen {
					continue
				}
				dist[n.ConceptID] = depth
				next = append(next, n.ConceptID)
			}
		}
		if _, ok := dist[toID]; ok {
			return dist, true, nil
		}
		frontier = next
	}
	return dist, false, nil
}

// enumerateShortest walks backward from toID along strictly decreasing
// distances, yielding every shortest path as the steps after the start node.
func (e *Engine) enumerateShortest(ctx context.Context, toID string, dist map[string]int) ([][]PathNode, error) {
	var paths [][]PathNode

	var walk func(id string, suffix []PathNode) error
	walk = func(id string, suffix []PathNode) error {
		if len(paths) >= maxShortestPaths {
			return nil
		}
		if dist[id] == 0 {
			paths = append(paths, append([]PathNode{}, suffix...))
			return nil
		}
		neighbors, err := e.graph.Neighbors(ctx, id, nil)
		if err != nil {
			return err
		}
		for _, n := range neighbors {
			d, seen := dist[n.ConceptID]
			if !seen || d != dist[id]-1 {
				continue
			}
			step := PathNode{ConceptID: id, RelType: n.RelType, Confidence: n.Confidence}
			if c, err := e.graph.GetConcept(ctx, id); err == nil {
				step.Label = c.Label
			}
			if err := walk(n.ConceptID, append([]PathNode{step}, suffix...)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(toID, nil); err != nil {
		return nil, err
	}
	return paths, nil
}

// pickBestPath orders candidates by total confidence descending, then by
// the lexicographic node id sequence.
func pickBestPath(paths [][]PathNode) []PathNode {
	if len(paths) == 0 {
		return nil
	}
	best := paths[0]
	for _, p := range paths[1:] {
		bc, pc := totalConfidence(best), totalConfidence(p)
		switch {
		case pc > bc:
			best = p
		case pc == bc && idSequence(p) < idSequence(best):
			best = p
		}
	}
	return best
}

func totalConfidence(path []PathNode) float64 {
	var sum float64
	for _, step := range path {
		sum += step.Confidence
	}
	return sum
}

func idSequence(path []PathNode) string {
	ids := make([]string, len(path))
	for i, step := range path {
		ids[i] = step.ConceptID
	}
	return strings.Join(ids, "\x00")
}

// ConnectBySearchRequest resolves two free-text queries and connects the
// matched concepts.
type ConnectBySearchRequest struct {
	QueryA   string `json:"query_a"`
	QueryB   string `json:"query_b"`
	MaxHops  int    `json:"max_hops,omitempty"`
	Ontology string `json:"ontology,omitempty"`
}

// ResolvedQuery reports which concept a free-text query matched.
type ResolvedQuery struct {
	Query      string  `json:"query"`
	ConceptID  string  `json:"concept_id"`
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

// ConnectBySearchResult is a ConnectResult plus the query resolutions.
type ConnectBySearchResult struct {
	FromMatch ResolvedQuery `json:"from_match"`
	ToMatch   ResolvedQuery `json:"to_match"`
	ConnectResult
}

// ConnectBySearch embeds both queries in one call, resolves each to its
// closest concept, then runs Connect between them.
func (e *Engine) ConnectBySearch(ctx context.Context, req ConnectBySearchRequest) (*ConnectBySearchResult, error) {
	if strings.TrimSpace(req.QueryA) == "" {
		return nil, &ValidationError{Field: "query_a", Msg: "must not be empty"}
	}
	if strings.TrimSpace(req.QueryB) == "" {
		return nil, &ValidationError{Field: "query_b", Msg: "must not be empty"}
	}

	vectors, model, err := e.embedder.Embed(ctx, []string{req.QueryA, req.QueryB})
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}

	resolve := func(query string, vector []float32) (ResolvedQuery, error) {
		hits, err := e.graph.SimilaritySearch(ctx, graph.SimilarityQuery{
			Vector:   vector,
			Limit:    1,
			MinScore: e.cfg.MinSimilarity,
			Ontology: req.Ontology,
			Model:    model,
		})
		if err != nil {
			return ResolvedQuery{}, err
		}
		if len(hits) == 0 {
			return ResolvedQuery{}, &NoMatchError{Query: query}
		}
		return ResolvedQuery{
			Query:      query,
			ConceptID:  hits[0].Concept.ID,
			Label:      hits[0].Concept.Label,
			Similarity: hits[0].Similarity,
		}, nil
	}

	fromMatch, err := resolve(req.QueryA, vectors[0])
	if err != nil {
		return nil, err
	}
	toMatch, err := resolve(req.QueryB, vectors[1])
	if err != nil {
		return nil, err
	}

	connect, err := e.Connect(ctx, ConnectRequest{
		FromID:  fromMatch.ConceptID,
		ToID:    toMatch.ConceptID,
		MaxHops: req.MaxHops,
	})
	if err != nil {
		return nil, err
	}

	return &ConnectBySearchResult{
		FromMatch:     fromMatch,
		ToMatch:       toMatch,
		ConnectResult: *connect,
	}, nil
}
