package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/semgraph/test/e2e/config"
)

// QueryPathsScenario ingests a document, then exercises the traversal
// endpoints against the concepts it produced.
type QueryPathsScenario struct {
	cfg    *config.Config
	client *client
}

// NewQueryPathsScenario creates the graph traversal scenario.
func NewQueryPathsScenario(cfg *config.Config) *QueryPathsScenario {
	return &QueryPathsScenario{
		cfg:    cfg.WithDefaults(),
		client: newClient(cfg),
	}
}

func (s *QueryPathsScenario) Name() string {
	return "query-paths"
}

func (s *QueryPathsScenario) Description() string {
	return "Ingests a document and finds paths between its extracted concepts"
}

func (s *QueryPathsScenario) Setup(ctx context.Context) error {
	return s.client.health(ctx)
}

func (s *QueryPathsScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()

	text := fmt.Sprintf(
		"Mitochondria produce ATP through cellular respiration. "+
			"Cellular respiration consumes glucose and oxygen. "+
			"Glucose originates from photosynthesis in plant cells. "+
			"Run marker: %d.", time.Now().UnixNano())

	err := stage(result, "ingest", func() error {
		submitted, err := s.client.submitText(ctx, text, map[string]any{"auto_approve": true})
		if err != nil {
			return err
		}
		job, err := s.client.waitForTerminal(ctx, submitted.JobID)
		if err != nil {
			return err
		}
		if job.Status != "completed" {
			return fmt.Errorf("job ended %s: %s", job.Status, job.Error)
		}
		result.SetDetail("job_id", submitted.JobID)
		return nil
	})
	if err != nil {
		return result, nil
	}

	var conceptIDs []string
	err = stage(result, "search", func() error {
		found, err := s.client.search(ctx, "energy production in cells", 0)
		if err != nil {
			return err
		}
		if len(found.Results) == 0 {
			return fmt.Errorf("search returned no concepts after ingestion")
		}
		for _, hit := range found.Results {
			conceptIDs = append(conceptIDs, hit.ConceptID)
		}
		result.SetMetric("search_hits", len(conceptIDs))
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = stage(result, "self path", func() error {
		path, err := s.client.connect(ctx, conceptIDs[0], conceptIDs[0], 0)
		if err != nil {
			return err
		}
		if path.Hops != 0 || path.Count != 1 {
			return fmt.Errorf("self path: hops=%d count=%d, want 0 and 1", path.Hops, path.Count)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = stage(result, "connect", func() error {
		if len(conceptIDs) < 2 {
			result.AddWarning("fewer than two concepts extracted, skipping pair traversal")
			return nil
		}
		path, err := s.client.connect(ctx, conceptIDs[0], conceptIDs[1], 4)
		if err != nil {
			return err
		}
		result.SetMetric("path_hops", path.Hops)
		result.SetMetric("path_count", path.Count)
		if path.Count > 0 && len(path.Path) != path.Hops+1 {
			return fmt.Errorf("path has %d nodes for %d hops", len(path.Path), path.Hops)
		}
		if path.Count == 0 {
			result.AddWarning(fmt.Sprintf("no path between %s and %s within 4 hops",
				conceptIDs[0], conceptIDs[1]))
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	result.Success = true
	return result, nil
}

func (s *QueryPathsScenario) Teardown(ctx context.Context) error {
	return s.client.deleteOntology(ctx)
}
