package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/semgraph/test/e2e/config"
)

// IngestBasicScenario drives the happy path: submit a text document, approve
// it, wait for the pipeline to finish, and confirm the extracted concepts are
// searchable.
type IngestBasicScenario struct {
	cfg    *config.Config
	client *client
}

// NewIngestBasicScenario creates the basic ingestion scenario.
func NewIngestBasicScenario(cfg *config.Config) *IngestBasicScenario {
	return &IngestBasicScenario{
		cfg:    cfg.WithDefaults(),
		client: newClient(cfg),
	}
}

func (s *IngestBasicScenario) Name() string {
	return "ingest-basic"
}

func (s *IngestBasicScenario) Description() string {
	return "Submits a text document, approves it, and verifies concepts become searchable"
}

func (s *IngestBasicScenario) Setup(ctx context.Context) error {
	return s.client.health(ctx)
}

func (s *IngestBasicScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()

	// Unique per run so content dedup never short-circuits the submission.
	text := fmt.Sprintf(
		"Photosynthesis converts sunlight into chemical energy inside chloroplasts. "+
			"Chlorophyll absorbs light and drives the production of glucose. "+
			"Run marker: %d.", time.Now().UnixNano())

	var submitted *submitResponse
	err := stage(result, "submit", func() error {
		var err error
		submitted, err = s.client.submitText(ctx, text, nil)
		if err != nil {
			return err
		}
		if submitted.Existing {
			return fmt.Errorf("fresh content matched an existing job %s", submitted.JobID)
		}
		if submitted.Status != "awaiting_approval" {
			return fmt.Errorf("expected awaiting_approval, got %s", submitted.Status)
		}
		if submitted.Analysis == nil || submitted.Analysis.ChunkCount < 1 {
			return fmt.Errorf("submission missing chunk analysis")
		}
		return nil
	})
	if err != nil {
		return result, nil
	}
	result.SetDetail("job_id", submitted.JobID)
	result.SetMetric("chunk_count", submitted.Analysis.ChunkCount)

	err = stage(result, "approve", func() error {
		return s.client.approve(ctx, submitted.JobID)
	})
	if err != nil {
		return result, nil
	}

	var job *jobResponse
	err = stage(result, "process", func() error {
		var err error
		job, err = s.client.waitForTerminal(ctx, submitted.JobID)
		if err != nil {
			return err
		}
		if job.Status != "completed" {
			return fmt.Errorf("job ended %s: %s", job.Status, job.Error)
		}
		if job.Result == nil || job.Result.Counters.ConceptsCreated == 0 {
			return fmt.Errorf("completed job created no concepts")
		}
		return nil
	})
	if err != nil {
		return result, nil
	}
	result.SetMetric("concepts_created", job.Result.Counters.ConceptsCreated)
	result.SetMetric("sources_created", job.Result.Counters.SourcesCreated)

	err = stage(result, "search", func() error {
		found, err := s.client.search(ctx, "energy from sunlight", 0)
		if err != nil {
			return err
		}
		if len(found.Results) == 0 {
			return fmt.Errorf("search returned no concepts after ingestion")
		}
		result.SetMetric("search_hits", len(found.Results))
		result.SetDetail("top_concept", found.Results[0].Label)
		return nil
	})
	if err != nil {
		return result, nil
	}

	result.Success = true
	return result, nil
}

func (s *IngestBasicScenario) Teardown(ctx context.Context) error {
	return s.client.deleteOntology(ctx)
}
