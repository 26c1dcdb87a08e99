package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/semgraph/test/e2e/config"
)

// ReprocessScenario checks content dedup: resubmitting identical content
// returns the existing job, and the force option bypasses the match.
type ReprocessScenario struct {
	cfg    *config.Config
	client *client
}

// NewReprocessScenario creates the dedup and reprocess scenario.
func NewReprocessScenario(cfg *config.Config) *ReprocessScenario {
	return &ReprocessScenario{
		cfg:    cfg.WithDefaults(),
		client: newClient(cfg),
	}
}

func (s *ReprocessScenario) Name() string {
	return "reprocess"
}

func (s *ReprocessScenario) Description() string {
	return "Verifies duplicate submissions return the existing job and force reprocesses"
}

func (s *ReprocessScenario) Setup(ctx context.Context) error {
	return s.client.health(ctx)
}

func (s *ReprocessScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()

	text := fmt.Sprintf(
		"The water cycle moves moisture between oceans, atmosphere, and land. "+
			"Evaporation lifts water vapor which condenses into clouds and falls as rain. "+
			"Run marker: %d.", time.Now().UnixNano())

	var first *submitResponse
	err := stage(result, "first submit", func() error {
		var err error
		first, err = s.client.submitText(ctx, text, nil)
		if err != nil {
			return err
		}
		if first.Existing {
			return fmt.Errorf("fresh content matched an existing job %s", first.JobID)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}
	result.SetDetail("first_job_id", first.JobID)

	err = stage(result, "complete first", func() error {
		if err := s.client.approve(ctx, first.JobID); err != nil {
			return err
		}
		job, err := s.client.waitForTerminal(ctx, first.JobID)
		if err != nil {
			return err
		}
		if job.Status != "completed" {
			return fmt.Errorf("job ended %s: %s", job.Status, job.Error)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = stage(result, "duplicate submit", func() error {
		dup, err := s.client.submitText(ctx, text, nil)
		if err != nil {
			return err
		}
		if !dup.Existing {
			return fmt.Errorf("identical content spawned a new job %s", dup.JobID)
		}
		if dup.JobID != first.JobID {
			return fmt.Errorf("dedup returned job %s, want %s", dup.JobID, first.JobID)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = stage(result, "force reprocess", func() error {
		forced, err := s.client.submitText(ctx, text, map[string]any{"force": true})
		if err != nil {
			return err
		}
		if forced.Existing {
			return fmt.Errorf("force submit still matched job %s", forced.JobID)
		}
		if forced.JobID == first.JobID {
			return fmt.Errorf("force submit reused the original job id")
		}
		result.SetDetail("forced_job_id", forced.JobID)

		if err := s.client.approve(ctx, forced.JobID); err != nil {
			return err
		}
		job, err := s.client.waitForTerminal(ctx, forced.JobID)
		if err != nil {
			return err
		}
		if job.Status != "completed" {
			return fmt.Errorf("forced job ended %s: %s", job.Status, job.Error)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	result.Success = true
	return result, nil
}

func (s *ReprocessScenario) Teardown(ctx context.Context) error {
	return s.client.deleteOntology(ctx)
}
