package scenarios

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/c360studio/semgraph/test/e2e/config"
)

// ApprovalScenario exercises the review gate: pending jobs can be cancelled
// or rejected, and terminal jobs refuse further decisions.
type ApprovalScenario struct {
	cfg    *config.Config
	client *client
}

// NewApprovalScenario creates the approval lifecycle scenario.
func NewApprovalScenario(cfg *config.Config) *ApprovalScenario {
	return &ApprovalScenario{
		cfg:    cfg.WithDefaults(),
		client: newClient(cfg),
	}
}

func (s *ApprovalScenario) Name() string {
	return "approval"
}

func (s *ApprovalScenario) Description() string {
	return "Verifies pending jobs can be cancelled or rejected and terminal jobs stay terminal"
}

func (s *ApprovalScenario) Setup(ctx context.Context) error {
	return s.client.health(ctx)
}

func (s *ApprovalScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()

	submit := func(topic string) (*submitResponse, error) {
		text := fmt.Sprintf(
			"Notes on %s gathered for review. Run marker: %d.",
			topic, time.Now().UnixNano())
		return s.client.submitText(ctx, text, nil)
	}

	var cancelTarget *submitResponse
	err := stage(result, "cancel pending", func() error {
		var err error
		cancelTarget, err = submit("glacier retreat")
		if err != nil {
			return err
		}
		if err := s.client.cancel(ctx, cancelTarget.JobID, "submitted in error"); err != nil {
			return err
		}
		job, err := s.client.getJob(ctx, cancelTarget.JobID)
		if err != nil {
			return err
		}
		if job.Status != "cancelled" {
			return fmt.Errorf("expected cancelled, got %s", job.Status)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}
	result.SetDetail("cancelled_job_id", cancelTarget.JobID)

	err = stage(result, "reject pending", func() error {
		rejected, err := submit("ocean acidification")
		if err != nil {
			return err
		}
		if err := s.client.reject(ctx, rejected.JobID, "wrong ontology"); err != nil {
			return err
		}
		job, err := s.client.getJob(ctx, rejected.JobID)
		if err != nil {
			return err
		}
		if job.Status != "rejected" {
			return fmt.Errorf("expected rejected, got %s", job.Status)
		}
		result.SetDetail("rejected_job_id", rejected.JobID)
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = stage(result, "terminal stays terminal", func() error {
		err := s.client.approve(ctx, cancelTarget.JobID)
		if err == nil {
			return fmt.Errorf("approving a cancelled job succeeded")
		}
		var apiErr *apiError
		if !asAPIError(err, &apiErr) {
			return err
		}
		if apiErr.Status != http.StatusConflict {
			return fmt.Errorf("expected 409 for cancelled job, got %d", apiErr.Status)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	result.Success = true
	return result, nil
}

func (s *ApprovalScenario) Teardown(ctx context.Context) error {
	return s.client.deleteOntology(ctx)
}
