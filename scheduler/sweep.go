package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/c360studio/semgraph/graph"
	"github.com/c360studio/semgraph/jobs"
)

// Sweeper runs the periodic maintenance chores: approval expiry, job
// retention, and concept reconciliation.
type Sweeper struct {
	store  *jobs.Store
	hub    *jobs.Hub
	graph  graph.Store
	cfg    Config
	logger *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(store *jobs.Store, hub *jobs.Hub, graphStore graph.Store, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  store,
		hub:    hub,
		graph:  graphStore,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Start runs the sweep tickers until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.runCleanup(ctx)
	if s.cfg.ReconcileInterval > 0 {
		go s.runReconcile(ctx)
	}
}

func (s *Sweeper) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepApprovals(ctx)
			s.SweepRetention(ctx)
		}
	}
}

func (s *Sweeper) runReconcile(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx, ""); err != nil {
				s.logger.Error("Reconciliation sweep failed", "error", err)
			}
		}
	}
}

// SweepApprovals cancels awaiting jobs whose approval window has passed.
func (s *Sweeper) SweepApprovals(ctx context.Context) int {
	waiting, err := s.store.List(ctx, jobs.Filter{Status: jobs.StatusAwaitingApproval})
	if err != nil {
		s.logger.Error("Approval sweep list failed", "error", err)
		return 0
	}

	now := time.Now().UTC()
	expired := 0
	for _, job := range waiting {
		if job.ExpiresAt == nil || job.ExpiresAt.After(now) {
			continue
		}
		updated, err := s.store.Transition(ctx, job.ID, jobs.StatusCancelled, "system", "approval_timeout")
		if err != nil {
			// A concurrent approve or cancel won; leave it alone.
			var te *jobs.TransitionError
			if !errors.As(err, &te) {
				s.logger.Error("Approval sweep transition failed", "job_id", job.ID, "error", err)
			}
			continue
		}
		s.hub.Publish(job.ID, jobs.Event{Kind: jobs.EventTerminal, Job: updated})
		expired++
		s.logger.Info("Job cancelled by approval timeout", "job_id", job.ID)
	}

	return expired
}

// SweepRetention purges terminal jobs past their retention window.
func (s *Sweeper) SweepRetention(ctx context.Context) int {
	all, err := s.store.List(ctx, jobs.Filter{})
	if err != nil {
		s.logger.Error("Retention sweep list failed", "error", err)
		return 0
	}

	now := time.Now().UTC()
	purged := 0
	for _, job := range all {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}

		retention := s.cfg.CompletedRetention
		if job.Status == jobs.StatusFailed {
			retention = s.cfg.FailedRetention
		}
		if job.CompletedAt.Add(retention).After(now) {
			continue
		}

		if err := s.store.Delete(ctx, job.ID); err != nil {
			s.logger.Error("Retention purge failed", "job_id", job.ID, "error", err)
			continue
		}
		purged++
		s.logger.Info("Job purged by retention sweep",
			"job_id", job.ID,
			"status", job.Status)
	}

	return purged
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	OntologiesScanned int `json:"ontologies_scanned"`
	ConceptsScanned   int `json:"concepts_scanned"`
	PairsMerged       int `json:"pairs_merged"`
}

// Reconcile merges concept pairs whose embedding similarity meets the merge
// threshold. Empty ontology scans all ontologies. The older concept id is
// canonical; edges are rewritten onto it.
func (s *Sweeper) Reconcile(ctx context.Context, ontology string) (*ReconcileResult, error) {
	var names []string
	if ontology != "" {
		names = []string{ontology}
	} else {
		infos, err := s.graph.ListOntologies(ctx)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			names = append(names, info.Name)
		}
	}

	result := &ReconcileResult{OntologiesScanned: len(names)}

	for _, name := range names {
		merged, scanned, err := s.reconcileOntology(ctx, name)
		if err != nil {
			return nil, err
		}
		result.PairsMerged += merged
		result.ConceptsScanned += scanned
	}

	s.logger.Info("Reconciliation pass complete",
		"ontologies", result.OntologiesScanned,
		"concepts", result.ConceptsScanned,
		"merged", result.PairsMerged)

	return result, nil
}

func (s *Sweeper) reconcileOntology(ctx context.Context, ontology string) (merged, scanned int, err error) {
	embeddings, err := s.graph.ConceptEmbeddings(ctx, ontology)
	if err != nil {
		return 0, 0, err
	}
	scanned = len(embeddings)

	// gone marks concepts already merged away this pass.
	gone := make(map[string]bool)

	for i := 0; i < len(embeddings); i++ {
		if gone[embeddings[i].ID] {
			continue
		}
		for j := i + 1; j < len(embeddings); j++ {
			if gone[embeddings[j].ID] {
				continue
			}
			if len(embeddings[i].Embedding) == 0 || len(embeddings[j].Embedding) == 0 {
				continue
			}
			if graph.Cosine(embeddings[i].Embedding, embeddings[j].Embedding) < s.cfg.MergeThreshold {
				continue
			}

			canonical, loser := embeddings[i], embeddings[j]
			if loser.CreatedAt < canonical.CreatedAt {
				canonical, loser = loser, canonical
			}

			if err := s.graph.MergeConceptPair(ctx, canonical.ID, loser.ID); err != nil {
				return merged, scanned, err
			}
			gone[loser.ID] = true
			merged++
			s.logger.Debug("Merged similar concepts",
				"canonical", canonical.ID,
				"loser", loser.ID,
				"ontology", ontology)
		}
	}

	return merged, scanned, nil
}
