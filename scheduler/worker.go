package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semgraph/jobs"
	"github.com/c360studio/semgraph/metrics"
)

// heartbeatInterval is how often a busy worker extends its queue ack
// deadline. Must be well under the queue's ack wait.
const heartbeatInterval = time.Minute

// Runner executes the ingestion pipeline for one job. Run owns all status
// transitions from processing onward, including the terminal one.
type Runner interface {
	Run(ctx context.Context, job *jobs.Job) error
}

// Worker consumes the approved-job queue with a bounded goroutine pool.
type Worker struct {
	store   *jobs.Store
	queue   *jobs.Queue
	hub     *jobs.Hub
	runner  Runner
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg   sync.WaitGroup
	msgs jetstream.MessagesContext
}

// NewWorker creates a worker pool over the ingest queue.
func NewWorker(store *jobs.Store, queue *jobs.Queue, hub *jobs.Hub, runner Runner, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		queue:  queue,
		hub:    hub,
		runner: runner,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// WithMetrics attaches prometheus instrumentation. Safe to skip in tests.
func (w *Worker) WithMetrics(m *metrics.Metrics) *Worker {
	w.metrics = m
	return w
}

// Start begins consuming jobs until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	msgs, err := w.queue.Messages()
	if err != nil {
		return err
	}
	w.msgs = msgs

	go func() {
		<-ctx.Done()
		msgs.Stop()
	}()

	sem := make(chan struct{}, w.cfg.MaxConcurrentJobs)

	go func() {
		for {
			msg, err := msgs.Next()
			if err != nil {
				// Iterator closed on shutdown.
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = msg.Nak()
				return
			}

			w.wg.Add(1)
			go func(msg jetstream.Msg) {
				defer w.wg.Done()
				defer func() { <-sem }()
				w.handle(ctx, msg)
			}(msg)
		}
	}()

	w.logger.Info("Worker pool started", "max_concurrent", w.cfg.MaxConcurrentJobs)
	return nil
}

// Wait blocks until in-flight jobs finish.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) handle(ctx context.Context, msg jetstream.Msg) {
	jobID := string(msg.Data())
	logger := w.logger.With("job_id", jobID)

	job, _, err := w.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// Purged while queued; nothing to do.
			_ = msg.Term()
			return
		}
		logger.Error("Failed to load queued job", "error", err)
		_ = msg.Nak()
		return
	}

	switch job.Status {
	case jobs.StatusApproved:
		job, err = w.store.Transition(ctx, jobID, jobs.StatusProcessing, "", "")
		if err != nil {
			logger.Error("Failed to mark job processing", "error", err)
			_ = msg.Nak()
			return
		}
		w.hub.Publish(jobID, jobs.Event{Kind: jobs.EventStatus, Job: job})

	case jobs.StatusProcessing:
		// Redelivery: a worker died mid-job. Resume only from a fresh
		// checkpoint; anything staler fails as orphaned.
		if !w.checkpointFresh(job) {
			w.failOrphaned(ctx, jobID, logger)
			_ = msg.Ack()
			return
		}
		logger.Info("Resuming orphaned job from checkpoint",
			"last_chunk", job.Checkpoint.LastChunkIndex)

	default:
		// Cancelled or otherwise finished while queued.
		logger.Info("Skipping queued job in non-runnable state", "status", job.Status)
		_ = msg.Ack()
		return
	}

	stopHeartbeat := w.startHeartbeat(ctx, msg)
	w.metrics.JobStarted()
	runErr := w.runner.Run(ctx, job)
	stopHeartbeat()

	final, _, err := w.store.Get(ctx, jobID)
	if err != nil {
		logger.Error("Failed to reload job after run", "error", err)
		w.metrics.JobFinished(nil)
		_ = msg.Nak()
		return
	}

	if final.Status.Terminal() {
		w.metrics.JobFinished(final)
		w.hub.Publish(jobID, jobs.Event{Kind: jobs.EventTerminal, Job: final})
		_ = msg.Ack()
		if runErr != nil {
			logger.Warn("Job finished with error", "status", final.Status, "error", runErr)
		} else {
			logger.Info("Job finished", "status", final.Status)
		}
		return
	}

	// The runner bailed without reaching a terminal state (for example a
	// store outage). Redeliver and let checkpoint recovery take over.
	w.metrics.JobFinished(nil)
	logger.Warn("Job run ended non-terminal, requeueing", "status", final.Status, "error", runErr)
	_ = msg.Nak()
}

func (w *Worker) checkpointFresh(job *jobs.Job) bool {
	ref := job.UpdatedAt
	if job.Checkpoint != nil {
		ref = job.Checkpoint.UpdatedAt
	}
	return time.Since(ref) <= w.cfg.CheckpointMaxAge
}

func (w *Worker) failOrphaned(ctx context.Context, jobID string, logger *slog.Logger) {
	job, err := w.store.Mutate(ctx, jobID, func(j *jobs.Job) error {
		if j.Status.Terminal() {
			return nil
		}
		j.Error = "job orphaned: no progress within checkpoint window"
		j.ErrorCode = "orphaned"
		return j.SetStatus(jobs.StatusFailed, "", "orphaned")
	})
	if err != nil {
		logger.Error("Failed to fail orphaned job", "error", err)
		return
	}
	w.hub.Publish(jobID, jobs.Event{Kind: jobs.EventTerminal, Job: job})
	logger.Warn("Job failed as orphaned")
}

// startHeartbeat extends the queue ack deadline while the pipeline runs.
func (w *Worker) startHeartbeat(ctx context.Context, msg jetstream.Msg) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					w.logger.Warn("Heartbeat failed", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
