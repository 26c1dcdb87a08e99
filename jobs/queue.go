package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Work queue stream settings.
const (
	StreamIngest   = "SEMGRAPH_INGEST"
	subjectIngest  = "semgraph.ingest.jobs"
	durableWorkers = "SEMGRAPH_WORKERS"

	// queueAckWait is how long a delivered job may go without an ack or an
	// in-progress heartbeat before redelivery. Workers heartbeat at chunk
	// boundaries; redelivery after a crash drives checkpoint recovery.
	queueAckWait = 5 * time.Minute
)

// Queue is the approved-job work queue on a JetStream work-queue stream.
// Each approved job id is published once and consumed by exactly one worker
// at a time; unacked messages are redelivered.
type Queue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	logger   *slog.Logger
}

// NewQueue creates the ingest stream and durable worker consumer if needed.
func NewQueue(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stream, err := getOrCreateStream(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create ingest stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableWorkers,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       queueAckWait,
		MaxDeliver:    -1,
		FilterSubject: subjectIngest,
	})
	if err != nil {
		return nil, fmt.Errorf("create worker consumer: %w", err)
	}

	return &Queue{js: js, consumer: consumer, logger: logger}, nil
}

func getOrCreateStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.Stream(ctx, StreamIngest)
	if err == nil {
		return stream, nil
	}
	return js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      StreamIngest,
		Subjects:  []string{subjectIngest},
		Retention: jetstream.WorkQueuePolicy,
	})
}

// Publish enqueues an approved job id for processing.
func (q *Queue) Publish(ctx context.Context, jobID string) error {
	if _, err := q.js.Publish(ctx, subjectIngest, []byte(jobID)); err != nil {
		return fmt.Errorf("publish job %s: %w", jobID, err)
	}
	q.logger.Debug("Job enqueued", "job_id", jobID)
	return nil
}

// Messages returns an iterator over queued jobs. Callers own message
// lifecycle: Ack on terminal, Nak to requeue, Term to drop.
func (q *Queue) Messages() (jetstream.MessagesContext, error) {
	msgs, err := q.consumer.Messages()
	if err != nil {
		return nil, fmt.Errorf("consume ingest queue: %w", err)
	}
	return msgs, nil
}

// Depth returns the number of jobs waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	info, err := q.consumer.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("consumer info: %w", err)
	}
	return int(info.NumPending) + info.NumAckPending, nil
}
