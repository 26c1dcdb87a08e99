package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgraph/graph/memstore"
	"github.com/c360studio/semgraph/jobs"
)

type testEnv struct {
	scheduler *Scheduler
	store     *jobs.Store
	queue     *jobs.Queue
	hub       *jobs.Hub
	graph     *memstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))

	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	js, err := jetstream.New(conn)
	require.NoError(t, err)

	ctx := context.Background()
	store, err := jobs.NewStore(ctx, js, nil)
	require.NoError(t, err)
	queue, err := jobs.NewQueue(ctx, js, nil)
	require.NoError(t, err)

	hub := jobs.NewHub(nil)
	gs := memstore.New()

	return &testEnv{
		scheduler: New(store, queue, hub, gs, DefaultConfig(), nil),
		store:     store,
		queue:     queue,
		hub:       hub,
		graph:     gs,
	}
}

func testDoc() []byte {
	return []byte("# Graph Theory Notes\n\n" + strings.Repeat("Nodes connect to other nodes through weighted edges. ", 20))
}

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.scheduler.Submit(ctx, SubmitRequest{
		Type: jobs.TypeText, Content: testDoc(), Ontology: "research",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err), "missing principal should be a validation error")

	_, err = env.scheduler.Submit(ctx, SubmitRequest{
		Type: jobs.TypeText, Content: testDoc(), Principal: "alice",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err), "missing ontology should be a validation error")

	_, err = env.scheduler.Submit(ctx, SubmitRequest{
		Type: jobs.TypeText, Principal: "alice", Ontology: "research",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err), "empty content should be a validation error")
}

func TestSubmit_AwaitsApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.scheduler.Submit(ctx, SubmitRequest{
		Type:      jobs.TypeText,
		Content:   testDoc(),
		Filename:  "notes.md",
		Principal: "alice",
		Ontology:  "research",
	})
	require.NoError(t, err)
	require.False(t, result.Existing)

	job := result.Job
	assert.Equal(t, jobs.StatusAwaitingApproval, job.Status)
	require.NotNil(t, job.Analysis)
	assert.NotZero(t, job.Analysis.ChunkCount)
	assert.Equal(t, "USD", job.Analysis.CostEstimate.Total.Currency)
	require.NotNil(t, job.ExpiresAt)
	assert.True(t, job.ExpiresAt.After(time.Now()))

	// Canonical text, not raw bytes, lands in the content store.
	content, err := env.store.GetContent(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Graph Theory Notes")

	// Nothing enqueued without approval.
	depth, err := env.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSubmit_DedupAndForce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := SubmitRequest{
		Type:      jobs.TypeText,
		Content:   testDoc(),
		Principal: "alice",
		Ontology:  "research",
	}

	first, err := env.scheduler.Submit(ctx, req)
	require.NoError(t, err)

	second, err := env.scheduler.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	// A different principal is not deduped against alice's job.
	other := req
	other.Principal = "bob"
	third, err := env.scheduler.Submit(ctx, other)
	require.NoError(t, err)
	assert.False(t, third.Existing)

	// force bypasses dedup for the same principal.
	forced := req
	forced.Options.Force = true
	fourth, err := env.scheduler.Submit(ctx, forced)
	require.NoError(t, err)
	assert.False(t, fourth.Existing)
	assert.NotEqual(t, first.Job.ID, fourth.Job.ID)
}

func TestSubmit_AutoApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.scheduler.Submit(ctx, SubmitRequest{
		Type:      jobs.TypeText,
		Content:   testDoc(),
		Principal: "alice",
		Ontology:  "research",
		Options:   jobs.Options{AutoApprove: true},
	})
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusApproved, result.Job.Status)
	assert.Equal(t, "auto", result.Job.ApprovedBy)

	depth, err := env.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestSubmit_Image(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 200)...)
	result, err := env.scheduler.Submit(ctx, SubmitRequest{
		Type:      jobs.TypeImage,
		Content:   png,
		Filename:  "diagram.png",
		Principal: "alice",
		Ontology:  "research",
	})
	require.NoError(t, err)

	assert.Equal(t, jobs.TypeImage, result.Job.Type)
	assert.Equal(t, 1, result.Job.Analysis.ChunkCount)
	assert.Equal(t, "image/png", result.Job.Analysis.FileStats.Format)

	// Invalid image bytes fail validation.
	_, err = env.scheduler.Submit(ctx, SubmitRequest{
		Type:      jobs.TypeImage,
		Content:   []byte("not an image, just text padded out to minimum length for the validator to inspect properly"),
		Principal: "alice",
		Ontology:  "research",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.scheduler.Submit(ctx, SubmitRequest{
		Type: jobs.TypeText, Content: testDoc(), Principal: "alice", Ontology: "research",
	})
	require.NoError(t, err)
	id := result.Job.ID

	// Foreign principal is refused before any state change.
	_, err = env.scheduler.Approve(ctx, id, "mallory")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))

	job, err := env.scheduler.Approve(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusApproved, job.Status)
	assert.Equal(t, "alice", job.ApprovedBy)

	depth, err := env.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	// Double approval is a state conflict.
	_, err = env.scheduler.Approve(ctx, id, "alice")
	var te *jobs.TransitionError
	require.ErrorAs(t, err, &te)
}

func TestReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.scheduler.Submit(ctx, SubmitRequest{
		Type: jobs.TypeText, Content: testDoc(), Principal: "alice", Ontology: "research",
	})
	require.NoError(t, err)

	job, err := env.scheduler.Reject(ctx, result.Job.ID, "alice", "wrong ontology")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRejected, job.Status)
	assert.Equal(t, "wrong ontology", job.StatusChanges[len(job.StatusChanges)-1].Reason)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("before processing is immediate", func(t *testing.T) {
		result, err := env.scheduler.Submit(ctx, SubmitRequest{
			Type: jobs.TypeText, Content: testDoc(), Principal: "alice", Ontology: "research",
		})
		require.NoError(t, err)

		job, err := env.scheduler.Cancel(ctx, result.Job.ID, "alice", "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusCancelled, job.Status)
	})

	t.Run("during processing is cooperative", func(t *testing.T) {
		job := jobs.NewJob(jobs.TypeText, "alice", "research")
		require.NoError(t, job.SetStatus(jobs.StatusAwaitingApproval, "", ""))
		require.NoError(t, job.SetStatus(jobs.StatusApproved, "alice", ""))
		require.NoError(t, job.SetStatus(jobs.StatusProcessing, "", ""))
		require.NoError(t, env.store.Create(ctx, job))

		updated, err := env.scheduler.Cancel(ctx, job.ID, "alice", "")
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusProcessing, updated.Status)
		assert.True(t, updated.CancelRequested)
	})

	t.Run("terminal job conflicts", func(t *testing.T) {
		result, err := env.scheduler.Submit(ctx, SubmitRequest{
			Type:      jobs.TypeText,
			Content:   []byte("another document body entirely, to dodge dedup against earlier submissions here"),
			Principal: "alice",
			Ontology:  "research",
		})
		require.NoError(t, err)
		_, err = env.scheduler.Reject(ctx, result.Job.ID, "alice", "")
		require.NoError(t, err)

		_, err = env.scheduler.Cancel(ctx, result.Job.ID, "alice", "")
		var te *jobs.TransitionError
		require.ErrorAs(t, err, &te)
	})
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.scheduler.Submit(ctx, SubmitRequest{
		Type: jobs.TypeText, Content: testDoc(), Principal: "alice", Ontology: "research",
	})
	require.NoError(t, err)
	id := result.Job.ID

	_, err = env.scheduler.Reject(ctx, id, "alice", "")
	require.NoError(t, err)

	require.NoError(t, env.scheduler.Delete(ctx, id, "alice"))

	_, err = env.scheduler.Get(ctx, id, "alice")
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestGetAndList_Ownership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.scheduler.Submit(ctx, SubmitRequest{
		Type: jobs.TypeText, Content: testDoc(), Principal: "alice", Ontology: "research",
	})
	require.NoError(t, err)

	_, err = env.scheduler.Get(ctx, result.Job.ID, "bob")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))

	mine, err := env.scheduler.List(ctx, "alice", jobs.Filter{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := env.scheduler.List(ctx, "bob", jobs.Filter{})
	require.NoError(t, err)
	assert.Empty(t, theirs)
}
