package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishAndSubscribe(t *testing.T) {
	hub := NewHub(nil)

	ch, cancel := hub.Subscribe("job_aaa")
	defer cancel()

	job := &Job{ID: "job_aaa", Status: StatusProcessing}
	hub.Publish("job_aaa", Event{Kind: EventProgress, Job: job})

	select {
	case ev := <-ch:
		assert.Equal(t, EventProgress, ev.Kind)
		assert.Equal(t, "job_aaa", ev.Job.ID)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestHub_IsolatesJobs(t *testing.T) {
	hub := NewHub(nil)

	chA, cancelA := hub.Subscribe("job_aaa")
	defer cancelA()
	_, cancelB := hub.Subscribe("job_bbb")
	defer cancelB()

	hub.Publish("job_bbb", Event{Kind: EventStatus, Job: &Job{ID: "job_bbb"}})

	select {
	case <-chA:
		t.Fatal("subscriber for job_aaa should not see job_bbb events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(nil)

	ch, cancel := hub.Subscribe("job_aaa")
	cancel()

	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancel")
	assert.Equal(t, 0, hub.Subscribers("job_aaa"))

	// Publishing after cancel is a no-op.
	hub.Publish("job_aaa", Event{Kind: EventProgress})
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)

	ch, cancel := hub.Subscribe("job_aaa")
	defer cancel()

	// Never read: overflow the buffer by one to trigger the drop.
	for i := 0; i <= subscriberBuffer; i++ {
		hub.Publish("job_aaa", Event{Kind: EventProgress, Job: &Job{ID: "job_aaa"}})
	}

	require.Equal(t, int64(1), hub.Dropped())
	assert.Equal(t, 0, hub.Subscribers("job_aaa"))

	// Buffered events drain, then the channel reports closed.
	for i := 0; i < subscriberBuffer; i++ {
		_, open := <-ch
		require.True(t, open)
	}
	_, open := <-ch
	assert.False(t, open)
}

func TestHub_DoubleCancelSafe(t *testing.T) {
	hub := NewHub(nil)

	_, cancel := hub.Subscribe("job_aaa")
	cancel()
	cancel()
}
