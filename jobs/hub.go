package jobs

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the per-subscriber event buffer. A subscriber that
// falls this far behind is dropped rather than blocking the publisher.
const subscriberBuffer = 16

// EventKind labels progress hub events.
type EventKind string

// Event kinds published through the hub.
const (
	EventSnapshot EventKind = "snapshot"
	EventProgress EventKind = "progress"
	EventStatus   EventKind = "status"
	EventTerminal EventKind = "terminal"
)

// Event is one progress update for a job. Job is a point-in-time copy.
type Event struct {
	Kind EventKind
	Job  *Job
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// Hub fans job progress events out to in-process subscribers. Publishing
// never blocks: subscribers that cannot keep up are disconnected.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	logger *slog.Logger

	dropped atomic.Int64
}

// NewHub creates an empty progress hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers for events on a job. The returned cancel function
// must be called when done; the channel is closed on cancel or when the
// subscriber is dropped for falling behind.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*subscriber]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		h.remove(jobID, sub)
		h.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of the job.
func (h *Hub) Publish(jobID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[jobID] {
		select {
		case sub.ch <- event:
		default:
			h.remove(jobID, sub)
			dropped := h.dropped.Add(1)
			h.logger.Warn("Dropped slow progress subscriber",
				"job_id", jobID,
				"total_dropped", dropped)
		}
	}
}

// Subscribers returns the number of active subscribers for a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// Dropped returns the total number of subscribers dropped for lagging.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// remove must be called with h.mu held.
func (h *Hub) remove(jobID string, sub *subscriber) {
	set := h.subs[jobID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, jobID)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
