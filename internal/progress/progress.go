// Package progress fans out throttled simulation progress updates to
// subscribers, typically websocket connections.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Update is one progress report for a simulation run.
type Update struct {
	RunID           string    `json:"run_id"`
	GoalID          string    `json:"goal_id"`
	CompletedChunks int       `json:"completed_chunks"`
	TotalChunks     int       `json:"total_chunks"`
	Percent         float64   `json:"percent"`
	Done            bool      `json:"done"`
	Timestamp       time.Time `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel. Slow subscribers drop
// updates rather than stall the runner.
const subscriberBuffer = 16

// Hub distributes updates to all current subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Update]struct{}
	log         zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[chan Update]struct{}),
		log:         log.With().Str("component", "progress").Logger(),
	}
}

// Subscribe registers a listener. The returned cancel function must be
// called when the listener goes away.
func (h *Hub) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) publish(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- u:
		default:
			// Subscriber is not keeping up; drop rather than block the run.
		}
	}
}

// Tracker reports progress for one run, throttled to at most one update per
// minInterval. Completion always bypasses the throttle.
type Tracker struct {
	hub    *Hub
	runID  string
	goalID string

	mu          sync.Mutex
	lastReport  time.Time
	minInterval time.Duration
}

// NewTracker starts tracking a run for a goal under a fresh run ID.
func (h *Hub) NewTracker(goalID string) *Tracker {
	return &Tracker{
		hub:         h,
		runID:       uuid.NewString(),
		goalID:      goalID,
		minInterval: 100 * time.Millisecond,
	}
}

// RunID returns the run's unique identifier.
func (t *Tracker) RunID() string {
	return t.runID
}

// Report publishes a throttled update. The final chunk always goes out.
func (t *Tracker) Report(completed, total int) {
	t.mu.Lock()
	now := time.Now()
	done := total > 0 && completed >= total
	if now.Sub(t.lastReport) < t.minInterval && !done {
		t.mu.Unlock()
		return
	}
	t.lastReport = now
	t.mu.Unlock()

	percent := 0.0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100.0
	}

	t.hub.publish(Update{
		RunID:           t.runID,
		GoalID:          t.goalID,
		CompletedChunks: completed,
		TotalChunks:     total,
		Percent:         percent,
		Done:            done,
		Timestamp:       now,
	})
}

// Callback adapts the tracker to the runner's progress hook.
func (t *Tracker) Callback() func(completed, total int) {
	return t.Report
}
