package observability

import (
	"sync"
	"time"
)

// Stage is the coarse phase label of a progress event.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageScoring   Stage = "scoring"
	StageOrdering  Stage = "ordering"
	StageEvaluate  Stage = "evaluating"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// Terminal reports whether no further events follow this stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// ProgressEvent is pushed by the hybrid engine while it runs.
type ProgressEvent struct {
	SessionID       string    `json:"session_id"`
	Stage           Stage     `json:"stage"`
	Percent         int       `json:"percent"`
	Iteration       int       `json:"iteration"`
	TotalIterations int       `json:"total_iterations"`
	TasksScored     int       `json:"tasks_scored"`
	TasksOrdered    int       `json:"tasks_ordered"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Hub fans progress events out to per-session subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan ProgressEvent
	last   map[string]ProgressEvent
	logger *Logger
}

// AllSessions subscribes to every session's events.
const AllSessions = "*"

func NewHub(logger *Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[int]chan ProgressEvent),
		last:   make(map[string]ProgressEvent),
		logger: logger,
	}
}

// Subscribe returns a channel of events for sessionID (or AllSessions) and a
// function that cancels the subscription and closes the channel.
func (h *Hub) Subscribe(sessionID string, buffer int) (<-chan ProgressEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ProgressEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan ProgressEvent)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers evt to current subscribers without waiting.
func (h *Hub) Publish(evt ProgressEvent) {
	if h == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	if evt.Stage.Terminal() {
		delete(h.last, evt.SessionID)
	} else {
		h.last[evt.SessionID] = evt
	}
	h.mu.Unlock()

	h.mu.RLock()
	for _, key := range []string{evt.SessionID, AllSessions} {
		for _, ch := range h.subs[key] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	h.mu.RUnlock()

	h.logger.Log(Event{Type: EventTypeProgress, SessionID: evt.SessionID, Data: evt})
}

// Snapshot returns the most recent event published for a session that is
// still running.
func (h *Hub) Snapshot(sessionID string) (ProgressEvent, bool) {
	if h == nil {
		return ProgressEvent{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	evt, ok := h.last[sessionID]
	return evt, ok
}
