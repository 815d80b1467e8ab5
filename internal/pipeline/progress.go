package pipeline

import (
	"sync"

	"proofread-service/internal/models"
)

// EventKind classifies a progress event
type EventKind string

const (
	EventUnitCompleted      EventKind = "unit_completed"
	EventStatusUpdate       EventKind = "status_update"
	EventProcessingComplete EventKind = "processing_complete"
	EventError              EventKind = "error"
)

// Event is one sequenced progress notification for a task. Sequence numbers
// are monotonic per task so a subscriber can detect a gap and resynchronize
// from the store snapshot.
type Event struct {
	TaskID         string         `json:"processing_id"`
	Seq            uint64         `json:"seq"`
	Type           EventKind      `json:"type"`
	Status         string         `json:"status,omitempty"`
	Stage          string         `json:"stage,omitempty"`
	Progress       float64        `json:"progress"`
	ProcessedUnits int            `json:"processed_units"`
	TotalUnits     int            `json:"total_units"`
	LineNumber     int            `json:"line_number,omitempty"`
	Issues         []models.Issue `json:"issues,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// subscriber buffer; events beyond a slow consumer's buffer are dropped
const subscriberBuffer = 64

// Hub is the per-task publish/subscribe progress channel. Delivery is
// best-effort and non-persistent: late joiners miss prior events and resync
// via the task snapshot.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	seq    uint64
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewHub creates an empty progress hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

func (h *Hub) topicFor(taskID string) *topic {
	t, ok := h.topics[taskID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		h.topics[taskID] = t
	}
	return t
}

// Publish stamps the event with the next sequence number and broadcasts it.
// Slow subscribers lose events rather than blocking the publisher.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topicFor(ev.TaskID)
	if t.closed {
		return
	}
	t.seq++
	ev.Seq = t.seq

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe attaches a consumer to a task's topic. The returned cancel
// function detaches it; the channel is closed when the topic closes.
func (h *Hub) Subscribe(taskID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topicFor(taskID)
	ch := make(chan Event, subscriberBuffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if t, ok := h.topics[taskID]; ok {
			if ch, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(ch)
			}
		}
	}
	return ch, cancel
}

// Close terminates a task's topic after its terminal event. All subscriber
// channels are closed and the topic entry is dropped.
func (h *Hub) Close(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[taskID]
	if !ok {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
	delete(h.topics, taskID)
}
