package refresh

import (
	"sync"
	"time"

	"studio/internal/queuestatus"
	"studio/internal/sysstats"
)

// EventKind names what changed.
type EventKind string

const (
	EventStats      EventKind = "stats"
	EventQueue      EventKind = "queue"
	EventCurrentJob EventKind = "current_job"
)

// Event is published after every tick, poll or action.
type Event struct {
	Sequence  uint64
	Kind      EventKind
	Timestamp time.Time
	Stats     *sysstats.Stats
	Queue     *queuestatus.Snapshot
	Monitor   *queuestatus.MonitorState
	Layout    *Layout
}

type subscriber struct {
	ch chan Event
}

// Hub fans events out to subscribers. Slow subscribers miss events rather
// than block the publisher.
type Hub struct {
	mu      sync.Mutex
	nextSeq uint64
	subs    map[*subscriber]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener with the given channel buffer. The returned
// func unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish stamps evt and delivers it to every subscriber.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	for sub := range h.subs {
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
