// Package realtime provides a lightweight in-process publish/subscribe hub
// used to fan out annotation and fetch events to multiple listeners (e.g.
// WebSocket sessions watching the annotation UI).
//
// Delivery is best effort: a listener whose buffer is full drops events
// rather than backpressuring the writer. There is no persistence or replay;
// the stream is ephemeral.
package realtime

import (
	"sync"
	"time"
)

// Event kinds carried over the hub.
const (
	EventAnnotation = "annotation"
	EventFetch      = "fetch"
)

// AnnotationEvent is emitted when a search result's annotated rank changes.
// Rank is nil when the annotation was cleared.
type AnnotationEvent struct {
	ResultID string    `json:"result_id"`
	QID      string    `json:"qid"`
	Rank     *int      `json:"rank"`
	At       time.Time `json:"at"`
}

// FetchEvent is emitted when a result set is fetched from the remote search
// API and cached for a query.
type FetchEvent struct {
	QID     string    `json:"qid"`
	Results int       `json:"results"`
	At      time.Time `json:"at"`
}

// Envelope wraps events so new kinds can be added without changing channel
// element types. Exactly one of Annotation/Fetch is set, matching Type.
type Envelope struct {
	Type       string           `json:"type"`
	Annotation *AnnotationEvent `json:"annotation,omitempty"`
	Fetch      *FetchEvent      `json:"fetch,omitempty"`
}

// Hub is an in-memory fan-out dispatcher. Each registered listener receives
// events via its own buffered channel; a full buffer drops the event for
// that listener only. The hub is concurrency-safe.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan Envelope
	nextID    uint64
	bufSize   int
}

// NewHub constructs a hub with the given per-listener buffer size. If
// bufSize <= 0, a default of 32 is used.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		listeners: make(map[uint64]chan Envelope),
		bufSize:   bufSize,
	}
}

// Register adds a new listener and returns (listenerID, receiveOnlyChannel).
// Callers must later Unregister(id) to release resources.
func (h *Hub) Register() (uint64, <-chan Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Envelope, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes the listener with the given id and closes its channel.
// It is safe to call multiple times; unknown ids are ignored.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// BroadcastAnnotation delivers an annotation event to all listeners.
func (h *Hub) BroadcastAnnotation(e AnnotationEvent) {
	h.broadcast(Envelope{Type: EventAnnotation, Annotation: &e})
}

// BroadcastFetch delivers a fetch event to all listeners.
func (h *Hub) BroadcastFetch(e FetchEvent) {
	h.broadcast(Envelope{Type: EventFetch, Fetch: &e})
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- env:
		default:
			// Drop for slow listener.
		}
	}
}

// Size returns the current number of active listeners.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
