package bridge

import (
	"sync"
	"time"
)

// EventType names a registry notification.
type EventType string

const (
	EventFileConnected    EventType = "file_connected"
	EventFileDisconnected EventType = "file_disconnected"
	EventActiveChanged    EventType = "active_changed"
)

// Event is emitted on session lifecycle and active-target changes. For
// EventActiveChanged with no remaining sessions, FileKey is empty. Seq
// increases by one per emitted event, in registry order.
type Event struct {
	Seq      uint64    `json:"seq"`
	Type     EventType `json:"type"`
	FileKey  string    `json:"fileKey"`
	FileName string    `json:"fileName"`
	At       time.Time `json:"at"`
}

type eventHub struct {
	mu   sync.Mutex
	next int
	seq  uint64
	subs map[int]chan Event
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

// subscribe registers a buffered listener. Slow listeners miss events rather
// than stall the registry.
func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *eventHub) emit(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	evt.Seq = h.seq
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// emitLocked publishes events while the caller holds s.mu, so subscribers
// observe them in the order the registry changed. emit never blocks.
func (s *Server) emitLocked(events ...Event) {
	for _, evt := range events {
		s.events.emit(evt)
	}
}
