package jobs

import (
	"sync"
	"time"
)

// EventType classifies journal entries.
type EventType string

const (
	EventTypeDispatch EventType = "dispatch"
	EventTypeWorker   EventType = "worker"
	EventTypeReset    EventType = "reset"
	EventTypeError    EventType = "error"
)

// Event is a sequenced journal entry consumed by UI subscribers.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Status    string    `json:"status,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	File      string    `json:"file,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// EventBus keeps the most recent events in a fixed ring and serves
// incremental reads by sequence number.
type EventBus struct {
	mu      sync.RWMutex
	nextSeq int64
	ring    []Event
	head    int // index of the oldest retained event
	count   int
}

// NewEventBus creates a journal retaining at most maxEvents entries.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &EventBus{ring: make([]Event, maxEvents)}
}

// Publish appends one event, evicting the oldest when full, and assigns
// sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if b.count < len(b.ring) {
		b.ring[(b.head+b.count)%len(b.ring)] = event
		b.count++
	} else {
		b.ring[b.head] = event
		b.head = (b.head + 1) % len(b.ring)
	}
	return event
}

// Since returns retained events with sequence strictly greater than seq,
// oldest first.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Sequences are contiguous, so the first wanted entry is found by offset.
	oldest := b.nextSeq - int64(b.count) + 1
	skip := 0
	if seq >= oldest {
		skip = int(seq - oldest + 1)
	}
	if skip >= b.count {
		return nil
	}

	out := make([]Event, 0, b.count-skip)
	for i := skip; i < b.count; i++ {
		out = append(out, b.ring[(b.head+i)%len(b.ring)])
	}
	return out
}

// LastSeq returns the sequence number of the newest event, or 0.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
