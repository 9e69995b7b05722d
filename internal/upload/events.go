package upload

import (
	"encoding/json"
	"sync"
	"time"
)

// EventKind identifies a terminal upload outcome for a queued record.
type EventKind string

const (
	EventUploadSucceeded EventKind = "uploadSucceeded"
	EventUploadFailed    EventKind = "uploadFailed"
)

// Event is published when a queued record leaves the queue.
type Event struct {
	Kind       EventKind       `json:"kind"`
	RecordID   int64           `json:"record_id"`
	FileName   string          `json:"file_name"`
	OwnerID    string          `json:"owner_id,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count"`
	At         time.Time       `json:"at"`
}

type eventBus struct {
	mu          sync.Mutex
	subscribers map[uint64]func(Event)
	nextID      uint64
}

func newEventBus() *eventBus {
	return &eventBus{subscribers: make(map[uint64]func(Event))}
}

func (b *eventBus) subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// publish calls subscribers synchronously, outside the bus lock.
func (b *eventBus) publish(event Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
