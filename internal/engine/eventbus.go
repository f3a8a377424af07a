package engine

import (
	"sync"
	"time"
)

// EventType names something the engine did.
type EventType string

const (
	EventEntryLogged  EventType = "entry_logged"
	EventEntryIndexed EventType = "entry_indexed"
	EventIndexFailed  EventType = "index_failed"
	EventEntryDeleted EventType = "entry_deleted"
	EventDeleteMissed EventType = "delete_missed"
)

// Event is published after the state change it describes is on disk.
type Event struct {
	Type      EventType
	Timestamp time.Time
	User      string
	EntryID   string
	Err       error
}

// EventHandler receives events. Handlers run synchronously on the
// publishing goroutine, which may be a background index writer.
type EventHandler func(Event)

// EventBus fans events out to subscribers.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for one event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish delivers event to its subscribers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range eb.handlers[event.Type] {
		handler(event)
	}
	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

func (eb *EventBus) publish(t EventType, user, id string, err error) {
	eb.Publish(Event{Type: t, User: user, EntryID: id, Err: err})
}
