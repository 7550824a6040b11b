package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/TWRT/task-lifecycle/internal/models"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventTaskCreated is published when a task is authored.
	EventTaskCreated EventType = "task_created"
	// EventTaskMutated is published after every accepted lifecycle write.
	EventTaskMutated EventType = "task_mutated"
)

// Event describes one accepted write. Before is nil for creations.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Action    string
	Actor     string
	Before    *models.Task
	After     models.Task
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus. Each subscriber drains its own buffered
// channel in a goroutine; a full channel drops the event with a warning.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	wg          sync.WaitGroup
	closed      bool
	logger      *slog.Logger
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers fn for eventType and returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			b.deliver(fn, event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

func (b *Bus) deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "event_type", event.Type, "panic", r)
		}
	}()
	fn(event)
}

// Publish sends event to all subscribers of its type without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("subscriber buffer full, event dropped",
				"event_type", event.Type, "task_id", event.After.ID, "version", event.After.Version)
		}
	}
}

// Close stops accepting events and waits until every subscriber has drained
// what was already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
