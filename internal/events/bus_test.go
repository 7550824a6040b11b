package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWRT/task-lifecycle/internal/models"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10, nil)

	var mu sync.Mutex
	received := []Event{}

	bus.Subscribe(EventTaskMutated, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventTaskMutated, Action: "claim", After: models.Task{ID: "task_123", Version: 2}})

	// Close waits for delivery
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "claim", received[0].Action)
	assert.Equal(t, "task_123", received[0].After.ID)
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestBus_OnlyMatchingType(t *testing.T) {
	bus := NewBus(10, nil)

	var mu sync.Mutex
	created, mutated := 0, 0
	bus.Subscribe(EventTaskCreated, func(Event) { mu.Lock(); created++; mu.Unlock() })
	bus.Subscribe(EventTaskMutated, func(Event) { mu.Lock(); mutated++; mu.Unlock() })

	bus.Publish(Event{Type: EventTaskMutated})
	bus.Publish(Event{Type: EventTaskMutated})
	bus.Publish(Event{Type: EventTaskCreated})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, created)
	assert.Equal(t, 2, mutated)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(EventTaskMutated, func(Event) { mu.Lock(); count++; mu.Unlock() })
	unsub()

	bus.Publish(Event{Type: EventTaskMutated})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestBus_SubscriberPanicRecovered(t *testing.T) {
	bus := NewBus(10, nil)

	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(EventTaskMutated, func(e Event) {
		if e.Action == "boom" {
			panic("subscriber failure")
		}
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventTaskMutated, Action: "boom"})
	bus.Publish(Event{Type: EventTaskMutated, Action: "ok"})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
}

func TestBus_PublishAfterCloseIsIgnored(t *testing.T) {
	bus := NewBus(10, nil)
	bus.Close()

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: EventTaskMutated})
	})
	// Close is idempotent
	bus.Close()
}
