// Package events provides a non-blocking pub/sub bus for run lifecycle
// events. Delivery is asynchronous via buffered channels; a slow subscriber
// loses events rather than stalling the engine.
package events

import (
	"sync"
	"time"
)

type EventType string

const (
	EventTaskReceived       EventType = "task_received"
	EventIterationStarted   EventType = "iteration_started"
	EventIterationCompleted EventType = "iteration_completed"
	EventTaskCompleted      EventType = "task_completed"
	EventTaskFailed         EventType = "task_failed"
	EventTaskCleaned        EventType = "task_cleaned"
)

// Event describes one lifecycle transition of a task run.
type Event struct {
	Type      EventType
	Timestamp time.Time
	TaskID    string
	ChatID    string
	Iteration int
	Detail    string
}

type Subscriber func(Event)

type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe
// function. fn runs on its own goroutine; panics are contained.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
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

// Publish delivers ev to every subscriber of its type without blocking. A
// full subscriber channel drops the event for that subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	for _, ch := range b.subscribers[ev.Type] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts down all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
