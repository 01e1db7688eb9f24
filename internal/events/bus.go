// Package events provides the in-memory broadcast bus used to push recording
// status changes to every trigger source and UI.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

const (
	EventStatusChanged    EventType = "recording.status"
	EventTaskChanged      EventType = "task.changed"
	EventShortcutsChanged EventType = "shortcuts.changed"
	EventAppQuit          EventType = "app.quit"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceCoordinator EventSource = "coordinator"
	SourceStore       EventSource = "store"
	SourceShortcuts   EventSource = "shortcuts"
	SourceService     EventSource = "service"
)

// RecordingStatus is the snapshot every presentation layer renders from.
type RecordingStatus struct {
	IsRecording  bool      `json:"isRecording"`
	ActiveTaskID string    `json:"activeTaskId,omitempty"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	LastPath     string    `json:"lastPath,omitempty"`
}

// Event is a single broadcast.
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Source    EventSource      `json:"source"`
	Status    *RecordingStatus `json:"status,omitempty"`
	TaskID    string           `json:"taskId,omitempty"`
	Message   string           `json:"message,omitempty"`
}

var eventIDCounter uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// StatusEvent wraps a status snapshot into a status-changed event.
func StatusEvent(st RecordingStatus) Event {
	e := NewEvent(EventStatusChanged, SourceCoordinator)
	e.Status = &st
	e.TaskID = st.ActiveTaskID
	return e
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// subscription delivers to one listener from its own goroutine so that a
// listener sees events in publish order. When its queue is full the oldest
// pending event is dropped; the newest snapshot always wins.
type subscription struct {
	id         string
	eventTypes []EventType
	queue      chan Event
	done       chan struct{}
	dropped    atomic.Uint64
}

func (s *subscription) matches(event Event) bool {
	if len(s.eventTypes) == 0 {
		return true
	}
	for _, t := range s.eventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}

func (s *subscription) offer(event Event) {
	for {
		select {
		case s.queue <- event:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

// Bus is a fire-and-forget pub/sub bus with a ring buffer of recent events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	queueSize   int
	ringBuffer  *RingBuffer
	closed      bool
}

// NewBus creates a new event bus. queueSize bounds each subscriber's pending
// queue and the history length.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Bus{
		subscribers: make(map[string]*subscription),
		queueSize:   queueSize,
		ringBuffer:  NewRingBuffer(queueSize),
	}
}

// Publish records the event and hands it to every matching subscriber.
// It never blocks on a slow subscriber.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.ringBuffer.Add(event)
	for _, sub := range b.subscribers {
		if sub.matches(event) {
			sub.offer(event)
		}
	}
}

// Subscribe registers a handler for specific event types (all types when none
// are given). Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	sub := &subscription{
		id:         uuid.NewString(),
		eventTypes: eventTypes,
		queue:      make(chan Event, b.queueSize),
		done:       make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case e := <-sub.queue:
				handler(e)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subscribers[sub.id]; ok {
				delete(b.subscribers, sub.id)
				close(sub.done)
			}
			b.mu.Unlock()
		})
	}
}

// SubscribeChan returns a channel that receives events. The channel is
// closed by the returned cancel function.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	if bufSize <= 0 {
		bufSize = 1
	}
	ch := make(chan Event, bufSize)
	var mu sync.Mutex
	closed := false

	unsubscribe := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case ch <- e:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	}, eventTypes...)

	return ch, func() {
		unsubscribe()
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
}

// History returns up to limit recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	return b.ringBuffer.Get(limit)
}

// Close stops delivery to every subscriber. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.done)
		delete(b.subscribers, id)
	}
}

// RingBuffer is a circular buffer for storing recent events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	size   int
	pos    int
	count  int
}

// NewRingBuffer creates a new ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

func (r *RingBuffer) Add(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.pos] = event
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count || n <= 0 {
		n = r.count
	}
	if n == 0 {
		return nil
	}

	result := make([]Event, n)
	start := (r.pos - n + r.size) % r.size
	for i := 0; i < n; i++ {
		result[i] = r.events[(start+i)%r.size]
	}
	return result
}
