package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a named notification delivered through a Dispatcher.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Name is the event name listeners subscribe to.
	Name string `json:"name"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// Payload is the typed body of the event, owned by the emitter.
	Payload interface{} `json:"-"`

	// Data carries loosely typed arguments (for example the arguments and
	// return values of an intercepted call).
	Data map[string]interface{} `json:"data,omitempty"`

	stopped bool
}

// NewEvent creates an event with a fresh ID and timestamp.
func NewEvent(name string, payload interface{}, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Name:      name,
		Timestamp: time.Now(),
		Payload:   payload,
		Data:      data,
	}
}

// StopPropagation prevents lower priority listeners from receiving the event.
func (e *Event) StopPropagation() {
	e.stopped = true
}

// IsPropagationStopped reports whether a listener stopped the event.
func (e *Event) IsPropagationStopped() bool {
	return e.stopped
}

// Listener handles a dispatched event. A non-nil error stops delivery and
// is returned to the dispatcher's caller.
type Listener func(ctx context.Context, event *Event) error

// Filter determines if an event should be delivered to a listener.
type Filter func(event *Event) bool

// Dispatcher delivers events synchronously, on the caller's goroutine, to
// listeners registered by name. Higher priority listeners run first; equal
// priorities run in registration order.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	seq       int
}

type listenerEntry struct {
	listener Listener
	filter   Filter
	priority int
	seq      int
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		listeners: make(map[string][]listenerEntry),
	}
}

// AddListener registers a listener for an event name.
func (d *Dispatcher) AddListener(name string, listener Listener, priority int) {
	d.AddFilteredListener(name, listener, nil, priority)
}

// AddFilteredListener registers a listener that only receives events
// accepted by filter. A nil filter accepts every event.
func (d *Dispatcher) AddFilteredListener(name string, listener Listener, filter Filter, priority int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	entries := append(d.listeners[name], listenerEntry{
		listener: listener,
		filter:   filter,
		priority: priority,
		seq:      d.seq,
	})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	d.listeners[name] = entries
}

// HasListeners reports whether anything listens for name.
func (d *Dispatcher) HasListeners(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.listeners[name]) > 0
}

// Dispatch delivers event to every listener registered for its name.
// Listeners may register further listeners while being called.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("cannot dispatch nil event")
	}

	d.mu.RLock()
	entries := make([]listenerEntry, len(d.listeners[event.Name]))
	copy(entries, d.listeners[event.Name])
	d.mu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		if err := entry.listener(ctx, event); err != nil {
			return fmt.Errorf("listener for %s failed: %w", event.Name, err)
		}
		if event.IsPropagationStopped() {
			break
		}
	}

	return nil
}

// Emit builds and dispatches an event in one call.
func (d *Dispatcher) Emit(ctx context.Context, name string, payload interface{}, data map[string]interface{}) error {
	return d.Dispatch(ctx, NewEvent(name, payload, data))
}

// FilterByPayload creates a filter that only accepts events whose payload
// satisfies match.
func FilterByPayload(match func(payload interface{}) bool) Filter {
	return func(event *Event) bool {
		return match(event.Payload)
	}
}
