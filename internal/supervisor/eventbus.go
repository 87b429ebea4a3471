package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types published by the supervisor.
const (
	EventDaemonStarting         = "daemon.starting"
	EventDaemonRunning          = "daemon.running"
	EventDaemonStopping         = "daemon.stopping"
	EventDaemonStopped          = "daemon.stopped"
	EventDaemonExited           = "daemon.exited"
	EventDaemonRestartScheduled = "daemon.restart_scheduled"
)

// Event describes one daemon lifecycle transition.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type is one of the EventDaemon* constants.
	Type string `json:"type"`

	// Daemon is the name of the daemon the event concerns.
	Daemon string `json:"daemon"`

	// Timestamp is when the transition was recorded.
	Timestamp time.Time `json:"timestamp"`

	// State is a snapshot of the daemon state after the transition.
	State DaemonState `json:"state"`

	// Outcome carries the process exit outcome for daemon.exited events.
	Outcome *ExitOutcome `json:"outcome,omitempty"`
}

// EventBus distributes daemon lifecycle events to subscribers with
// optional filtering by event type and daemon name.
//
// The bus is thread-safe and supports multiple concurrent subscribers.
// Slow consumers are handled gracefully: if a subscriber's channel is
// full, the event is dropped for that subscriber so it can never block
// the supervisor or other subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	bufferSize  int
	logger      *slog.Logger
	closed      bool
}

// subscription represents a single subscriber with filtering.
type subscription struct {
	id         string
	ch         chan Event
	eventTypes map[string]bool // empty means all event types
	daemon     string          // empty means all daemons
	cancel     context.CancelFunc
}

// EventBusOption is a functional option for configuring EventBus.
type EventBusOption func(*EventBus)

// WithEventBufferSize sets the buffer size for subscriber channels.
// Default is 100. Larger buffers absorb bursty restart storms better.
func WithEventBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		eb.bufferSize = size
	}
}

// NewEventBus creates a new event bus for distributing supervisor events.
func NewEventBus(logger *slog.Logger, opts ...EventBusOption) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}

	eb := &EventBus{
		subscribers: make(map[string]*subscription),
		bufferSize:  100,
		logger:      logger.With("component", "eventbus"),
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

// Publish sends an event to all matching subscribers. If a subscriber's
// channel is full the event is dropped for that subscriber.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, sub := range eb.subscribers {
		if len(sub.eventTypes) > 0 && !sub.eventTypes[event.Type] {
			continue
		}
		if sub.daemon != "" && sub.daemon != event.Daemon {
			continue
		}

		select {
		case sub.ch <- event:
		default:
			eb.logger.Debug("dropping event for slow subscriber",
				"subscriber", sub.id,
				"event_type", event.Type,
				"daemon", event.Daemon)
		}
	}
}

// Subscribe registers a new subscriber. An empty eventTypes slice matches
// all event types; an empty daemon matches all daemons. The returned
// cleanup function must be called to release the subscription; the
// subscription also ends when ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, eventTypes []string, daemon string) (<-chan Event, func()) {
	subCtx, cancel := context.WithCancel(ctx)

	typeSet := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeSet[t] = true
	}

	sub := &subscription{
		id:         uuid.NewString(),
		ch:         make(chan Event, eb.bufferSize),
		eventTypes: typeSet,
		daemon:     daemon,
		cancel:     cancel,
	}

	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		cancel()
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}
	eb.subscribers[sub.id] = sub
	eb.mu.Unlock()

	cleanup := func() {
		cancel()
		eb.unsubscribe(sub.id)
	}

	go func() {
		<-subCtx.Done()
		eb.unsubscribe(sub.id)
	}()

	eb.logger.Debug("subscriber registered",
		"subscriber", sub.id,
		"event_types", eventTypes,
		"daemon", daemon)

	return sub.ch, cleanup
}

// unsubscribe removes a subscriber and closes its channel.
func (eb *EventBus) unsubscribe(id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[id]
	if !ok {
		return
	}
	delete(eb.subscribers, id)
	close(sub.ch)
}

// Close shuts down the bus and closes all subscriber channels.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for id, sub := range eb.subscribers {
		sub.cancel()
		close(sub.ch)
		delete(eb.subscribers, id)
	}
}

// newEvent builds an event with a fresh ID and timestamp.
func newEvent(eventType string, state DaemonState, outcome *ExitOutcome) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Daemon:    state.Name,
		Timestamp: time.Now(),
		State:     state,
		Outcome:   outcome,
	}
}
