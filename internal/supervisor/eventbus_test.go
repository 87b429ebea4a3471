package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningState(name string) DaemonState {
	pid := 1234
	return DaemonState{Name: name, Status: DaemonStatusRunning, PID: &pid}
}

func TestEventBus_PublishAndSubscribe(t *testing.T) {
	bus := NewEventBus(slog.Default())
	defer bus.Close()

	ctx := context.Background()

	// Subscribe to all events.
	events, cleanup := bus.Subscribe(ctx, nil, "")
	defer cleanup()

	bus.Publish(newEvent(EventDaemonRunning, runningState("worker"), nil))

	select {
	case received := <-events:
		assert.Equal(t, EventDaemonRunning, received.Type)
		assert.Equal(t, "worker", received.Daemon)
		assert.NotEmpty(t, received.ID)
		assert.False(t, received.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBus_FilterByEventType(t *testing.T) {
	bus := NewEventBus(slog.Default())
	defer bus.Close()

	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx, []string{EventDaemonStopped}, "")
	defer cleanup()

	bus.Publish(newEvent(EventDaemonRunning, runningState("worker"), nil))
	bus.Publish(newEvent(EventDaemonStopped, DaemonState{Name: "worker", Status: DaemonStatusStopped}, nil))

	select {
	case received := <-events:
		assert.Equal(t, EventDaemonStopped, received.Type)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The filtered-out event never arrives.
	select {
	case received := <-events:
		t.Fatalf("unexpected event: %s", received.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_FilterByDaemon(t *testing.T) {
	bus := NewEventBus(slog.Default())
	defer bus.Close()

	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx, nil, "beta")
	defer cleanup()

	bus.Publish(newEvent(EventDaemonRunning, runningState("alpha"), nil))
	bus.Publish(newEvent(EventDaemonRunning, runningState("beta"), nil))

	select {
	case received := <-events:
		assert.Equal(t, "beta", received.Daemon)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewEventBus(slog.Default(), WithEventBufferSize(1))
	defer bus.Close()

	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx, nil, "")
	defer cleanup()

	// Nobody is draining the channel; the second publish must not block.
	done := make(chan struct{})
	go func() {
		bus.Publish(newEvent(EventDaemonRunning, runningState("worker"), nil))
		bus.Publish(newEvent(EventDaemonStopped, DaemonState{Name: "worker", Status: DaemonStatusStopped}, nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// Only the first event was retained.
	received := <-events
	assert.Equal(t, EventDaemonRunning, received.Type)
}

func TestEventBus_CleanupUnsubscribes(t *testing.T) {
	bus := NewEventBus(slog.Default())
	defer bus.Close()

	events, cleanup := bus.Subscribe(context.Background(), nil, "")
	cleanup()

	// The channel closes once the subscription is released.
	_, ok := <-events
	assert.False(t, ok)
}

func TestEventBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := NewEventBus(slog.Default())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, cleanup := bus.Subscribe(ctx, nil, "")
	defer cleanup()

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(slog.Default())

	events, cleanup := bus.Subscribe(context.Background(), nil, "")
	defer cleanup()

	bus.Close()

	_, ok := <-events
	assert.False(t, ok)

	// Publishing and subscribing after close are no-ops.
	bus.Publish(newEvent(EventDaemonRunning, runningState("worker"), nil))

	closedCh, closedCleanup := bus.Subscribe(context.Background(), nil, "")
	defer closedCleanup()
	_, ok = <-closedCh
	assert.False(t, ok)
}
