package supervisor

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests rely on POSIX shell and signals")
	}
}

// processAlive reports whether pid still refers to a live, unreaped
// process.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// collectSink gathers sink deliveries for assertions.
type collectSink struct {
	mu    sync.Mutex
	lines []LogLine
}

func (c *collectSink) append(l LogLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *collectSink) snapshot() []LogLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogLine(nil), c.lines...)
}

func TestProcessController_SpawnAndExit(t *testing.T) {
	skipOnWindows(t)

	sink := &collectSink{}
	spec := DaemonSpec{
		Name:          "echo",
		Command:       []string{"sh", "-c", "echo hello; echo oops 1>&2"},
		RestartPolicy: RestartPolicyNever,
	}
	ctrl := NewProcessController(spec, sink.append, nil)

	pid, err := ctrl.Spawn(context.Background())
	require.NoError(t, err)
	assert.Positive(t, pid)
	assert.Equal(t, pid, ctrl.PID())

	select {
	case outcome := <-ctrl.Exits():
		assert.Equal(t, 0, outcome.ExitCode)
		assert.Empty(t, outcome.Signal)
		assert.False(t, outcome.WasRequested)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for exit outcome")
	}

	assert.True(t, ctrl.Exited())

	lines := sink.snapshot()
	require.Len(t, lines, 2)

	texts := map[string]LogStream{}
	for _, l := range lines {
		texts[l.Text] = l.Stream
	}
	assert.Equal(t, LogStreamStdout, texts["hello"])
	assert.Equal(t, LogStreamStderr, texts["oops"])
}

func TestProcessController_NonZeroExit(t *testing.T) {
	skipOnWindows(t)

	spec := DaemonSpec{
		Name:          "failing",
		Command:       []string{"sh", "-c", "exit 3"},
		RestartPolicy: RestartPolicyNever,
	}
	ctrl := NewProcessController(spec, nil, nil)

	_, err := ctrl.Spawn(context.Background())
	require.NoError(t, err)

	select {
	case outcome := <-ctrl.Exits():
		assert.Equal(t, 3, outcome.ExitCode)
		assert.False(t, outcome.WasRequested)
		assert.False(t, outcome.Clean())
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for exit outcome")
	}
}

func TestProcessController_SpawnError(t *testing.T) {
	spec := DaemonSpec{
		Name:          "ghost",
		Command:       []string{"definitely-not-an-executable-on-this-host"},
		RestartPolicy: RestartPolicyNever,
	}
	ctrl := NewProcessController(spec, nil, nil)

	_, err := ctrl.Spawn(context.Background())
	require.Error(t, err)

	var supErr *Error
	require.True(t, errors.As(err, &supErr))
	assert.Equal(t, ErrCodeSpawnFailed, supErr.Code)
	assert.Equal(t, "ghost", supErr.DaemonName)
}

func TestProcessController_SpawnTwice(t *testing.T) {
	skipOnWindows(t)

	ctrl := NewProcessController(testSpec("once"), nil, nil)

	_, err := ctrl.Spawn(context.Background())
	require.NoError(t, err)
	defer func() {
		_ = ctrl.SignalStop(context.Background(), time.Second)
	}()

	_, err = ctrl.Spawn(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errProcessAlreadySpawned)
}

func TestProcessController_SignalStop(t *testing.T) {
	skipOnWindows(t)

	ctrl := NewProcessController(testSpec("sleeper"), nil, nil)

	_, err := ctrl.Spawn(context.Background())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, ctrl.SignalStop(context.Background(), 5*time.Second))

	// sleep dies on SIGTERM, well inside the grace period.
	assert.Less(t, time.Since(start), 3*time.Second)

	select {
	case outcome := <-ctrl.Exits():
		assert.True(t, outcome.WasRequested)
		assert.Equal(t, "SIGTERM", outcome.Signal)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exit outcome")
	}
}

func TestProcessController_SignalStopEscalatesToKill(t *testing.T) {
	skipOnWindows(t)

	// The child traps SIGTERM and refuses to die, forcing the kill path.
	spec := DaemonSpec{
		Name:          "stubborn",
		Command:       []string{"sh", "-c", "trap '' TERM; while true; do sleep 0.1; done"},
		RestartPolicy: RestartPolicyNever,
	}
	ctrl := NewProcessController(spec, nil, nil)

	_, err := ctrl.Spawn(context.Background())
	require.NoError(t, err)

	require.NoError(t, ctrl.SignalStop(context.Background(), 200*time.Millisecond))

	select {
	case outcome := <-ctrl.Exits():
		assert.True(t, outcome.WasRequested)
		assert.Equal(t, "SIGKILL", outcome.Signal)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exit outcome")
	}
}

func TestProcessController_SignalStopExpiredContextStillKills(t *testing.T) {
	skipOnWindows(t)

	// A TERM-trapping child plus a context far shorter than the grace
	// period: the expired context must cut the grace short and escalate,
	// never return with the process still alive.
	spec := DaemonSpec{
		Name:          "stubborn",
		Command:       []string{"sh", "-c", "trap '' TERM; while true; do sleep 0.1; done"},
		RestartPolicy: RestartPolicyNever,
	}
	ctrl := NewProcessController(spec, nil, nil)

	pid, err := ctrl.Spawn(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = ctrl.SignalStop(ctx, 10*time.Second)

	var supErr *Error
	require.True(t, errors.As(err, &supErr))
	assert.Equal(t, ErrCodeTimeout, supErr.Code)

	// SignalStop returned, so the exit must already be confirmed and the
	// process gone.
	assert.True(t, ctrl.Exited())
	assert.False(t, processAlive(pid))

	select {
	case outcome := <-ctrl.Exits():
		assert.True(t, outcome.WasRequested)
		assert.Equal(t, "SIGKILL", outcome.Signal)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exit outcome")
	}
}

func TestProcessController_OversizedLineDoesNotWedgeExit(t *testing.T) {
	skipOnWindows(t)

	// One line far past the capture limit, then a clean exit. The exit
	// outcome must still be delivered and the overflow marked in the
	// captured output.
	sink := &collectSink{}
	spec := DaemonSpec{
		Name:          "chatty",
		Command:       []string{"sh", "-c", "head -c 600000 /dev/zero | tr '\\0' 'x'; echo; exit 0"},
		RestartPolicy: RestartPolicyNever,
	}
	ctrl := NewProcessController(spec, sink.append, nil)

	_, err := ctrl.Spawn(context.Background())
	require.NoError(t, err)

	select {
	case outcome := <-ctrl.Exits():
		assert.Equal(t, 0, outcome.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for exit outcome")
	}

	var dropped bool
	for _, l := range sink.snapshot() {
		if strings.HasPrefix(l.Text, "[output dropped:") {
			dropped = true
		}
	}
	assert.True(t, dropped, "expected an output-dropped marker line")
}

func TestProcessController_SignalStopAfterExit(t *testing.T) {
	skipOnWindows(t)

	spec := DaemonSpec{
		Name:          "short",
		Command:       []string{"true"},
		RestartPolicy: RestartPolicyNever,
	}
	ctrl := NewProcessController(spec, nil, nil)

	_, err := ctrl.Spawn(context.Background())
	require.NoError(t, err)

	require.Eventually(t, ctrl.Exited, 5*time.Second, 10*time.Millisecond)

	// Stop of an already-exited process returns immediately without error.
	start := time.Now()
	require.NoError(t, ctrl.SignalStop(context.Background(), 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}
