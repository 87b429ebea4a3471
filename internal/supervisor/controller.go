package supervisor

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// maxOutputLine bounds the size of a single captured output line. A
// longer line aborts the scan; the rest of the stream is drained and
// discarded so the process never blocks on a full pipe.
const maxOutputLine = 256 * 1024

// OutputSink receives captured output lines as the process emits them.
// Implementations must be safe for concurrent use: stdout and stderr are
// read by separate goroutines.
type OutputSink func(LogLine)

// ProcessController owns the OS-level lifecycle of a single process
// instance spawned for one DaemonSpec invocation. A controller is used for
// exactly one spawn; the supervisor creates a fresh one per start.
//
// The controller reports the instance's end exactly once on the channel
// returned by Exits, whether the process crashed, exited cleanly, or was
// terminated by SignalStop.
type ProcessController struct {
	spec   DaemonSpec
	sink   OutputSink
	logger *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
	pid int

	spawned       atomic.Bool
	stopRequested atomic.Bool

	exitCh chan ExitOutcome
	done   chan struct{}
}

// NewProcessController creates a controller for one invocation of spec.
// Captured output lines are delivered to sink; a nil sink discards output.
func NewProcessController(spec DaemonSpec, sink OutputSink, logger *slog.Logger) *ProcessController {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = func(LogLine) {}
	}
	return &ProcessController{
		spec:   spec,
		sink:   sink,
		logger: logger.With("daemon", spec.Name),
		exitCh: make(chan ExitOutcome, 1),
		done:   make(chan struct{}),
	}
}

// Spawn launches the process described by the spec and returns its PID.
// It begins streaming stdout and stderr lines to the sink and arms the
// exit watcher. Spawn may be called at most once per controller.
func (c *ProcessController) Spawn(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewSpawnError(c.spec.Name, err)
	}
	if c.spawned.Swap(true) {
		return 0, NewSpawnError(c.spec.Name, errProcessAlreadySpawned)
	}

	// Deliberately not CommandContext: the controller owns termination via
	// SignalStop and must not tie the child's lifetime to a request context.
	cmd := exec.Command(c.spec.Command[0], c.spec.Command[1:]...)
	cmd.Env = os.Environ()
	setProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, NewSpawnError(c.spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, NewSpawnError(c.spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return 0, NewSpawnError(c.spec.Name, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go c.streamLines(&readers, stdout, LogStreamStdout)
	go c.streamLines(&readers, stderr, LogStreamStderr)

	go c.waitForExit(cmd, &readers)

	return cmd.Process.Pid, nil
}

// streamLines pushes output lines into the sink until the pipe closes.
func (c *ProcessController) streamLines(wg *sync.WaitGroup, r io.Reader, stream LogStream) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
	for scanner.Scan() {
		c.sink(LogLine{
			Timestamp: time.Now(),
			Stream:    stream,
			Text:      scanner.Text(),
		})
	}
	if err := scanner.Err(); err != nil {
		// An oversized line stops the scanner. Keep consuming the pipe so
		// the process can still write, and mark the gap in the captured
		// output.
		c.logger.Warn("output stream capture aborted, draining",
			"stream", stream.String(),
			"error", err)
		c.sink(LogLine{
			Timestamp: time.Now(),
			Stream:    stream,
			Text:      "[output dropped: " + err.Error() + "]",
		})
		_, _ = io.Copy(io.Discard, r)
	}
}

// waitForExit reaps the process, builds the exit outcome, and delivers it
// exactly once.
func (c *ProcessController) waitForExit(cmd *exec.Cmd, readers *sync.WaitGroup) {
	// Drain both pipes before Wait; Wait closes them.
	readers.Wait()
	err := cmd.Wait()

	outcome := ExitOutcome{
		ExitCode:     -1,
		WasRequested: c.stopRequested.Load(),
	}
	if state := cmd.ProcessState; state != nil {
		outcome.ExitCode = state.ExitCode()
		outcome.Signal = exitSignal(state)
	} else if err != nil {
		c.logger.Debug("process wait returned without state", "error", err)
	}

	c.exitCh <- outcome
	close(c.done)
}

// Exits returns the channel on which the process's exit outcome is
// delivered. The channel is buffered and receives exactly one value per
// spawned instance.
func (c *ProcessController) Exits() <-chan ExitOutcome {
	return c.exitCh
}

// PID returns the spawned process ID, or 0 if Spawn has not succeeded.
func (c *ProcessController) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// Exited reports whether the process instance has already ended.
func (c *ProcessController) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// SignalStop terminates the process: it sends a graceful termination
// signal, waits up to grace for the process to exit, then escalates to a
// forceful kill. It returns once the process has actually exited, or
// immediately if it already has. A context that expires mid-grace cuts
// the grace period short rather than abandoning the termination chain:
// the kill is still sent and the exit still awaited, so a returned
// controller never leaves its process running.
//
// Any exit that follows SignalStop is recorded with WasRequested=true,
// including one forced by the kill escalation.
func (c *ProcessController) SignalStop(ctx context.Context, grace time.Duration) error {
	c.stopRequested.Store(true)

	c.mu.Lock()
	pid := c.pid
	c.mu.Unlock()

	if pid == 0 {
		// Never spawned; nothing to stop.
		return nil
	}

	select {
	case <-c.done:
		return nil
	default:
	}

	if err := terminateProcess(pid); err != nil {
		c.logger.Debug("terminate signal failed, process may have exited", "error", err)
	}

	var graceErr error
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("stop context expired during grace period, killing process",
			"pid", pid)
		graceErr = NewTimeoutError(c.spec.Name, "stop")
	case <-time.After(grace):
		c.logger.Warn("grace period elapsed, killing process",
			"pid", pid,
			"grace", grace.String())
	}

	if err := killProcess(pid); err != nil {
		c.logger.Debug("kill signal failed, process may have exited", "error", err)
	}

	// The kill signal cannot be trapped; the exit watcher will reap the
	// process shortly.
	<-c.done
	return graceErr
}
