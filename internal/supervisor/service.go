package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultGracePeriod is the default time a daemon gets to exit after a
	// graceful termination signal before it is forcefully killed.
	DefaultGracePeriod = 10 * time.Second
)

// Span names and attribute keys for supervisor tracing.
const (
	spanDaemonStart   = "supervisor.daemon.start"
	spanDaemonStop    = "supervisor.daemon.stop"
	spanDaemonRestart = "supervisor.daemon.restart"

	attrDaemonName   = "flywheel.daemon.name"
	attrDaemonStatus = "flywheel.daemon.status"
	attrDaemonPID    = "flywheel.daemon.pid"
)

// Service supervises a fixed set of long-running helper daemons: it
// starts them, captures their output, watches for exits, and applies each
// daemon's restart policy. A Service is constructed once with the full
// set of specs and handed to whatever owns the gateway's API surface; it
// never crashes the host process on daemon failures.
//
// Operations addressed at the same daemon are linearized; operations on
// different daemons proceed concurrently.
type Service struct {
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	events   *EventBus
	grace    time.Duration
	logCap   int

	daemons map[string]*daemonEntry

	mu      sync.Mutex // guards started, closed
	started bool
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// daemonEntry holds everything the service tracks for one daemon.
type daemonEntry struct {
	spec DaemonSpec
	logs *LogBuffer

	// opMu linearizes start/stop/restart and crash handling for this
	// daemon. Exit-triggered restart decisions go through the same lock
	// as explicit operations so the two can never interleave.
	opMu sync.Mutex

	// stateMu guards state so status snapshots never block behind a slow
	// stop holding opMu.
	stateMu sync.Mutex
	state   DaemonState

	// The fields below are protected by opMu.
	ctrl         *ProcessController
	gen          uint64 // spawn generation, detects stale exit events
	restartTimer *time.Timer
	restartToken uint64 // invalidates cancelled restart timers
}

func (e *daemonEntry) snapshot() DaemonState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state.Clone()
}

func (e *daemonEntry) setState(mutate func(*DaemonState)) DaemonState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	mutate(&e.state)
	return e.state.Clone()
}

// ServiceOption is a functional option for configuring the Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger for supervisor operations.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGracePeriod sets how long a stopping daemon gets between the
// graceful termination signal and the forceful kill.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogBufferCapacity sets the per-daemon output line retention.
func WithLogBufferCapacity(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.logCap = n
		}
	}
}

// NewService builds the registry and per-daemon state from specs, all
// daemons initially stopped. It fails with a DUPLICATE_DAEMON error if
// two specs share a name and a VALIDATION_FAILED error for malformed
// specs.
func NewService(specs []DaemonSpec, opts ...ServiceOption) (*Service, error) {
	registry, err := NewRegistry(specs)
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Service{
		registry: registry,
		logger:   slog.Default(),
		grace:    DefaultGracePeriod,
		logCap:   DefaultLogBufferCapacity,
		daemons:  make(map[string]*daemonEntry, registry.Len()),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("component", "supervisor")
	s.tracer = otel.GetTracerProvider().Tracer("flywheel.supervisor")
	s.events = NewEventBus(s.logger)

	for _, name := range registry.Names() {
		spec, _ := registry.Get(name)
		s.daemons[name] = &daemonEntry{
			spec: spec,
			logs: NewLogBuffer(s.logCap),
			state: DaemonState{
				Name:   name,
				Status: DaemonStatusStopped,
				Port:   spec.Port,
			},
		}
	}

	return s, nil
}

// Events returns the bus carrying daemon lifecycle events.
func (s *Service) Events() *EventBus {
	return s.events
}

// DaemonNames returns all managed daemon names in registration order.
func (s *Service) DaemonNames() []string {
	return s.registry.Names()
}

// Status returns a snapshot of every daemon's current state, in
// registration order.
func (s *Service) Status() []DaemonState {
	names := s.registry.Names()
	out := make([]DaemonState, 0, len(names))
	for _, name := range names {
		out = append(out, s.daemons[name].snapshot())
	}
	return out
}

// DaemonStatus returns a snapshot of one daemon's state.
func (s *Service) DaemonStatus(name string) (DaemonState, error) {
	e, ok := s.daemons[name]
	if !ok {
		return DaemonState{}, NewDaemonNotFoundError(name)
	}
	return e.snapshot(), nil
}

// Logs returns at most limit of the daemon's most recent output lines,
// oldest first. A limit <= 0 returns everything buffered.
func (s *Service) Logs(name string, limit int) ([]LogLine, error) {
	e, ok := s.daemons[name]
	if !ok {
		return nil, NewDaemonNotFoundError(name)
	}
	return e.logs.Tail(limit), nil
}

// IsStarted reports whether a bulk start has been issued (and not yet
// undone by a bulk stop). It tracks supervisor-level intent, not
// per-daemon status.
func (s *Service) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// StartDaemon starts one daemon. If it is already starting or running the
// existing state is returned unchanged and no second process is spawned.
// A manual start of a stopped daemon resets its automatic-restart budget
// and clears its log buffer.
func (s *Service) StartDaemon(ctx context.Context, name string) (DaemonState, error) {
	ctx, span := s.tracer.Start(ctx, spanDaemonStart,
		trace.WithAttributes(attribute.String(attrDaemonName, name)))
	defer span.End()

	e, ok := s.daemons[name]
	if !ok {
		err := NewDaemonNotFoundError(name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}
	if s.isClosed() {
		err := NewClosedError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	s.cancelPendingRestart(e)

	if st := e.snapshot(); st.Status.IsActive() {
		span.SetStatus(codes.Ok, "daemon already active")
		span.SetAttributes(attribute.String(attrDaemonStatus, st.Status.String()))
		return st, nil
	}

	st, err := s.spawnLocked(ctx, e, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}

	span.SetStatus(codes.Ok, "daemon started")
	span.SetAttributes(attribute.String(attrDaemonStatus, st.Status.String()))
	if st.PID != nil {
		span.SetAttributes(attribute.Int(attrDaemonPID, *st.PID))
	}
	return st, nil
}

// StopDaemon stops one daemon, waiting for its process to actually exit
// (escalating to a kill after the grace period). Stopping an already
// stopped daemon is a no-op. A stop always counts as requested, so the
// restart policy never respawns it.
func (s *Service) StopDaemon(ctx context.Context, name string) (DaemonState, error) {
	ctx, span := s.tracer.Start(ctx, spanDaemonStop,
		trace.WithAttributes(attribute.String(attrDaemonName, name)))
	defer span.End()

	e, ok := s.daemons[name]
	if !ok {
		err := NewDaemonNotFoundError(name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}
	if s.isClosed() {
		err := NewClosedError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st, err := s.stopLocked(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return st, err
	}

	span.SetStatus(codes.Ok, "daemon stopped")
	span.SetAttributes(attribute.String(attrDaemonStatus, st.Status.String()))
	return st, nil
}

// RestartDaemon stops and then starts one daemon as a single linearized
// operation. A manual restart always resets the automatic-restart budget,
// regardless of how many automatic restarts had been consumed.
func (s *Service) RestartDaemon(ctx context.Context, name string) (DaemonState, error) {
	ctx, span := s.tracer.Start(ctx, spanDaemonRestart,
		trace.WithAttributes(attribute.String(attrDaemonName, name)))
	defer span.End()

	e, ok := s.daemons[name]
	if !ok {
		err := NewDaemonNotFoundError(name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}
	if s.isClosed() {
		err := NewClosedError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if _, err := s.stopLocked(ctx, e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}

	st, err := s.spawnLocked(ctx, e, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return DaemonState{}, err
	}

	span.SetStatus(codes.Ok, "daemon restarted")
	return st, nil
}

// StartAll starts every registered daemon concurrently. One daemon's
// failure does not prevent the others from being attempted; failures are
// aggregated into the returned error. StartAll also marks the supervisor
// as started for IsStarted.
func (s *Service) StartAll(ctx context.Context) error {
	if s.isClosed() {
		return NewClosedError()
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	return s.forEachDaemon(func(name string) error {
		_, err := s.StartDaemon(ctx, name)
		return err
	})
}

// StopAll stops every registered daemon concurrently, aggregating
// failures. It also clears the IsStarted flag.
func (s *Service) StopAll(ctx context.Context) error {
	if s.isClosed() {
		return NewClosedError()
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	return s.forEachDaemon(func(name string) error {
		_, err := s.StopDaemon(ctx, name)
		return err
	})
}

// forEachDaemon runs op for every registered daemon concurrently and
// joins the errors. A slow daemon cannot delay the others, but the call
// returns only after every daemon has been attempted.
func (s *Service) forEachDaemon(op func(name string) error) error {
	names := s.registry.Names()
	errs := make([]error, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = op(name)
		}(i, name)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close shuts the supervisor down: it rejects further operations, stops
// every daemon, cancels pending automatic restarts, and waits for the
// exit watchers to drain. Intended for gateway shutdown and test
// teardown.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.started = false
	s.mu.Unlock()

	err := s.forEachDaemon(func(name string) error {
		e := s.daemons[name]
		e.opMu.Lock()
		defer e.opMu.Unlock()
		_, stopErr := s.stopLocked(ctx, e)
		return stopErr
	})

	s.cancel()
	s.wg.Wait()
	s.events.Close()

	return err
}

// spawnLocked starts a fresh process instance for e. Callers must hold
// e.opMu. A manual spawn resets the restart budget and clears retained
// logs; an automatic respawn keeps both accumulating.
//
// On spawn failure the daemon settles back to stopped and the failure is
// fed to the restart policy as a failing exit, so a transient executable
// problem still gets the policy's bounded retries.
func (s *Service) spawnLocked(ctx context.Context, e *daemonEntry, manual bool) (DaemonState, error) {
	// Re-check under the operation lock: a close may have raced in while
	// this operation was waiting its turn.
	if s.isClosed() {
		return DaemonState{}, NewClosedError()
	}

	if manual {
		e.logs.Clear()
	}

	st := e.setState(func(d *DaemonState) {
		d.Status = DaemonStatusStarting
		if manual {
			d.RestartCount = 0
		}
	})
	s.events.Publish(newEvent(EventDaemonStarting, st, nil))

	ctrl := NewProcessController(e.spec, e.logs.Append, s.logger)

	pid, err := ctrl.Spawn(ctx)
	if err != nil {
		st = e.setState(func(d *DaemonState) {
			d.Status = DaemonStatusStopped
			d.PID = nil
		})
		s.events.Publish(newEvent(EventDaemonStopped, st, nil))
		s.logger.Error("failed to spawn daemon",
			"daemon", e.spec.Name,
			"error", err)

		// A refused spawn counts as a failing exit for the policy.
		s.scheduleRestartLocked(e, ExitOutcome{ExitCode: -1})
		return DaemonState{}, err
	}

	e.gen++
	gen := e.gen
	e.ctrl = ctrl

	now := time.Now()
	st = e.setState(func(d *DaemonState) {
		d.Status = DaemonStatusRunning
		d.PID = &pid
		d.StartedAt = &now
		d.StoppedAt = nil
	})
	s.events.Publish(newEvent(EventDaemonRunning, st, nil))
	s.logger.Info("daemon running",
		"daemon", e.spec.Name,
		"pid", pid,
		"manual", manual)

	s.wg.Add(1)
	go s.watchExit(e, ctrl, gen)

	return st, nil
}

// stopLocked terminates e's process if one is attached and settles the
// state to stopped. Callers must hold e.opMu. Idempotent: an already
// stopped daemon is returned unchanged.
func (s *Service) stopLocked(ctx context.Context, e *daemonEntry) (DaemonState, error) {
	s.cancelPendingRestart(e)

	st := e.snapshot()
	if st.Status == DaemonStatusStopped {
		return st, nil
	}

	st = e.setState(func(d *DaemonState) {
		d.Status = DaemonStatusStopping
	})
	s.events.Publish(newEvent(EventDaemonStopping, st, nil))

	var stopErr error
	if e.ctrl != nil {
		stopErr = e.ctrl.SignalStop(ctx, s.grace)
	}

	// SignalStop only returns after the process has exited (escalating to
	// a kill when the grace period elapses or the context expires), so
	// stopped is accurate here even on a TIMEOUT error: that error means
	// the grace was cut short, not that the process survived.
	e.gen++
	e.ctrl = nil

	now := time.Now()
	st = e.setState(func(d *DaemonState) {
		d.Status = DaemonStatusStopped
		d.PID = nil
		d.StoppedAt = &now
	})
	s.events.Publish(newEvent(EventDaemonStopped, st, nil))
	s.logger.Info("daemon stopped", "daemon", e.spec.Name)

	return st, stopErr
}

// watchExit waits for one spawned instance to end and routes unrequested
// exits through the restart policy. Requested exits are settled by the
// stop path that initiated them.
func (s *Service) watchExit(e *daemonEntry, ctrl *ProcessController, gen uint64) {
	defer s.wg.Done()

	outcome := <-ctrl.Exits()
	if outcome.WasRequested {
		return
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	// A concurrent stop or restart got there first; this exit belongs to a
	// superseded instance.
	if e.gen != gen {
		return
	}

	e.gen++
	e.ctrl = nil

	now := time.Now()
	st := e.setState(func(d *DaemonState) {
		d.Status = DaemonStatusStopped
		d.PID = nil
		d.StoppedAt = &now
	})
	s.events.Publish(newEvent(EventDaemonExited, st, &outcome))
	s.logger.Warn("daemon exited unexpectedly",
		"daemon", e.spec.Name,
		"exit_code", outcome.ExitCode,
		"signal", outcome.Signal,
		"restart_count", st.RestartCount)

	s.scheduleRestartLocked(e, outcome)
}

// scheduleRestartLocked consults the restart policy for an unrequested
// exit and, if it says restart, increments the restart count and arms the
// delayed respawn. Callers must hold e.opMu.
func (s *Service) scheduleRestartLocked(e *daemonEntry, outcome ExitOutcome) {
	st := e.snapshot()
	decision := Decide(e.spec, st.RestartCount, outcome)
	if !decision.ShouldRestart {
		s.logger.Info("daemon will not be restarted",
			"daemon", e.spec.Name,
			"policy", e.spec.RestartPolicy.String(),
			"restart_count", st.RestartCount)
		return
	}

	st = e.setState(func(d *DaemonState) {
		d.RestartCount++
	})
	s.events.Publish(newEvent(EventDaemonRestartScheduled, st, &outcome))
	s.logger.Info("scheduling automatic restart",
		"daemon", e.spec.Name,
		"delay", decision.Delay.String(),
		"restart_count", st.RestartCount,
		"max_restarts", e.spec.MaxRestarts)

	e.restartToken++
	token := e.restartToken
	e.restartTimer = time.AfterFunc(decision.Delay, func() {
		s.autoRestart(e, token)
	})
}

// cancelPendingRestart invalidates any armed automatic restart for e.
// Callers must hold e.opMu. Explicit operations always win over a pending
// automatic restart.
func (s *Service) cancelPendingRestart(e *daemonEntry) {
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
	e.restartToken++
}

// autoRestart is the delayed respawn fired by scheduleRestartLocked. It
// re-checks everything under the daemon's operation lock: the token (an
// explicit operation may have cancelled this restart), the supervisor's
// closed flag, and the daemon's status.
func (s *Service) autoRestart(e *daemonEntry, token uint64) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if s.isClosed() || e.restartToken != token {
		return
	}
	e.restartTimer = nil

	if st := e.snapshot(); st.Status != DaemonStatusStopped {
		return
	}

	if _, err := s.spawnLocked(s.baseCtx, e, false); err != nil {
		// spawnLocked already logged and fed the failure back into the
		// policy; nothing propagates out of the control loop.
		return
	}
}
