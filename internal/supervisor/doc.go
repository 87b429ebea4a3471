// Package supervisor manages the gateway's long-running helper daemons.
//
// The supervisor owns a fixed set of daemon specifications supplied at
// construction time and, for each one, tracks a single piece of mutable
// runtime state. It starts and stops real OS processes, captures their
// recent stdout/stderr output in bounded ring buffers, and applies
// per-daemon restart policies (always, never, on-failure) with bounded
// retries and a fixed delay when a process exits unexpectedly.
//
// Architecture:
//
//   - Registry: immutable name-to-spec table, built once.
//   - LogBuffer: fixed-capacity ring of recent output lines per daemon.
//   - ProcessController: spawns and terminates exactly one OS process
//     per instance, streaming output and reporting the exit outcome
//     exactly once.
//   - Decide: the pure restart-policy function.
//   - Service: the orchestrator tying the above together, plus an
//     EventBus broadcasting lifecycle transitions to subscribers.
//
// Concurrency: operations addressed at the same daemon are linearized
// through a per-daemon lock, including the exit-triggered restart path,
// so an explicit stop can never interleave with a pending automatic
// restart. Operations on different daemons proceed concurrently. Status
// reads take a separate state lock and never block behind a slow stop.
//
// Failures inside the automatic-restart loop are logged and retried per
// policy; they never propagate out of the supervisor's goroutines or
// crash the gateway process. Errors from explicit operations are
// returned to callers as *Error values carrying a machine-readable code
// and the daemon name.
package supervisor
