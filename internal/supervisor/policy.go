package supervisor

import "time"

// RestartDecision is the outcome of consulting the restart policy after a
// process exit.
type RestartDecision struct {
	// ShouldRestart is true when the supervisor should schedule an
	// automatic respawn.
	ShouldRestart bool

	// Delay is how long to wait before the respawn. Zero means
	// immediately. Only meaningful when ShouldRestart is true.
	Delay time.Duration
}

// Decide applies a daemon's restart policy to a process exit. It is a pure
// function of the spec, the automatic-restart count so far, and the exit
// outcome.
//
// A supervisor-requested exit never restarts, regardless of policy: the
// human (or shutdown path) asked for the process to stop, and the policy
// must not fight that. Otherwise the policy applies under the MaxRestarts
// cap, with on-failure additionally requiring a non-clean exit.
func Decide(spec DaemonSpec, restartCount int, outcome ExitOutcome) RestartDecision {
	if outcome.WasRequested {
		return RestartDecision{}
	}

	if restartCount >= spec.MaxRestarts {
		return RestartDecision{}
	}

	switch spec.RestartPolicy {
	case RestartPolicyAlways:
		return RestartDecision{ShouldRestart: true, Delay: spec.RestartDelay}
	case RestartPolicyOnFailure:
		if outcome.Clean() {
			return RestartDecision{}
		}
		return RestartDecision{ShouldRestart: true, Delay: spec.RestartDelay}
	default:
		// RestartPolicyNever and anything unrecognized.
		return RestartDecision{}
	}
}
