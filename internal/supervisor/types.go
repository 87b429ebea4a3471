package supervisor

import (
	"encoding/json"
	"fmt"
	"time"
)

// RestartPolicy governs whether an unexpected process exit triggers an
// automatic restart.
type RestartPolicy string

const (
	// RestartPolicyAlways restarts the daemon after any unrequested exit,
	// up to the spec's MaxRestarts cap.
	RestartPolicyAlways RestartPolicy = "always"

	// RestartPolicyNever leaves the daemon stopped after any exit.
	RestartPolicyNever RestartPolicy = "never"

	// RestartPolicyOnFailure restarts only after a non-clean exit
	// (non-zero exit code or termination by a signal), up to MaxRestarts.
	RestartPolicyOnFailure RestartPolicy = "on-failure"
)

// String returns the string representation of the RestartPolicy.
func (p RestartPolicy) String() string {
	return string(p)
}

// IsValid checks if the RestartPolicy is a valid enum value.
func (p RestartPolicy) IsValid() bool {
	switch p {
	case RestartPolicyAlways, RestartPolicyNever, RestartPolicyOnFailure:
		return true
	default:
		return false
	}
}

// MarshalJSON implements the json.Marshaler interface.
func (p RestartPolicy) MarshalJSON() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("invalid restart policy: %s", p)
	}
	return json.Marshal(string(p))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *RestartPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseRestartPolicy(s)
	if err != nil {
		return err
	}

	*p = parsed
	return nil
}

// ParseRestartPolicy parses a string into a RestartPolicy, returning an
// error for unknown values.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	policy := RestartPolicy(s)
	if !policy.IsValid() {
		return "", fmt.Errorf("unknown restart policy: %q", s)
	}
	return policy, nil
}

// AllRestartPolicies returns a slice containing all valid RestartPolicy values.
func AllRestartPolicies() []RestartPolicy {
	return []RestartPolicy{
		RestartPolicyAlways,
		RestartPolicyNever,
		RestartPolicyOnFailure,
	}
}

// DaemonStatus represents the lifecycle state of a managed daemon.
type DaemonStatus string

const (
	DaemonStatusStopped  DaemonStatus = "stopped"
	DaemonStatusStarting DaemonStatus = "starting"
	DaemonStatusRunning  DaemonStatus = "running"
	DaemonStatusStopping DaemonStatus = "stopping"
)

// String returns the string representation of the DaemonStatus.
func (s DaemonStatus) String() string {
	return string(s)
}

// IsValid checks if the DaemonStatus is a valid enum value.
func (s DaemonStatus) IsValid() bool {
	switch s {
	case DaemonStatusStopped, DaemonStatusStarting, DaemonStatusRunning, DaemonStatusStopping:
		return true
	default:
		return false
	}
}

// IsActive returns true if the daemon has a live process attached
// (starting or running).
func (s DaemonStatus) IsActive() bool {
	return s == DaemonStatusStarting || s == DaemonStatusRunning
}

// MarshalJSON implements the json.Marshaler interface.
func (s DaemonStatus) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid daemon status: %s", s)
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *DaemonStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status := DaemonStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("unknown daemon status: %q", str)
	}

	*s = status
	return nil
}

// LogStream identifies which output stream a log line was captured from.
type LogStream string

const (
	LogStreamStdout LogStream = "stdout"
	LogStreamStderr LogStream = "stderr"
)

// String returns the string representation of the LogStream.
func (s LogStream) String() string {
	return string(s)
}

// IsValid checks if the LogStream is a valid enum value.
func (s LogStream) IsValid() bool {
	return s == LogStreamStdout || s == LogStreamStderr
}

// DaemonSpec is the immutable configuration for one managed daemon.
// Specs are supplied once at supervisor initialization and never change
// afterwards.
type DaemonSpec struct {
	// Name is the unique key identifying this daemon.
	Name string `json:"name"`

	// Command is the executable followed by its arguments.
	Command []string `json:"command"`

	// Port is informational only; the supervisor does not bind or probe it.
	Port int `json:"port,omitempty"`

	// RestartPolicy governs automatic restarts after unrequested exits.
	RestartPolicy RestartPolicy `json:"restart_policy"`

	// MaxRestarts caps the number of automatic restarts before the daemon
	// settles into stopped until a manual start or restart.
	MaxRestarts int `json:"max_restarts"`

	// RestartDelay is the fixed delay before an automatic restart attempt.
	RestartDelay time.Duration `json:"restart_delay"`
}

// Validate checks that the spec is well-formed.
func (s DaemonSpec) Validate() error {
	if s.Name == "" {
		return NewValidationError("daemon name is required", nil)
	}
	if len(s.Command) == 0 {
		return NewValidationError(fmt.Sprintf("daemon %q has an empty command", s.Name), nil)
	}
	if !s.RestartPolicy.IsValid() {
		return NewValidationError(fmt.Sprintf("daemon %q has invalid restart policy %q", s.Name, s.RestartPolicy), nil)
	}
	if s.MaxRestarts < 0 {
		return NewValidationError(fmt.Sprintf("daemon %q has negative max_restarts", s.Name), nil)
	}
	if s.RestartDelay < 0 {
		return NewValidationError(fmt.Sprintf("daemon %q has negative restart_delay", s.Name), nil)
	}
	if s.Port < 0 || s.Port > 65535 {
		return NewValidationError(fmt.Sprintf("daemon %q has invalid port %d", s.Name, s.Port), nil)
	}
	return nil
}

// DaemonState is the mutable runtime state of one managed daemon.
// Exactly one DaemonState exists per registered spec; it is owned and
// mutated exclusively by the Service.
type DaemonState struct {
	// Name is the spec name this state belongs to.
	Name string `json:"name"`

	// Status is the current lifecycle state.
	Status DaemonStatus `json:"status"`

	// PID is the OS process ID. It is set in the same transition that
	// makes the daemon running and cleared when it settles to stopped.
	// During the brief starting window the process does not exist yet,
	// so PID is still nil.
	PID *int `json:"pid,omitempty"`

	// Port is copied from the spec for observability.
	Port int `json:"port,omitempty"`

	// StartedAt is when the current (or most recent) process was spawned.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// StoppedAt is when the most recent process exited.
	StoppedAt *time.Time `json:"stopped_at,omitempty"`

	// RestartCount counts automatic restarts since the last manual
	// start or restart.
	RestartCount int `json:"restart_count"`
}

// Clone returns a deep copy of the state so callers can hold a snapshot
// without racing the supervisor's own mutations.
func (d DaemonState) Clone() DaemonState {
	out := d
	if d.PID != nil {
		pid := *d.PID
		out.PID = &pid
	}
	if d.StartedAt != nil {
		t := *d.StartedAt
		out.StartedAt = &t
	}
	if d.StoppedAt != nil {
		t := *d.StoppedAt
		out.StoppedAt = &t
	}
	return out
}

// LogLine is a single captured line of daemon output.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    LogStream `json:"stream"`
	Text      string    `json:"text"`
}

// ExitOutcome describes how a spawned process instance ended.
type ExitOutcome struct {
	// ExitCode is the process exit code, or -1 if the process was
	// terminated by a signal.
	ExitCode int `json:"exit_code"`

	// Signal is the name of the terminating signal, if any.
	Signal string `json:"signal,omitempty"`

	// WasRequested is true when the supervisor itself initiated the
	// termination (graceful stop or escalated kill). Requested exits
	// never trigger automatic restarts.
	WasRequested bool `json:"was_requested"`
}

// Clean reports whether the process exited normally with a zero exit code.
func (o ExitOutcome) Clean() bool {
	return o.ExitCode == 0 && o.Signal == ""
}
