package config

import (
	"time"

	"github.com/flywheelhq/flywheel-gateway/internal/supervisor"
)

// Config is the gateway configuration relevant to the supervisor
// subsystem.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

// SupervisorConfig holds supervisor-wide settings plus the static daemon
// table.
type SupervisorConfig struct {
	// GracePeriodSeconds is how long a stopping daemon gets before it is
	// forcefully killed.
	GracePeriodSeconds int `mapstructure:"grace_period_seconds" yaml:"grace_period_seconds" validate:"min=0"`

	// LogBufferLines is the per-daemon output retention.
	LogBufferLines int `mapstructure:"log_buffer_lines" yaml:"log_buffer_lines" validate:"min=0"`

	// Daemons is the fixed set of managed helper processes.
	Daemons []DaemonConfig `mapstructure:"daemons" yaml:"daemons" validate:"dive"`
}

// DaemonConfig describes one managed daemon in the configuration file.
type DaemonConfig struct {
	Name           string   `mapstructure:"name" yaml:"name" validate:"required"`
	Command        []string `mapstructure:"command" yaml:"command" validate:"required,min=1,dive,required"`
	Port           int      `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
	RestartPolicy  string   `mapstructure:"restart_policy" yaml:"restart_policy" validate:"omitempty,oneof=always never on-failure"`
	MaxRestarts    int      `mapstructure:"max_restarts" yaml:"max_restarts" validate:"min=0"`
	RestartDelayMs int      `mapstructure:"restart_delay_ms" yaml:"restart_delay_ms" validate:"min=0"`
}

// ToSpec converts the config entry into an immutable daemon spec.
// Unset restart policies default to on-failure.
func (d DaemonConfig) ToSpec() supervisor.DaemonSpec {
	policy := supervisor.RestartPolicy(d.RestartPolicy)
	if d.RestartPolicy == "" {
		policy = supervisor.RestartPolicyOnFailure
	}

	return supervisor.DaemonSpec{
		Name:          d.Name,
		Command:       append([]string(nil), d.Command...),
		Port:          d.Port,
		RestartPolicy: policy,
		MaxRestarts:   d.MaxRestarts,
		RestartDelay:  time.Duration(d.RestartDelayMs) * time.Millisecond,
	}
}

// DaemonSpecs converts every configured daemon into a spec, preserving
// file order.
func (c *Config) DaemonSpecs() []supervisor.DaemonSpec {
	specs := make([]supervisor.DaemonSpec, 0, len(c.Supervisor.Daemons))
	for _, d := range c.Supervisor.Daemons {
		specs = append(specs, d.ToSpec())
	}
	return specs
}

// GracePeriod returns the configured grace period as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Supervisor.GracePeriodSeconds) * time.Second
}
