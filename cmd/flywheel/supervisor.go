package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/flywheelhq/flywheel-gateway/internal/config"
	"github.com/flywheelhq/flywheel-gateway/internal/observability"
	"github.com/flywheelhq/flywheel-gateway/internal/supervisor"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long the supervisor gets to stop all daemons
// on exit before the command gives up waiting.
const shutdownTimeout = 30 * time.Second

var supervisorCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Manage the gateway's helper daemons",
}

var supervisorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start all configured daemons and supervise them",
	Long: `Start every daemon listed in the configuration file and supervise
them until interrupted. Daemons that exit unexpectedly are restarted
according to their restart policy. The command runs in the foreground
and stops all daemons on SIGINT/SIGTERM, making it suitable for Docker
containers and systemd services.`,
	RunE: runSupervisor,
}

func init() {
	supervisorCmd.AddCommand(supervisorRunCmd)
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	loader := config.NewConfigLoader(config.NewValidator())
	cfg, err := loader.Load(configFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	svc, err := supervisor.NewService(cfg.DaemonSpecs(),
		supervisor.WithLogger(logger),
		supervisor.WithGracePeriod(cfg.GracePeriod()),
		supervisor.WithLogBufferCapacity(cfg.Supervisor.LogBufferLines),
	)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if err := svc.StartAll(ctx); err != nil {
		// Partial failures are not fatal: the supervisor keeps managing
		// whatever did start, and policies retry the rest.
		logger.Error("some daemons failed to start", "error", err)
	}

	printStatusTable(cmd, svc.Status())

	// Block until interrupted.
	<-ctx.Done()
	logger.Info("shutting down supervisor")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return svc.Close(stopCtx)
}

// printStatusTable renders the daemon table the way 'docker ps' style
// tools do, one row per daemon.
func printStatusTable(cmd *cobra.Command, states []supervisor.DaemonState) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tPID\tPORT\tRESTARTS")
	for _, st := range states {
		pid := "-"
		if st.PID != nil {
			pid = fmt.Sprintf("%d", *st.PID)
		}
		port := "-"
		if st.Port > 0 {
			port = fmt.Sprintf("%d", st.Port)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", st.Name, st.Status, pid, port, st.RestartCount)
	}
	w.Flush()
}
