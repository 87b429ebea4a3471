package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/flywheelhq/flywheel-gateway/pkg/version"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "flywheel",
	Short: "Flywheel - AI gateway with managed helper daemons",
	Long: `Flywheel is an AI gateway that depends on a set of long-running
helper daemons. The built-in supervisor starts them, captures their
output, and restarts them according to per-daemon policies.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "flywheel.yaml", "path to the gateway configuration file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(supervisorCmd)
}

// Execute runs the root command with signal handling. SIGINT and SIGTERM
// cancel the command context, which long-running commands use to shut
// down cleanly.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}
