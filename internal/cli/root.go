// Package cli implements the control plane's command-line interface using
// Cobra: serve runs the daemon, migrate applies the SQLite schema without
// starting it, and healthcheck probes a running instance's readiness.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "controlplaned",
	Short: "controlplaned — code-deployment control plane",
	Long: `controlplaned orchestrates sandboxed deployments: it provisions,
builds, and runs uploaded code, autoscales it against weighted metric
thresholds, streams its logs and status over WebSocket, and tracks the
cost of keeping it running.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the TOML config file (optional)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
