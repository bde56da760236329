package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/coderunner/controlplane/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Host to listen on")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane daemon",
	Long:  `Start the Orchestrator, Autoscaler, Resource Optimizer, LogHub, WebSocket Gateway, and HealthSupervisor, and serve the HTTP API.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(configPath)
	if err != nil {
		return err
	}
	d.API.Host = serveHost
	d.API.Port = servePort

	return d.Serve(context.Background())
}
