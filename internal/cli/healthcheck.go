package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthcheckAddr string

func init() {
	healthcheckCmd.Flags().StringVar(&healthcheckAddr, "addr", "http://127.0.0.1:8080", "Base URL of a running daemon")
	rootCmd.AddCommand(healthcheckCmd)
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe a running daemon's readiness endpoint",
	Long:  `Exits 0 if the daemon at --addr reports ready, non-zero otherwise. Suitable for container HEALTHCHECK directives.`,
	RunE:  runHealthcheck,
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(healthcheckAddr + "/health/ready")
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck: daemon reported status %d", resp.StatusCode)
	}
	fmt.Println("ready")
	return nil
}
