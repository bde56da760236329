package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coderunner/controlplane/internal/config"
	"github.com/coderunner/controlplane/internal/store"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the datastore schema without starting the daemon",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer db.Close()
	fmt.Printf("schema applied at %s\n", cfg.DataDir)
	return nil
}
