package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safelex/safelex/db"
	"github.com/safelex/safelex/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending database migrations and exit",
	RunE: func(*cobra.Command, []string) error {
		logger := initLogger()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		logger.Info("migrations applied", "database", cfg.PostgresDBName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
