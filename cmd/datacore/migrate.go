package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadahq/datacore/internal/config"
	"github.com/armadahq/datacore/internal/storage/sqlite"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store, err := sqlite.New(context.Background(), cfg.DatabaseDSN, false)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close() //nolint:errcheck

			if err := store.Migrate(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations applied")
			return nil
		},
	}
}
