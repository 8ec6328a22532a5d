package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"opsdesk/config"
	"opsdesk/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.DriverPostgres {
		return fmt.Errorf("migrate: store driver is %q, nothing to migrate", cfg.Store.Driver)
	}
	logger := cfg.NewLogger(os.Stderr)

	pool, err := db.NewPool(cmd.Context(), cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.Migrate(cmd.Context(), pool)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		logger.Info("database is up to date")
		return nil
	}
	for _, name := range applied {
		logger.Info("applied migration", "name", name)
	}
	return nil
}
