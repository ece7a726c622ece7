package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/concord-cpg-engine/internal/config"
	"github.com/concord-cpg-engine/internal/database"
)

var migrationsPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres attestation schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newMigrationRunner()
		if err != nil {
			return err
		}
		defer runner.Close()
		return runner.Up(cmd.Context())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newMigrationRunner()
		if err != nil {
			return err
		}
		defer runner.Close()
		return runner.Down(cmd.Context())
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newMigrationRunner()
		if err != nil {
			return err
		}
		defer runner.Close()

		v, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		state := "clean"
		if dirty {
			state = "dirty"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", v, state)
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsPath, "path", "", "read migrations from this directory instead of the embedded set")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func newMigrationRunner() (*database.MigrationRunner, error) {
	return database.NewMigrationRunner(config.DatabaseConnectionString(cfg.Database), migrationsPath, logger)
}
