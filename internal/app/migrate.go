package app

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/humanreel/backend/internal/config"
	"github.com/humanreel/backend/internal/db/migrations"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if err := migrations.Up(cfg.DatabaseURL); err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), cfg.DatabaseURL)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if err := migrations.Down(cfg.DatabaseURL); err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), cfg.DatabaseURL)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), cfg.DatabaseURL)
			},
		},
	)
	return cmd
}

func printStatus(w io.Writer, databaseURL string) error {
	status, err := migrations.CurrentStatus(databaseURL)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formatStatus(status))
	return nil
}

func formatStatus(status migrations.Status) string {
	switch {
	case !status.Applied:
		return "no migrations applied"
	case status.Dirty:
		return fmt.Sprintf("schema version %d (dirty)", status.Version)
	default:
		return fmt.Sprintf("schema version %d", status.Version)
	}
}
