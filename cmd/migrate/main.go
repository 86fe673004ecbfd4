package main

import (
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	"LendingPool/internal/config"
	"LendingPool/internal/observability"
	"LendingPool/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	logger := observability.NewLogger("migrate")

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the event log and projection schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(cmd *cobra.Command, m *persistence.Migrator) error {
				if err := m.Up(cmd.Context()); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			RunE: withMigrator(func(cmd *cobra.Command, m *persistence.Migrator) error {
				if err := m.Down(cmd.Context()); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: withMigrator(func(cmd *cobra.Command, m *persistence.Migrator) error {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
				for _, s := range statuses {
					fmt.Fprintf(w, "%s\t%t\t%s\n", s.Version, s.Applied, s.Filename)
				}
				return w.Flush()
			}),
		},
	)

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("migrate failed")
		os.Exit(1)
	}
}

func withMigrator(fn func(*cobra.Command, *persistence.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		return fn(cmd, persistence.NewMigrator(db, cfg.MigrationsDir))
	}
}
