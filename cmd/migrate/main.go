package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat).With().Str("component", "migrate").Logger()

	var migrationDir string

	open := func() (*migrate.Migrate, error) {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is not set")
		}
		m, err := migrate.New("file://"+migrationDir, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("initialize migrations: %w", err)
		}
		return m, nil
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&migrationDir, "path", "migrations", "Path to migration files")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				return report(log, "up", m.Up())
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back all migrations, or the given number of steps",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				if len(args) == 0 {
					return report(log, "down", m.Down())
				}
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid steps %q", args[0])
				}
				return report(log, "down", m.Steps(-n))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				version, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("read version: %w", err)
				}
				log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
				return nil
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				m, err := open()
				if err != nil {
					return err
				}
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force: %w", err)
				}
				log.Info().Int("version", v).Msg("Forced schema version")
				return nil
			},
		},
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Migration failed")
		os.Exit(1)
	}
}

func report(log zerolog.Logger, direction string, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Str("direction", direction).Msg("No change")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	log.Info().Str("direction", direction).Msg("Migrated successfully")
	return nil
}
