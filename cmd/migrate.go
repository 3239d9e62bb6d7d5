package cmd

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"recording-ingest/config"
)

func migrateCmd(cfg *config.Config) *cobra.Command {
	var source string
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return errors.New("postgresql_host is not set")
			}

			m, err := migrate.New(source, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to initialize migrations: %w", err)
			}
			defer m.Close()

			if down {
				err = m.Down()
			} else {
				err = m.Up()
			}
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info().Msg("no new migrations to apply")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			version, dirty, err := m.Version()
			if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
				log.Warn().Err(err).Msg("could not read migration version")
				return nil
			}
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("database migrations completed")
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "file://migrations", "migration source url")
	cmd.Flags().BoolVar(&down, "down", false, "roll back every migration")
	return cmd
}
