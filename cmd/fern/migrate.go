package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/database"
)

func newMigrateCmd(a *app) *cobra.Command {
	var (
		version uint
		force   int
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.config
			if cmd.Flags().Changed("version") {
				cfg.DatabaseMigrationVersion = int(version)
			}
			if cmd.Flags().Changed("force") {
				cfg.DatabaseMigrationForce = force
			}

			db, err := database.Connect(cmd.Context(), database.Config{
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    1,
				MaxIdleConns:    1,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return a.migrationService().Migrate(db, cfg.DatabaseName)
		},
	}

	cmd.Flags().UintVar(&version, "version", 0, "target schema version (0 = latest)")
	cmd.Flags().IntVar(&force, "force", 0, "force the schema version before migrating (0 = off)")
	return cmd
}

func (a *app) migrationService() *database.MigrationService {
	cfg := a.config
	version := cfg.DatabaseMigrationVersion
	if version < 0 {
		version = 0
	}
	return database.NewMigrationService(a.logger, database.MigrationConfig{
		FolderPath: cfg.DatabaseMigrationFolderPath,
		Version:    uint(version),
		Force:      cfg.DatabaseMigrationForce,
	})
}
