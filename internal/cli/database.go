// Package cli provides database access helpers for CLI commands.
package cli

import (
	"context"
	"fmt"

	"github.com/jberon/kiln/internal/db"
)

// openDatabase opens the outcome archive, applies pending migrations,
// and trims entries past the retention window.
func openDatabase() (*db.DB, error) {
	return openDatabaseWithMigration(true)
}

func openDatabaseWithMigration(autoMigrate bool) (*db.DB, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	cfg := db.Config{
		Path:          appConfig.DatabasePath(),
		MaxOpenConns:  10,
		BusyTimeoutMs: appConfig.Database.BusyTimeoutMs,
	}

	database, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}

	if autoMigrate {
		if err := autoMigrateDatabase(database); err != nil {
			_ = database.Close()
			return nil, err
		}
		trimArchive(database)
	}

	return database, nil
}

func autoMigrateDatabase(database *db.DB) error {
	ctx := context.Background()

	applied, err := database.MigrateUp(ctx)
	if err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}

	if applied > 0 {
		version, _ := database.SchemaVersion(ctx)
		logger.Info().
			Int("applied", applied).
			Int("version", version).
			Msg("database migrated")
	}

	return nil
}

// trimArchive drops outcomes past the retention window. Best effort:
// a failed trim never blocks the command that triggered it.
func trimArchive(database *db.DB) {
	age := appConfig.RetentionAge()
	if age <= 0 {
		return
	}

	repo := db.NewOutcomeRepository(database)
	cutoff := nowFunc().Add(-age)
	trimmed, err := repo.TrimOlderThan(context.Background(), cutoff)
	if err != nil {
		logger.Warn().Err(err).Msg("outcome retention trim failed")
		return
	}
	if trimmed > 0 {
		logger.Debug().
			Int64("trimmed", trimmed).
			Time("cutoff", cutoff).
			Msg("trimmed archived outcomes")
	}
}
