package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hamzaKhattat/pbx-call-control/internal/store"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

// InitializeDatabase migrates the schema and seeds the settings the call
// flows read. With dropExisting every table is removed first.
func InitializeDatabase(ctx context.Context, db *sql.DB, dropExisting bool) error {
	log := logger.WithContext(ctx)

	if dropExisting {
		log.Warn("Dropping existing tables and data")
		if err := dropAllTables(ctx, db); err != nil {
			return fmt.Errorf("failed to drop existing tables: %w", err)
		}
	}

	log.Info("Creating database schema")
	if err := RunDatabaseMigrations(db); err != nil {
		return err
	}

	if err := insertInitialData(ctx, db); err != nil {
		return fmt.Errorf("failed to insert initial data: %w", err)
	}

	log.Info("Database initialization completed")
	return nil
}

func dropAllTables(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
	`)
	if err != nil {
		return err
	}

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		tables = append(tables, name)
	}
	rows.Close()

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)); err != nil {
			logger.WithContext(ctx).WithError(err).WithField("table", table).Warn("Failed to drop table")
		}
	}

	_, err = db.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
	return err
}

var initialSettings = map[string]string{
	store.SettingRecordingEnabled: "false",
	store.SettingCampaignActive:   "true",
}

func insertInitialData(ctx context.Context, db *sql.DB) error {
	for key, value := range initialSettings {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE setting_key = setting_key`,
			key, value); err != nil {
			return err
		}
	}
	return nil
}
