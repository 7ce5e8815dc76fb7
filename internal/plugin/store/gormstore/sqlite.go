package gormstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/config"
	registrymigrate "github.com/chirino/chat-mirror/internal/registry/migrate"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.MirrorStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(sqlite.Open(SQLiteDSN(cfg.DBURL)), gormConfig())
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite: %w", err)
			}
			// SQLite allows a single writer; one pooled connection keeps
			// writes serialized without SQLITE_BUSY churn.
			if err := configurePool(ctx, db, 1, 1); err != nil {
				return nil, err
			}
			return New(db), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// SQLiteDSN turns a file path into a go-sqlite3 DSN with WAL journaling and a
// busy timeout. DSNs that already carry parameters are returned unchanged.
func SQLiteDSN(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + strings.TrimPrefix(path, "file:") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(cfg.DBURL)), gormConfig())
	if err != nil {
		return fmt.Errorf("migration: failed to open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
