package gormsink

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tailfin/flightetl/pkg/etl/core/config"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

//go:embed migrations
var migrationFS embed.FS

const migrationsTable = "flightetl_schema_migrations"

// MigrateUp applies the embedded flights schema migrations for the given
// dialect. Running it against an up-to-date schema is a no-op, so every run
// can call it unconditionally before the first write.
func MigrateUp(ctx context.Context, kind config.SinkKind, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations/"+string(kind))
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations for %s: %w", kind, err)
	}
	dbDriver, err := databaseDriver(kind, sqlDB)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(kind), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed for %s: %w", kind, err)
	}
	logger.Infof("Schema migrations applied (%s).", kind)
	return nil
}

// databaseDriver builds a migrate/v4 database driver for the dialect.
func databaseDriver(kind config.SinkKind, sqlDB *sql.DB) (database.Driver, error) {
	switch kind {
	case config.SinkKindPostgres:
		return migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{MigrationsTable: migrationsTable})
	case config.SinkKindMySQL:
		return migratemysql.WithInstance(sqlDB, &migratemysql.Config{MigrationsTable: migrationsTable})
	case config.SinkKindSQLite:
		return migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{MigrationsTable: migrationsTable})
	default:
		return nil, fmt.Errorf("unsupported sink kind for migration: %s", kind)
	}
}
