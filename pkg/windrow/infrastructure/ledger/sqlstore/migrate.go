package sqlstore

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

//go:embed migrations
var migrationsFS embed.FS

const migrationsTable = "windrow_schema_migrations"

// Migrate applies the ledger schema migrations to the connected
// database. Already-applied migrations are a no-op.
func Migrate(db *gorm.DB, driver string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	var dbDriver migratedb.Driver
	switch driver {
	case "postgres":
		dbDriver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	case "mysql":
		dbDriver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: migrationsTable})
	case "sqlite":
		dbDriver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: migrationsTable})
	default:
		return fmt.Errorf("unsupported database driver for migration: %s", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver for %s: %w", driver, err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("ledger schema migration failed (driver: %s): %w", driver, err)
	}
	logger.Infof("Ledger schema is up to date (driver: %s).", driver)
	return nil
}
