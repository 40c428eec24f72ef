// Package sqlite registers the SQLite dialector for the SQL ledger.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	database "github.com/windrowio/windrow/pkg/windrow/adapter/database"
	config "github.com/windrowio/windrow/pkg/windrow/config"
)

func init() {
	database.RegisterDialector("sqlite", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Path == "" {
			return nil, errors.New("sqlite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the DSN for SQLite connections. The GORM
// SQLite dialector expects the file path directly.
func ConnectionString(c config.DatabaseConfig) string {
	return c.Path
}
