// Package postgres registers the PostgreSQL dialector for the SQL ledger.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	database "github.com/windrowio/windrow/pkg/windrow/adapter/database"
	config "github.com/windrowio/windrow/pkg/windrow/config"
)

func init() {
	database.RegisterDialector("postgres", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the DSN for PostgreSQL connections in the
// format expected by gorm.io/driver/postgres.
func ConnectionString(c config.DatabaseConfig) string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}
