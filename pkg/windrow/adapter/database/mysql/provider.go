// Package mysql registers the MySQL dialector for the SQL ledger.
package mysql

import (
	"fmt"

	gosqlmysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	database "github.com/windrowio/windrow/pkg/windrow/adapter/database"
	config "github.com/windrowio/windrow/pkg/windrow/config"
)

func init() {
	database.RegisterDialector("mysql", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the DSN for MySQL connections via the
// go-sql-driver config builder. ParseTime is required so TIMESTAMP
// columns scan into time.Time.
func ConnectionString(c config.DatabaseConfig) string {
	dsn := gosqlmysql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	return dsn.FormatDSN()
}
