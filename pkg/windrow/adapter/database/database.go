// Package database opens GORM connections for the SQL ledger. Driver
// subpackages register their dialector factories via init, so importing
// a driver package is enough to make its backend available.
package database

import (
	"fmt"
	"sync"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	config "github.com/windrowio/windrow/pkg/windrow/config"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// DialectorFactory builds a gorm.Dialector from a database configuration.
type DialectorFactory func(cfg config.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given driver name.
func RegisterDialector(driver string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[driver]; exists {
		logger.Warnf("Dialector for driver '%s' already registered. Overwriting.", driver)
	}
	dialectorRegistry[driver] = factory
}

// GetDialectorFactory retrieves the DialectorFactory for the driver name.
func GetDialectorFactory(driver string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[driver]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database driver: %s", driver)
	}
	return factory, nil
}

// Open establishes a GORM connection for the configured driver. GORM's
// own logging is kept silent; the engine logs through its own logger.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for driver '%s': %w", cfg.Driver, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection (driver '%s'): %w", cfg.Driver, err)
	}
	logger.Infof("Established DB connection (driver '%s').", cfg.Driver)
	return db, nil
}

// Close closes the underlying sql.DB of a GORM connection.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
