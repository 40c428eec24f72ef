// Package ledger selects and provides the configured execution ledger
// backend for dependency injection.
package ledger

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	config "github.com/windrowio/windrow/pkg/windrow/config"
	coreledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	memory "github.com/windrowio/windrow/pkg/windrow/infrastructure/ledger/memory"
	sqlstore "github.com/windrowio/windrow/pkg/windrow/infrastructure/ledger/sqlstore"
)

// NewLedger builds the ledger backend named by the configuration:
// "memory" (the default) or "sql".
func NewLedger(cfg *config.Config, lc fx.Lifecycle) (coreledger.Ledger, error) {
	var led coreledger.Ledger

	switch cfg.Windrow.Ledger.Backend {
	case "", "memory":
		led = memory.New()
	case "sql":
		dbc, err := cfg.Windrow.Ledger.DatabaseConfig()
		if err != nil {
			return nil, fmt.Errorf("invalid ledger database configuration: %w", err)
		}
		store, err := sqlstore.Open(dbc)
		if err != nil {
			return nil, err
		}
		led = store
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Windrow.Ledger.Backend)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return led.Close()
		},
	})
	return led, nil
}

// Module is an Fx module that provides the configured ledger.
var Module = fx.Options(
	fx.Provide(NewLedger),
)
