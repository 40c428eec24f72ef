package drivers

import (
	"go.uber.org/fx"

	// Blank imports register the GORM dialector factories.
	_ "github.com/windrowio/windrow/pkg/windrow/adapter/database/mysql"
	_ "github.com/windrowio/windrow/pkg/windrow/adapter/database/postgres"
	_ "github.com/windrowio/windrow/pkg/windrow/adapter/database/sqlite"
)

// Module encapsulates the blank imports that register every supported
// database driver, so applications can pull them in as one Fx module.
var Module = fx.Options()
