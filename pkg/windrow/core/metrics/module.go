package metrics

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the no-op metric components.
// Applications include either this module or the infrastructure module
// with the real backends, never both.
var Module = fx.Options(
	fx.Provide(NewNoOpRecorder),
	fx.Provide(NewNoOpTracer),
)
