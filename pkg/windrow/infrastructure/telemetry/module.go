package telemetry

import (
	"context"

	"go.uber.org/fx"

	config "github.com/windrowio/windrow/pkg/windrow/config"
	coremetrics "github.com/windrowio/windrow/pkg/windrow/core/metrics"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// NewConfiguredTracer builds the configured tracer: OTLP-exporting when
// telemetry is enabled, a no-op otherwise. The provider is shut down on
// application stop so buffered spans flush.
func NewConfiguredTracer(cfg *config.Config, lc fx.Lifecycle) (coremetrics.Tracer, error) {
	if !cfg.Windrow.Telemetry.Enabled {
		return coremetrics.NewNoOpTracer(), nil
	}

	tp, err := NewTracerProvider(context.Background(), cfg.Windrow.Telemetry)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Shutting down trace provider.")
			return tp.Shutdown(ctx)
		},
	})
	return NewTracer(tp), nil
}

// Module is an Fx module that provides the configured Tracer.
var Module = fx.Options(
	fx.Provide(NewConfiguredTracer),
)
