package metrics

import (
	"go.uber.org/fx"

	config "github.com/windrowio/windrow/pkg/windrow/config"
	coremetrics "github.com/windrowio/windrow/pkg/windrow/core/metrics"
)

// NewRecorder builds the configured metrics recorder: Prometheus when
// metrics are enabled, a no-op otherwise.
func NewRecorder(cfg *config.Config) coremetrics.Recorder {
	if !cfg.Windrow.Metrics.Enabled {
		return coremetrics.NewNoOpRecorder()
	}
	namespace := cfg.Windrow.Metrics.Namespace
	if namespace == "" {
		namespace = "windrow"
	}
	return NewPrometheusRecorder(namespace)
}

// Module is an Fx module that provides the configured Recorder.
var Module = fx.Options(
	fx.Provide(NewRecorder),
)
