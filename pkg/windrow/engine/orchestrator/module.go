package orchestrator

import (
	"go.uber.org/fx"

	ledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	metrics "github.com/windrowio/windrow/pkg/windrow/core/metrics"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
)

// Params defines the Fx dependencies of the orchestrator. Everything
// but the ledger is optional; the orchestrator falls back to no-ops.
type Params struct {
	fx.In

	Ledger     ledger.Ledger
	Recorder   metrics.Recorder `optional:"true"`
	Tracer     metrics.Tracer   `optional:"true"`
	RunHooks   port.RunHooks    `optional:"true"`
	ChunkHooks port.ChunkHooks  `optional:"true"`
}

// NewFromParams is the Fx provider for *Orchestrator.
func NewFromParams(p Params) *Orchestrator {
	var opts []Option
	if p.Recorder != nil {
		opts = append(opts, WithRecorder(p.Recorder))
	}
	if p.Tracer != nil {
		opts = append(opts, WithTracer(p.Tracer))
	}
	opts = append(opts, WithRunHooks(p.RunHooks), WithChunkHooks(p.ChunkHooks))
	return New(p.Ledger, opts...)
}

// Module is an Fx module that provides the run orchestrator.
var Module = fx.Options(
	fx.Provide(NewFromParams),
)
