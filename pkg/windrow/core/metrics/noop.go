package metrics

import (
	"context"
	"time"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
)

// NoOpRecorder is a Recorder that discards every event. It is used when
// metrics are disabled and in tests.
type NoOpRecorder struct{}

// NewNoOpRecorder creates a new NoOpRecorder.
func NewNoOpRecorder() Recorder {
	return &NoOpRecorder{}
}

func (r *NoOpRecorder) RecordRunStart(ctx context.Context, record *model.ExecutionRecord) {}
func (r *NoOpRecorder) RecordRunEnd(ctx context.Context, record *model.ExecutionRecord)   {}
func (r *NoOpRecorder) RecordChunkCommit(ctx context.Context, workUnit, step string, count int, elapsed time.Duration) {
}
func (r *NoOpRecorder) RecordItemRead(ctx context.Context, workUnit, step string, count int)  {}
func (r *NoOpRecorder) RecordItemWrite(ctx context.Context, workUnit, step string, count int) {}
func (r *NoOpRecorder) RecordItemSkip(ctx context.Context, workUnit, step string, category string) {
}
func (r *NoOpRecorder) RecordItemFilter(ctx context.Context, workUnit, step string) {}
func (r *NoOpRecorder) RecordRetry(ctx context.Context, workUnit, step string, category string) {}

var _ Recorder = (*NoOpRecorder)(nil)

// NoOpTracer is a Tracer that produces no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartRunSpan(ctx context.Context, record *model.ExecutionRecord) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartChunkSpan(ctx context.Context, workUnit, step string, partition int, sequence int) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

var _ Tracer = (*NoOpTracer)(nil)
