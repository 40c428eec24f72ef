// Package metrics abstracts metric recording and tracing for the
// engine, decoupling the chunk loop from concrete backends such as
// Prometheus or OpenTelemetry.
package metrics

import (
	"context"
	"time"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
)

// Recorder records counters and durations for run, chunk and item
// events. Implementations must be safe for concurrent use; the chunk
// loops of all partitions share one Recorder.
type Recorder interface {
	// RecordRunStart records the start of an execution attempt.
	RecordRunStart(ctx context.Context, record *model.ExecutionRecord)

	// RecordRunEnd records the end of an execution attempt with its
	// terminal status and duration.
	RecordRunEnd(ctx context.Context, record *model.ExecutionRecord)

	// RecordChunkCommit records a committed chunk of count items.
	RecordChunkCommit(ctx context.Context, workUnit, step string, count int, elapsed time.Duration)

	// RecordItemRead records items pulled from a source.
	RecordItemRead(ctx context.Context, workUnit, step string, count int)

	// RecordItemWrite records items committed to a sink.
	RecordItemWrite(ctx context.Context, workUnit, step string, count int)

	// RecordItemSkip records a skipped item with its failure category.
	RecordItemSkip(ctx context.Context, workUnit, step string, category string)

	// RecordItemFilter records an item dropped by the transform.
	RecordItemFilter(ctx context.Context, workUnit, step string)

	// RecordRetry records a retry attempt with its failure category.
	RecordRetry(ctx context.Context, workUnit, step string, category string)
}

// Tracer starts spans around runs and chunks so execution flows can be
// visualized in a tracing backend.
type Tracer interface {
	// StartRunSpan starts a span for an execution attempt. The returned
	// function ends the span and should be deferred.
	StartRunSpan(ctx context.Context, record *model.ExecutionRecord) (context.Context, func())

	// StartChunkSpan starts a span for one chunk of a partition's loop.
	StartChunkSpan(ctx context.Context, workUnit, step string, partition int, sequence int) (context.Context, func())

	// RecordError records an error on the current span.
	RecordError(ctx context.Context, module string, err error)
}
