// Package port defines the boundary contracts of the chunk engine:
// record sources, transforms, sinks and the stop signal observed at
// chunk boundaries.
package port

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrEndOfInput is returned by Source.Pull when the source has no more
// records for its assigned range.
var ErrEndOfInput = errors.New("end of input")

// Source supplies records for one partition range. Open positions the
// source at the given cursor so a resumed run continues where the last
// committed chunk left off.
type Source interface {
	// Open prepares the source and seeks to cursor, the count of records
	// of the range already consumed by committed chunks.
	Open(ctx context.Context, cursor int64) error
	// Pull returns up to n records. A short batch is allowed at the end
	// of input; once drained, Pull returns ErrEndOfInput. An empty
	// batch with a nil error is also treated as end of input.
	Pull(ctx context.Context, n int) ([]any, error)
	Close(ctx context.Context) error
}

// Sized is optionally implemented by sources that can report the total
// number of records they hold. The partition planner probes for it when
// a work unit does not declare its input domain explicitly.
type Sized interface {
	Size(ctx context.Context) (int64, error)
}

// Transform converts or validates a single record. A nil result with a
// nil error drops the record: an intentional filter, not a failure.
// Errors are classified by the fault policy.
type Transform interface {
	Apply(ctx context.Context, item any) (any, error)
}

// TransformFunc adapts a plain function to the Transform interface.
type TransformFunc func(ctx context.Context, item any) (any, error)

// Apply implements Transform.
func (f TransformFunc) Apply(ctx context.Context, item any) (any, error) {
	return f(ctx, item)
}

// Sink persists a transformed batch. Commit is all-or-nothing: when it
// returns an error, none of the batch may be visible downstream.
type Sink interface {
	Open(ctx context.Context) error
	Commit(ctx context.Context, batch []any) error
	Close(ctx context.Context) error
}

// StopSignal is a one-way latch asking a run to stop. Chunk loops poll
// it at chunk boundaries only; a tripped signal never blocks the chunk
// in flight.
type StopSignal struct {
	tripped atomic.Bool
}

// NewStopSignal creates an untripped StopSignal.
func NewStopSignal() *StopSignal {
	return &StopSignal{}
}

// Trip latches the signal. Safe to call from any goroutine, repeatedly.
func (s *StopSignal) Trip() {
	s.tripped.Store(true)
}

// Tripped reports whether the signal has been tripped.
func (s *StopSignal) Tripped() bool {
	return s.tripped.Load()
}
