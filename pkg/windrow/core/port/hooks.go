package port

import (
	"context"
	"time"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
)

// RunHooks is an ordered bundle of callbacks observing a run's
// lifecycle. Nil fields are skipped. Hooks must not block; the engine
// invokes them inline.
type RunHooks struct {
	OnRunStart func(ctx context.Context, record *model.ExecutionRecord)
	OnRunEnd   func(ctx context.Context, record *model.ExecutionRecord)
}

// ChunkHooks observes chunk-level events within one partition's loop.
type ChunkHooks struct {
	// OnChunkCommit fires after a chunk's sink commit and checkpoint
	// both succeeded.
	OnChunkCommit func(ctx context.Context, step string, partition int, state *model.CheckpointState, elapsed time.Duration)
	// OnSkip fires after a skip record has been appended to the ledger.
	OnSkip func(ctx context.Context, rec model.SkipRecord)
	// OnRetry fires before a retry backoff sleep.
	OnRetry func(ctx context.Context, step string, partition int, attempt int, err error)
}

// Merge combines two hook bundles; both callbacks fire, h's first.
func (h RunHooks) Merge(other RunHooks) RunHooks {
	merged := RunHooks{}
	merged.OnRunStart = chain2(h.OnRunStart, other.OnRunStart)
	merged.OnRunEnd = chain2(h.OnRunEnd, other.OnRunEnd)
	return merged
}

// Merge combines two chunk hook bundles; both callbacks fire, h's first.
func (h ChunkHooks) Merge(other ChunkHooks) ChunkHooks {
	merged := ChunkHooks{}
	if h.OnChunkCommit != nil || other.OnChunkCommit != nil {
		a, b := h.OnChunkCommit, other.OnChunkCommit
		merged.OnChunkCommit = func(ctx context.Context, step string, partition int, state *model.CheckpointState, elapsed time.Duration) {
			if a != nil {
				a(ctx, step, partition, state, elapsed)
			}
			if b != nil {
				b(ctx, step, partition, state, elapsed)
			}
		}
	}
	if h.OnSkip != nil || other.OnSkip != nil {
		a, b := h.OnSkip, other.OnSkip
		merged.OnSkip = func(ctx context.Context, rec model.SkipRecord) {
			if a != nil {
				a(ctx, rec)
			}
			if b != nil {
				b(ctx, rec)
			}
		}
	}
	if h.OnRetry != nil || other.OnRetry != nil {
		a, b := h.OnRetry, other.OnRetry
		merged.OnRetry = func(ctx context.Context, step string, partition int, attempt int, err error) {
			if a != nil {
				a(ctx, step, partition, attempt, err)
			}
			if b != nil {
				b(ctx, step, partition, attempt, err)
			}
		}
	}
	return merged
}

func chain2(a, b func(ctx context.Context, record *model.ExecutionRecord)) func(ctx context.Context, record *model.ExecutionRecord) {
	if a == nil && b == nil {
		return nil
	}
	return func(ctx context.Context, record *model.ExecutionRecord) {
		if a != nil {
			a(ctx, record)
		}
		if b != nil {
			b(ctx, record)
		}
	}
}
