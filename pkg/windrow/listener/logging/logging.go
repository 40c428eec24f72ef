// Package logging provides hook bundles that log run and chunk
// lifecycle events through the engine's logger.
package logging

import (
	"context"
	"time"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// RunHooks returns run lifecycle hooks that log start and end events.
func RunHooks() port.RunHooks {
	return port.RunHooks{
		OnRunStart: func(ctx context.Context, record *model.ExecutionRecord) {
			logger.Infof("Run started - WorkUnit: %s, ID: %s, Attempt: %d, Params: %s",
				record.WorkUnit, record.ID, record.RestartCount, record.Parameters.String())
		},
		OnRunEnd: func(ctx context.Context, record *model.ExecutionRecord) {
			counts := record.Counts()
			logger.Infof("Run ended - WorkUnit: %s, ID: %s, Status: %s, Read: %d, Written: %d, Skipped: %d, Commits: %d",
				record.WorkUnit, record.ID, record.Status,
				counts.ReadCount, counts.WriteCount, counts.SkipCount, counts.CommitCount)
		},
	}
}

// ChunkHooks returns chunk-level hooks that log commits, skips and
// retries. Commit logging is at debug level; a busy run commits often.
func ChunkHooks() port.ChunkHooks {
	return port.ChunkHooks{
		OnChunkCommit: func(ctx context.Context, step string, partition int, state *model.CheckpointState, elapsed time.Duration) {
			logger.Debugf("Chunk committed - Step: %s, Partition: %d, Sequence: %d, Cursor: %d, Elapsed: %s",
				step, partition, state.ChunkSequence, state.Cursor, elapsed)
		},
		OnSkip: func(ctx context.Context, rec model.SkipRecord) {
			logger.Warnf("Item skipped - Step: %s, Partition: %d, Sequence: %d, Category: %s, Message: %s",
				rec.Step, rec.Partition, rec.Sequence, rec.Category, rec.Message)
		},
		OnRetry: func(ctx context.Context, step string, partition int, attempt int, err error) {
			logger.Warnf("Retrying - Step: %s, Partition: %d, Attempt: %d, Cause: %v",
				step, partition, attempt, err)
		},
	}
}
