// Package chunk implements the chunk-oriented processing loop: pull a
// batch from the source, transform it item by item, commit the batch
// atomically to the sink and checkpoint the ledger before the next
// pull. One Loop owns exactly one partition of one step.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"time"

	fault "github.com/windrowio/windrow/pkg/windrow/core/fault"
	ledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	metrics "github.com/windrowio/windrow/pkg/windrow/core/metrics"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// Outcome is the terminal result of one partition's loop.
type Outcome int

const (
	// OutcomeCompleted means the partition drained its range.
	OutcomeCompleted Outcome = iota
	// OutcomeStopped means the loop observed a stop request at a chunk
	// boundary. Work committed so far stays committed.
	OutcomeStopped
	// OutcomeFailed means a fatal fault ended the loop.
	OutcomeFailed
)

// String returns the string representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "COMPLETED"
	case OutcomeStopped:
		return "STOPPED"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config wires one partition's loop.
type Config struct {
	WorkUnit    string
	Step        string
	ExecutionID string
	Partition   model.PartitionRange
	ChunkSize   int

	Source    port.Source
	Transform port.Transform
	Sink      port.Sink

	Policy *fault.Policy
	Ledger ledger.Ledger
	Stop   *port.StopSignal
	Hooks  port.ChunkHooks

	Recorder metrics.Recorder
	Tracer   metrics.Tracer
}

// Loop executes the chunk cycle for one partition.
type Loop struct {
	cfg Config
}

// New creates a Loop. Nil Recorder/Tracer default to no-ops.
func New(cfg Config) *Loop {
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NewNoOpRecorder()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = metrics.NewNoOpTracer()
	}
	if cfg.Stop == nil {
		cfg.Stop = port.NewStopSignal()
	}
	return &Loop{cfg: cfg}
}

// outItem pairs a transformed value with the absolute input position it
// came from, so per-item commit fallback can attribute skips.
type outItem struct {
	value any
	seq   int64
}

// Run executes the loop from the given checkpoint. It returns the
// terminal outcome, the final checkpoint state (already persisted) and
// the fatal error when the outcome is OutcomeFailed.
//
// The cycle per iteration:
//  1. poll the stop signal (chunk boundaries only)
//  2. pull up to ChunkSize records
//  3. transform each record, resolving faults via the policy
//  4. commit survivors to the sink atomically
//  5. persist the checkpoint before the next pull
func (l *Loop) Run(ctx context.Context, start *model.CheckpointState) (Outcome, *model.CheckpointState, error) {
	cfg := l.cfg

	state := start.Clone()
	if state == nil {
		state = &model.CheckpointState{Cursor: 0}
	}
	if state.Completed {
		logger.Debugf("Step '%s' %s already completed, nothing to do.", cfg.Step, cfg.Partition)
		return OutcomeCompleted, state, nil
	}

	if err := cfg.Source.Open(ctx, state.Cursor); err != nil {
		return OutcomeFailed, state, fault.Fatal("chunk", fmt.Sprintf("failed to open source for step '%s' %s", cfg.Step, cfg.Partition), err)
	}
	defer func() {
		if err := cfg.Source.Close(ctx); err != nil {
			logger.Warnf("Failed to close source for step '%s' %s: %v", cfg.Step, cfg.Partition, err)
		}
	}()

	if err := cfg.Sink.Open(ctx); err != nil {
		return OutcomeFailed, state, fault.Fatal("chunk", fmt.Sprintf("failed to open sink for step '%s' %s", cfg.Step, cfg.Partition), err)
	}
	defer func() {
		if err := cfg.Sink.Close(ctx); err != nil {
			logger.Warnf("Failed to close sink for step '%s' %s: %v", cfg.Step, cfg.Partition, err)
		}
	}()

	for {
		// Stop is only honored here, between chunks. A tripped signal
		// never abandons the chunk in flight.
		if cfg.Stop.Tripped() || ctx.Err() != nil {
			logger.Infof("Step '%s' %s stopping at chunk boundary (cursor=%d).", cfg.Step, cfg.Partition, state.Cursor)
			if err := l.checkpoint(ctx, state); err != nil {
				return OutcomeFailed, state, err
			}
			return OutcomeStopped, state, nil
		}

		batch, endOfInput, err := l.pull(ctx)
		if err != nil {
			return OutcomeFailed, state, err
		}

		if len(batch) > 0 {
			chunkStart := time.Now()
			spanCtx, endSpan := cfg.Tracer.StartChunkSpan(ctx, cfg.WorkUnit, cfg.Step, cfg.Partition.Index, state.ChunkSequence+1)

			outputs, failErr := l.transformBatch(spanCtx, state, batch)
			if failErr != nil {
				cfg.Tracer.RecordError(spanCtx, "transform", failErr)
				endSpan()
				return OutcomeFailed, state, failErr
			}

			written, failErr := l.commit(spanCtx, state, outputs)
			if failErr != nil {
				cfg.Tracer.RecordError(spanCtx, "sink", failErr)
				endSpan()
				return OutcomeFailed, state, failErr
			}
			endSpan()

			state.ReadCount += len(batch)
			state.WriteCount += written
			state.Cursor += int64(len(batch))
			state.ChunkSequence++
			state.Completed = endOfInput

			// The checkpoint is the commit's durability seal: it must
			// land before the next pull so a crash never replays a
			// committed chunk.
			if err := l.checkpoint(ctx, state); err != nil {
				return OutcomeFailed, state, err
			}

			elapsed := time.Since(chunkStart)
			cfg.Recorder.RecordItemRead(ctx, cfg.WorkUnit, cfg.Step, len(batch))
			cfg.Recorder.RecordItemWrite(ctx, cfg.WorkUnit, cfg.Step, written)
			cfg.Recorder.RecordChunkCommit(ctx, cfg.WorkUnit, cfg.Step, written, elapsed)
			if cfg.Hooks.OnChunkCommit != nil {
				cfg.Hooks.OnChunkCommit(ctx, cfg.Step, cfg.Partition.Index, state.Clone(), elapsed)
			}
			logger.Debugf("Step '%s' %s committed chunk %d (%d read, %d written, cursor=%d).",
				cfg.Step, cfg.Partition, state.ChunkSequence, len(batch), written, state.Cursor)
		}

		if endOfInput {
			if !state.Completed {
				state.Completed = true
				if err := l.checkpoint(ctx, state); err != nil {
					return OutcomeFailed, state, err
				}
			}
			logger.Infof("Step '%s' %s completed: %d read, %d written, %d skipped, %d filtered over %d chunks.",
				cfg.Step, cfg.Partition, state.ReadCount, state.WriteCount, state.SkipCount, state.FilterCount, state.ChunkSequence)
			return OutcomeCompleted, state, nil
		}
	}
}

// pull fetches the next batch, retrying transient pull failures. Pull
// faults cannot be attributed to a single record, so any non-retryable
// outcome fails the loop. An empty batch without an error counts as end
// of input, like ErrEndOfInput.
func (l *Loop) pull(ctx context.Context) (batch []any, endOfInput bool, err error) {
	cfg := l.cfg
	attempt := 0
	for {
		batch, err = cfg.Source.Pull(ctx, cfg.ChunkSize)
		if err == nil {
			return batch, len(batch) == 0, nil
		}
		if errors.Is(err, port.ErrEndOfInput) {
			return batch, true, nil
		}

		if cfg.Policy.Classify(err) == fault.OutcomeRetry && attempt < cfg.Policy.RetryLimit() {
			attempt++
			l.noteRetry(ctx, attempt, err)
			if serr := l.sleep(ctx, cfg.Policy.Backoff(attempt)); serr != nil {
				return nil, false, fault.Fatal("chunk", "interrupted while backing off a pull retry", serr)
			}
			continue
		}
		return nil, false, fault.Fatal("chunk", fmt.Sprintf("pull failed for step '%s' %s after %d retries", cfg.Step, cfg.Partition, attempt), err)
	}
}

// transformBatch applies the transform to every record of the batch,
// resolving per-record faults through the policy. It mutates the
// checkpoint's skip and filter counters and returns the surviving
// outputs in input order.
func (l *Loop) transformBatch(ctx context.Context, state *model.CheckpointState, batch []any) ([]outItem, error) {
	cfg := l.cfg
	outputs := make([]outItem, 0, len(batch))

	for i, item := range batch {
		seq := state.Cursor + int64(i)
		out, err := l.transformItem(ctx, item)
		if err == nil {
			if out == nil {
				// A nil result is an intentional drop, not a failure.
				state.FilterCount++
				cfg.Recorder.RecordItemFilter(ctx, cfg.WorkUnit, cfg.Step)
				continue
			}
			outputs = append(outputs, outItem{value: out, seq: seq})
			continue
		}

		outcome := cfg.Policy.Classify(err)
		if outcome == fault.OutcomeRetry {
			outcome = cfg.Policy.Exhausted(err)
		}
		switch outcome {
		case fault.OutcomeSkip:
			if skipErr := l.skip(ctx, state, seq, item, err); skipErr != nil {
				return nil, skipErr
			}
		default:
			return nil, fault.Fatal("chunk", fmt.Sprintf("transform failed for step '%s' %s at position %d", cfg.Step, cfg.Partition, seq), err)
		}
	}
	return outputs, nil
}

// transformItem applies the transform with the policy's retry budget.
func (l *Loop) transformItem(ctx context.Context, item any) (any, error) {
	cfg := l.cfg
	attempt := 0
	for {
		out, err := cfg.Transform.Apply(ctx, item)
		if err == nil {
			return out, nil
		}
		if cfg.Policy.Classify(err) == fault.OutcomeRetry && attempt < cfg.Policy.RetryLimit() {
			attempt++
			l.noteRetry(ctx, attempt, err)
			if serr := l.sleep(ctx, cfg.Policy.Backoff(attempt)); serr != nil {
				return nil, fault.Fatal("chunk", "interrupted while backing off a transform retry", serr)
			}
			continue
		}
		return nil, err
	}
}

// commit writes the chunk's surviving outputs to the sink, retrying
// transient failures. When retries run out and the failure's exhausted
// outcome allows skipping, the chunk is split and committed item by
// item so only the offending records are set aside.
func (l *Loop) commit(ctx context.Context, state *model.CheckpointState, outputs []outItem) (int, error) {
	cfg := l.cfg
	if len(outputs) == 0 {
		return 0, nil
	}

	batch := make([]any, len(outputs))
	for i, o := range outputs {
		batch[i] = o.value
	}

	attempt := 0
	for {
		err := cfg.Sink.Commit(ctx, batch)
		if err == nil {
			return len(batch), nil
		}

		outcome := cfg.Policy.Classify(err)
		if outcome == fault.OutcomeRetry {
			if attempt < cfg.Policy.RetryLimit() {
				attempt++
				l.noteRetry(ctx, attempt, err)
				if serr := l.sleep(ctx, cfg.Policy.Backoff(attempt)); serr != nil {
					return 0, fault.Fatal("chunk", "interrupted while backing off a commit retry", serr)
				}
				continue
			}
			outcome = cfg.Policy.Exhausted(err)
		}
		switch outcome {
		case fault.OutcomeSkip:
			logger.Warnf("Step '%s' %s: chunk commit failed with a skippable fault, splitting into per-item commits: %v", cfg.Step, cfg.Partition, err)
			return l.commitSplit(ctx, state, outputs)
		default:
			return 0, fault.Fatal("chunk", fmt.Sprintf("commit failed for step '%s' %s after %d retries", cfg.Step, cfg.Partition, attempt), err)
		}
	}
}

// commitSplit commits each output individually, skipping the records
// that fail on their own. One bad record no longer poisons its chunk.
func (l *Loop) commitSplit(ctx context.Context, state *model.CheckpointState, outputs []outItem) (int, error) {
	cfg := l.cfg
	written := 0
	for _, o := range outputs {
		err := l.commitOne(ctx, o.value)
		if err == nil {
			written++
			continue
		}

		outcome := cfg.Policy.Classify(err)
		if outcome == fault.OutcomeRetry {
			outcome = cfg.Policy.Exhausted(err)
		}
		switch outcome {
		case fault.OutcomeSkip:
			if skipErr := l.skip(ctx, state, o.seq, o.value, err); skipErr != nil {
				return written, skipErr
			}
		default:
			return written, fault.Fatal("chunk", fmt.Sprintf("single-item commit failed for step '%s' %s at position %d", cfg.Step, cfg.Partition, o.seq), err)
		}
	}
	return written, nil
}

// commitOne commits one record with the policy's retry budget.
func (l *Loop) commitOne(ctx context.Context, value any) error {
	cfg := l.cfg
	attempt := 0
	for {
		err := cfg.Sink.Commit(ctx, []any{value})
		if err == nil {
			return nil
		}
		if cfg.Policy.Classify(err) == fault.OutcomeRetry && attempt < cfg.Policy.RetryLimit() {
			attempt++
			l.noteRetry(ctx, attempt, err)
			if serr := l.sleep(ctx, cfg.Policy.Backoff(attempt)); serr != nil {
				return fault.Fatal("chunk", "interrupted while backing off a single-item commit retry", serr)
			}
			continue
		}
		return err
	}
}

// skip sets one record aside: it enforces the run's global skip
// ceiling, appends the durable skip record and bumps the counters.
func (l *Loop) skip(ctx context.Context, state *model.CheckpointState, seq int64, payload any, cause error) error {
	cfg := l.cfg

	total, ok := cfg.Policy.TrySkip()
	if !ok {
		return fault.Fatal("chunk", fmt.Sprintf("skip limit %d exceeded for step '%s' %s at position %d", cfg.Policy.SkipLimit(), cfg.Step, cfg.Partition, seq), cause)
	}

	category := fault.Categorize(cause)
	rec := model.SkipRecord{
		ID:          model.NewID(),
		ExecutionID: cfg.ExecutionID,
		Step:        cfg.Step,
		Partition:   cfg.Partition.Index,
		Sequence:    seq,
		Payload:     fmt.Sprintf("%v", payload),
		Category:    category.String(),
		Message:     cause.Error(),
		SkippedAt:   time.Now(),
	}
	if err := cfg.Ledger.AppendSkip(ctx, rec); err != nil {
		return fault.Fatal("chunk", fmt.Sprintf("failed to persist skip record for step '%s' %s at position %d", cfg.Step, cfg.Partition, seq), err)
	}

	state.SkipCount++
	cfg.Recorder.RecordItemSkip(ctx, cfg.WorkUnit, cfg.Step, category.String())
	if cfg.Hooks.OnSkip != nil {
		cfg.Hooks.OnSkip(ctx, rec)
	}
	logger.Warnf("Step '%s' %s skipped record at position %d (%d/%d skips used): %v",
		cfg.Step, cfg.Partition, seq, total, cfg.Policy.SkipLimit(), cause)
	return nil
}

// checkpoint persists the current state. A checkpoint that cannot be
// written is fatal: continuing would risk replaying committed work.
func (l *Loop) checkpoint(ctx context.Context, state *model.CheckpointState) error {
	cfg := l.cfg
	state.LastUpdated = time.Now()
	if err := cfg.Ledger.Checkpoint(ctx, cfg.ExecutionID, cfg.Step, cfg.Partition.Index, state.Clone()); err != nil {
		return fault.Fatal("chunk", fmt.Sprintf("failed to persist checkpoint for step '%s' %s", cfg.Step, cfg.Partition), err)
	}
	return nil
}

func (l *Loop) noteRetry(ctx context.Context, attempt int, err error) {
	cfg := l.cfg
	cfg.Recorder.RecordRetry(ctx, cfg.WorkUnit, cfg.Step, fault.Categorize(err).String())
	if cfg.Hooks.OnRetry != nil {
		cfg.Hooks.OnRetry(ctx, cfg.Step, cfg.Partition.Index, attempt, err)
	}
	logger.Debugf("Step '%s' %s retry attempt %d: %v", cfg.Step, cfg.Partition, attempt, err)
}

// sleep waits for the backoff duration or until the context is done.
func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
