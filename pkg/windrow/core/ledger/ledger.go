// Package ledger defines the persistence contract for execution
// records, checkpoints and skip records.
package ledger

import (
	"context"
	"errors"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
)

// ErrExecutionNotFound is returned when no execution record exists for
// the requested ID or identity.
var ErrExecutionNotFound = errors.New("execution record not found")

// ErrRunCompleted is returned by Begin when the identity already has a
// successfully completed execution. Completed runs never restart; a
// re-run needs different parameters.
var ErrRunCompleted = errors.New("run already completed for identity")

// ErrConcurrentUpdate is returned by Update when the record's version
// was advanced by another writer since the caller loaded it. The caller
// re-reads the record and retries from its current version.
var ErrConcurrentUpdate = errors.New("execution record was updated concurrently")

// Ledger is the durable system of record for run executions. All
// methods are safe for concurrent use.
type Ledger interface {
	// Begin atomically resolves the execution record to run for an
	// identity. Concurrent Begins with one identity admit exactly one
	// record:
	//   - no prior record: a fresh attempt is created (created=true)
	//   - a non-terminal record exists: it is returned as-is
	//     (created=false), making duplicate starts idempotent
	//   - latest record is FAILED or STOPPED: a new attempt is created
	//     inheriting the prior checkpoints (created=true)
	//   - latest record is COMPLETED: ErrRunCompleted
	Begin(ctx context.Context, identity model.RunIdentity, params model.RunParameters) (record *model.ExecutionRecord, created bool, err error)

	// Update persists the record's current status, failure bookkeeping
	// and timestamps. The record's Version field is an optimistic lock:
	// a stale version yields ErrConcurrentUpdate, a successful write
	// increments it on the passed record.
	Update(ctx context.Context, record *model.ExecutionRecord) error

	// Checkpoint durably stores the progress of one (step, partition)
	// slice. The engine guarantees a single writer per slice.
	Checkpoint(ctx context.Context, executionID, step string, partition int, state *model.CheckpointState) error

	// Find returns the execution record with the given ID, or
	// ErrExecutionNotFound.
	Find(ctx context.Context, executionID string) (*model.ExecutionRecord, error)

	// FindByIdentity returns the latest execution attempt for the
	// identity, or ErrExecutionNotFound.
	FindByIdentity(ctx context.Context, identity model.RunIdentity) (*model.ExecutionRecord, error)

	// AppendSkip durably appends a skip record. Skip records are
	// append-only and survive the run.
	AppendSkip(ctx context.Context, rec model.SkipRecord) error

	// SkipRecords returns the skip records of an execution in append order.
	SkipRecords(ctx context.Context, executionID string) ([]model.SkipRecord, error)

	// CountSkips returns the number of skip records of an execution.
	CountSkips(ctx context.Context, executionID string) (int, error)

	// Close releases the ledger's resources.
	Close() error
}

// NextAttempt applies the Begin resolution rules to the latest known
// record of an identity. Implementations call it under their own
// atomicity guard (mutex or transaction). prev may be nil.
func NextAttempt(prev *model.ExecutionRecord, identity model.RunIdentity, params model.RunParameters) (record *model.ExecutionRecord, created bool, err error) {
	if prev == nil {
		return model.NewExecutionRecord(identity, params), true, nil
	}
	switch prev.Status {
	case model.StatusCompleted:
		return nil, false, ErrRunCompleted
	case model.StatusFailed, model.StatusStopped:
		return prev.CopyForRestart(), true, nil
	default:
		// STARTING, STARTED or STOPPING: the run is live, hand it back.
		return prev, false, nil
	}
}
