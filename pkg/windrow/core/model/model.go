// Package model defines the data model of the windrow engine: run
// statuses, run identity, execution records, checkpoints, partition
// plans and skip records.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// RunStatus represents the state of a run execution.
type RunStatus string

const (
	StatusStarting  RunStatus = "STARTING"
	StatusStarted   RunStatus = "STARTED"
	StatusStopping  RunStatus = "STOPPING"
	StatusStopped   RunStatus = "STOPPED"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is a terminal state. Terminal
// runs never transition again; a restart creates a new attempt record.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// isValidRunTransition checks if the state transition for a run is valid.
func isValidRunTransition(current, next RunStatus) bool {
	switch current {
	case StatusStarting:
		// STARTING can move to STARTED, or straight to a terminal state
		// when setup fails or a stop arrives before the first chunk.
		return next == StatusStarted || next == StatusFailed || next == StatusStopped
	case StatusStarted:
		return next == StatusStopping || next == StatusCompleted || next == StatusFailed
	case StatusStopping:
		// A run being stopped may still complete or fail while the
		// current chunks drain.
		return next == StatusStopped || next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed, StatusStopped:
		return false
	default:
		return false
	}
}

// RunIdentity identifies a logical run: the work unit name plus the
// canonical hash of its parameters. Two starts with the same identity
// refer to the same logical run.
type RunIdentity struct {
	WorkUnit       string
	ParametersHash string
}

// Key returns a stable composite key for the identity.
func (ri RunIdentity) Key() string {
	return ri.WorkUnit + "::" + ri.ParametersHash
}

// NewRunIdentity derives the identity of a run from its work unit name
// and parameters.
func NewRunIdentity(workUnit string, params RunParameters) (RunIdentity, error) {
	hash, err := params.Hash()
	if err != nil {
		return RunIdentity{}, fmt.Errorf("failed to derive run identity for work unit '%s': %w", workUnit, err)
	}
	return RunIdentity{WorkUnit: workUnit, ParametersHash: hash}, nil
}

// ExecutionRecord represents a single execution attempt of a run.
type ExecutionRecord struct {
	ID              string
	WorkUnit        string
	ParametersHash  string
	Parameters      RunParameters
	StartTime       time.Time
	EndTime         *time.Time
	Status          RunStatus
	FailureCategory string
	Failures        FailureList
	RestartCount    int
	Checkpoints     CheckpointMap
	CreateTime      time.Time
	LastUpdated     time.Time
	Version         int
}

// NewExecutionRecord creates a fresh execution record in the STARTING state.
func NewExecutionRecord(identity RunIdentity, params RunParameters) *ExecutionRecord {
	now := time.Now()
	return &ExecutionRecord{
		ID:             NewID(),
		WorkUnit:       identity.WorkUnit,
		ParametersHash: identity.ParametersHash,
		Parameters:     params,
		StartTime:      now,
		Status:         StatusStarting,
		Failures:       make(FailureList, 0),
		Checkpoints:    NewCheckpointMap(),
		CreateTime:     now,
		LastUpdated:    now,
		Version:        0,
	}
}

// Identity returns the run identity of the record.
func (r *ExecutionRecord) Identity() RunIdentity {
	return RunIdentity{WorkUnit: r.WorkUnit, ParametersHash: r.ParametersHash}
}

// CopyForRestart creates a new execution attempt for the same identity.
// Checkpoints carry over so completed partitions are not re-run; status
// and failure bookkeeping start fresh.
func (r *ExecutionRecord) CopyForRestart() *ExecutionRecord {
	next := NewExecutionRecord(r.Identity(), r.Parameters)
	next.Checkpoints = r.Checkpoints.Clone()
	next.RestartCount = r.RestartCount + 1
	return next
}

// TransitionTo safely transitions the state of the execution record.
// Fields other than Status and LastUpdated must be set separately by the caller.
func (r *ExecutionRecord) TransitionTo(next RunStatus) error {
	if !isValidRunTransition(r.Status, next) {
		return fmt.Errorf("execution (ID: %s): invalid state transition: %s -> %s", r.ID, r.Status, next)
	}
	r.Status = next
	r.LastUpdated = time.Now()
	return nil
}

// MarkAsStarted updates the record status to STARTED.
func (r *ExecutionRecord) MarkAsStarted() {
	if err := r.TransitionTo(StatusStarted); err != nil {
		logger.Warnf("Could not update execution (ID: %s) status to STARTED: %v", r.ID, err)
		r.Status = StatusStarted
	}
	r.LastUpdated = time.Now()
}

// MarkAsStopping updates the record status to STOPPING.
func (r *ExecutionRecord) MarkAsStopping() error {
	return r.TransitionTo(StatusStopping)
}

// MarkAsCompleted updates the record status to COMPLETED.
func (r *ExecutionRecord) MarkAsCompleted() {
	if err := r.TransitionTo(StatusCompleted); err != nil {
		logger.Warnf("Could not update execution (ID: %s) status to COMPLETED: %v", r.ID, err)
		r.Status = StatusCompleted
	}
	now := time.Now()
	r.EndTime = &now
	r.LastUpdated = now
}

// MarkAsFailed updates the record status to FAILED and records the cause.
func (r *ExecutionRecord) MarkAsFailed(cause error) {
	if err := r.TransitionTo(StatusFailed); err != nil {
		logger.Warnf("Could not update execution (ID: %s) status to FAILED: %v", r.ID, err)
		r.Status = StatusFailed
	}
	now := time.Now()
	r.EndTime = &now
	r.LastUpdated = now
	if cause != nil {
		r.AddFailure(cause)
	}
}

// MarkAsStopped updates the record status to STOPPED.
func (r *ExecutionRecord) MarkAsStopped() {
	if err := r.TransitionTo(StatusStopped); err != nil {
		logger.Warnf("Could not update execution (ID: %s) status to STOPPED: %v", r.ID, err)
		r.Status = StatusStopped
	}
	now := time.Now()
	r.EndTime = &now
	r.LastUpdated = now
}

// AddFailure appends error information to the record, skipping duplicates.
func (r *ExecutionRecord) AddFailure(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	for _, existing := range r.Failures {
		if existing == msg {
			logger.Debugf("Skipped adding duplicate error '%s' to execution (ID: %s).", msg, r.ID)
			return
		}
	}
	r.Failures = append(r.Failures, msg)
	r.LastUpdated = time.Now()
}

// Counts aggregates the item counters across every checkpoint of the record.
func (r *ExecutionRecord) Counts() AggregateCounts {
	var agg AggregateCounts
	for _, cp := range r.Checkpoints {
		agg.ReadCount += cp.ReadCount
		agg.WriteCount += cp.WriteCount
		agg.SkipCount += cp.SkipCount
		agg.FilterCount += cp.FilterCount
		agg.CommitCount += cp.ChunkSequence
	}
	return agg
}

// AggregateCounts is the run-level view of item counters.
type AggregateCounts struct {
	ReadCount   int
	WriteCount  int
	SkipCount   int
	FilterCount int
	CommitCount int
}

// SkipRecord describes a single record set aside by the fault policy.
// Skip records are append-only remediation evidence and are never
// deleted by the engine.
type SkipRecord struct {
	ID          string
	ExecutionID string
	Step        string
	Partition   int
	Sequence    int64
	Payload     string
	Category    string
	Message     string
	SkippedAt   time.Time
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
