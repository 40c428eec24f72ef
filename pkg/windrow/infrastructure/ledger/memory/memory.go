// Package memory provides an in-memory Ledger, used for tests and for
// embedding the engine without external storage. All state is guarded
// by one mutex and reads return deep copies so callers can never
// mutate the store through a leaked pointer.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	ledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// Ledger is the in-memory implementation of ledger.Ledger.
type Ledger struct {
	mu         sync.Mutex
	records    map[string]*model.ExecutionRecord
	byIdentity map[string][]string
	skips      map[string][]model.SkipRecord
}

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		records:    make(map[string]*model.ExecutionRecord),
		byIdentity: make(map[string][]string),
		skips:      make(map[string][]model.SkipRecord),
	}
}

var _ ledger.Ledger = (*Ledger)(nil)

// Begin implements ledger.Ledger. The mutex makes the resolve-and-insert
// atomic, so concurrent starts of one identity admit exactly one record.
func (l *Ledger) Begin(ctx context.Context, identity model.RunIdentity, params model.RunParameters) (*model.ExecutionRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev *model.ExecutionRecord
	if ids := l.byIdentity[identity.Key()]; len(ids) > 0 {
		prev = l.records[ids[len(ids)-1]]
	}

	rec, created, err := ledger.NextAttempt(prev, identity, params)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return copyRecord(rec), false, nil
	}

	l.records[rec.ID] = copyRecord(rec)
	l.byIdentity[identity.Key()] = append(l.byIdentity[identity.Key()], rec.ID)
	logger.Debugf("Ledger admitted execution %s for run '%s' (attempt %d).", rec.ID, identity.Key(), rec.RestartCount+1)
	return rec, true, nil
}

// Update implements ledger.Ledger. The version check mirrors the SQL
// store's optimistic lock so both backends honor one contract.
func (l *Ledger) Update(ctx context.Context, record *model.ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.records[record.ID]
	if !ok {
		return fmt.Errorf("execution %s: %w", record.ID, ledger.ErrExecutionNotFound)
	}
	if stored.Version != record.Version {
		return fmt.Errorf("%w (ID: %s, version: %d)", ledger.ErrConcurrentUpdate, record.ID, record.Version)
	}

	updated := copyRecord(record)
	// Checkpoints flow through Checkpoint(); keep the store's view when
	// the caller's copy is staler.
	if len(stored.Checkpoints) > len(updated.Checkpoints) {
		updated.Checkpoints = stored.Checkpoints.Clone()
	}
	updated.Version = stored.Version + 1
	l.records[record.ID] = updated
	record.Version++
	return nil
}

// Checkpoint implements ledger.Ledger.
func (l *Ledger) Checkpoint(ctx context.Context, executionID, step string, partition int, state *model.CheckpointState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[executionID]
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, ledger.ErrExecutionNotFound)
	}
	rec.Checkpoints.Put(step, partition, state.Clone())
	return nil
}

// Find implements ledger.Ledger.
func (l *Ledger) Find(ctx context.Context, executionID string) (*model.ExecutionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, ledger.ErrExecutionNotFound)
	}
	return copyRecord(rec), nil
}

// FindByIdentity implements ledger.Ledger.
func (l *Ledger) FindByIdentity(ctx context.Context, identity model.RunIdentity) (*model.ExecutionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := l.byIdentity[identity.Key()]
	if len(ids) == 0 {
		return nil, fmt.Errorf("run '%s': %w", identity.Key(), ledger.ErrExecutionNotFound)
	}
	return copyRecord(l.records[ids[len(ids)-1]]), nil
}

// AppendSkip implements ledger.Ledger.
func (l *Ledger) AppendSkip(ctx context.Context, rec model.SkipRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skips[rec.ExecutionID] = append(l.skips[rec.ExecutionID], rec)
	return nil
}

// SkipRecords implements ledger.Ledger.
func (l *Ledger) SkipRecords(ctx context.Context, executionID string) ([]model.SkipRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := append([]model.SkipRecord(nil), l.skips[executionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SkippedAt.Before(out[j].SkippedAt) })
	return out, nil
}

// CountSkips implements ledger.Ledger.
func (l *Ledger) CountSkips(ctx context.Context, executionID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.skips[executionID]), nil
}

// Close implements ledger.Ledger.
func (l *Ledger) Close() error {
	return nil
}

// copyRecord deep-copies an execution record.
func copyRecord(rec *model.ExecutionRecord) *model.ExecutionRecord {
	dup := *rec
	dup.Failures = append(model.FailureList(nil), rec.Failures...)
	dup.Checkpoints = rec.Checkpoints.Clone()
	if rec.Parameters.Params != nil {
		params := make(map[string]interface{}, len(rec.Parameters.Params))
		for k, v := range rec.Parameters.Params {
			params[k] = v
		}
		dup.Parameters = model.RunParameters{Params: params}
	}
	if rec.EndTime != nil {
		end := *rec.EndTime
		dup.EndTime = &end
	}
	return &dup
}
