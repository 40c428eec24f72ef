// Package memory_test provides unit tests for the in-memory ledger.
package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrowio/windrow/pkg/windrow/core/ledger"
	"github.com/windrowio/windrow/pkg/windrow/core/model"
	"github.com/windrowio/windrow/pkg/windrow/infrastructure/ledger/memory"
)

func identity(t *testing.T) (model.RunIdentity, model.RunParameters) {
	t.Helper()
	params := model.NewRunParameters()
	params.Put("input", "numbers.csv")
	id, err := model.NewRunIdentity("import-numbers", params)
	require.NoError(t, err)
	return id, params
}

func TestBeginCreatesFreshRecord(t *testing.T) {
	led := memory.New()
	id, params := identity(t)

	rec, created, err := led.Begin(context.Background(), id, params)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.StatusStarting, rec.Status)
	assert.Equal(t, id, rec.Identity())
}

func TestBeginIsIdempotentWhileInFlight(t *testing.T) {
	led := memory.New()
	id, params := identity(t)

	first, created, err := led.Begin(context.Background(), id, params)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := led.Begin(context.Background(), id, params)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestBeginAdmitsExactlyOneUnderConcurrency(t *testing.T) {
	led := memory.New()
	id, params := identity(t)

	const callers = 32
	var wg sync.WaitGroup
	createdCount := make(chan bool, callers)
	ids := make(chan string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, created, err := led.Begin(context.Background(), id, params)
			if !assert.NoError(t, err) {
				return
			}
			createdCount <- created
			ids <- rec.ID
		}()
	}
	wg.Wait()
	close(createdCount)
	close(ids)

	creations := 0
	for c := range createdCount {
		if c {
			creations++
		}
	}
	assert.Equal(t, 1, creations)

	seen := make(map[string]bool)
	for execID := range ids {
		seen[execID] = true
	}
	assert.Len(t, seen, 1)
}

func TestBeginAfterFailureInheritsCheckpoints(t *testing.T) {
	led := memory.New()
	id, params := identity(t)
	ctx := context.Background()

	rec, _, err := led.Begin(ctx, id, params)
	require.NoError(t, err)
	rec.MarkAsStarted()
	require.NoError(t, led.Update(ctx, rec))
	require.NoError(t, led.Checkpoint(ctx, rec.ID, "load", 0, &model.CheckpointState{Cursor: 100, ReadCount: 100, WriteCount: 100, Completed: true}))
	require.NoError(t, led.Checkpoint(ctx, rec.ID, "load", 1, &model.CheckpointState{Cursor: 30, ReadCount: 30, WriteCount: 30}))
	rec.MarkAsFailed(errors.New("partition 1 died"))
	require.NoError(t, led.Update(ctx, rec))

	next, created, err := led.Begin(ctx, id, params)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, rec.ID, next.ID)
	assert.Equal(t, 1, next.RestartCount)

	cp, ok := next.Checkpoints.Get("load", 0)
	require.True(t, ok)
	assert.True(t, cp.Completed)
	cp, ok = next.Checkpoints.Get("load", 1)
	require.True(t, ok)
	assert.Equal(t, int64(30), cp.Cursor)
}

func TestBeginAfterCompletionRefuses(t *testing.T) {
	led := memory.New()
	id, params := identity(t)
	ctx := context.Background()

	rec, _, err := led.Begin(ctx, id, params)
	require.NoError(t, err)
	rec.MarkAsStarted()
	rec.MarkAsCompleted()
	require.NoError(t, led.Update(ctx, rec))

	_, _, err = led.Begin(ctx, id, params)
	assert.ErrorIs(t, err, ledger.ErrRunCompleted)
}

func TestDifferentParametersAreDifferentRuns(t *testing.T) {
	led := memory.New()
	ctx := context.Background()

	a := model.NewRunParameters()
	a.Put("date", "2025-07-01")
	idA, err := model.NewRunIdentity("import", a)
	require.NoError(t, err)

	b := model.NewRunParameters()
	b.Put("date", "2025-07-02")
	idB, err := model.NewRunIdentity("import", b)
	require.NoError(t, err)

	recA, _, err := led.Begin(ctx, idA, a)
	require.NoError(t, err)
	recB, _, err := led.Begin(ctx, idB, b)
	require.NoError(t, err)
	assert.NotEqual(t, recA.ID, recB.ID)
}

func TestFindReturnsDeepCopy(t *testing.T) {
	led := memory.New()
	id, params := identity(t)
	ctx := context.Background()

	rec, _, err := led.Begin(ctx, id, params)
	require.NoError(t, err)
	require.NoError(t, led.Checkpoint(ctx, rec.ID, "load", 0, &model.CheckpointState{Cursor: 10}))

	got, err := led.Find(ctx, rec.ID)
	require.NoError(t, err)
	cp, ok := got.Checkpoints.Get("load", 0)
	require.True(t, ok)
	cp.Cursor = 999

	again, err := led.Find(ctx, rec.ID)
	require.NoError(t, err)
	cp, _ = again.Checkpoints.Get("load", 0)
	assert.Equal(t, int64(10), cp.Cursor)
}

func TestFindUnknownExecution(t *testing.T) {
	led := memory.New()
	_, err := led.Find(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrExecutionNotFound)

	id, _ := identity(t)
	_, err = led.FindByIdentity(context.Background(), id)
	assert.ErrorIs(t, err, ledger.ErrExecutionNotFound)
}

func TestSkipRecordsAppendInOrder(t *testing.T) {
	led := memory.New()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, led.AppendSkip(ctx, model.SkipRecord{
			ID:          model.NewID(),
			ExecutionID: "exec-1",
			Step:        "load",
			Sequence:    int64(i),
			SkippedAt:   base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	skips, err := led.SkipRecords(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, skips, 3)
	for i, s := range skips {
		assert.Equal(t, int64(i), s.Sequence)
	}

	n, err := led.CountSkips(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	led := memory.New()
	id, params := identity(t)
	ctx := context.Background()

	rec, _, err := led.Begin(ctx, id, params)
	require.NoError(t, err)

	// Another writer advances the record.
	other, err := led.Find(ctx, rec.ID)
	require.NoError(t, err)
	other.MarkAsStarted()
	require.NoError(t, led.Update(ctx, other))
	assert.Equal(t, 1, other.Version)

	// The stale copy loses the version race.
	rec.MarkAsStarted()
	err = led.Update(ctx, rec)
	assert.ErrorIs(t, err, ledger.ErrConcurrentUpdate)

	// Re-reading picks up the current version and succeeds.
	fresh, err := led.Find(ctx, rec.ID)
	require.NoError(t, err)
	fresh.MarkAsCompleted()
	require.NoError(t, led.Update(ctx, fresh))
	assert.Equal(t, 2, fresh.Version)
}

func TestUpdatePreservesNewerCheckpoints(t *testing.T) {
	led := memory.New()
	id, params := identity(t)
	ctx := context.Background()

	rec, _, err := led.Begin(ctx, id, params)
	require.NoError(t, err)

	// A chunk loop checkpoints while the orchestrator holds a stale copy.
	require.NoError(t, led.Checkpoint(ctx, rec.ID, "load", 0, &model.CheckpointState{Cursor: 50}))
	rec.MarkAsStarted()
	require.NoError(t, led.Update(ctx, rec))

	got, err := led.Find(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStarted, got.Status)
	cp, ok := got.Checkpoints.Get("load", 0)
	require.True(t, ok)
	assert.Equal(t, int64(50), cp.Cursor)
}
