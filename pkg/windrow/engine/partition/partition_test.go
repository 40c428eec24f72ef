// Package partition_test provides unit tests for partition planning,
// the bounded worker pool and the fan-out step executor.
package partition_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrowio/windrow/pkg/windrow/core/fault"
	"github.com/windrowio/windrow/pkg/windrow/core/ledger"
	"github.com/windrowio/windrow/pkg/windrow/core/model"
	"github.com/windrowio/windrow/pkg/windrow/core/port"
	"github.com/windrowio/windrow/pkg/windrow/core/workunit"
	"github.com/windrowio/windrow/pkg/windrow/engine/chunk"
	"github.com/windrowio/windrow/pkg/windrow/engine/partition"
)

// --- Fakes ---

// rangeSource serves the integers of its assigned range.
type rangeSource struct {
	rng    model.PartitionRange
	cursor int64
	total  int64 // reported by Size for planner probes
}

func (s *rangeSource) Open(ctx context.Context, cursor int64) error {
	s.cursor = s.rng.Start + cursor
	return nil
}

func (s *rangeSource) Pull(ctx context.Context, n int) ([]any, error) {
	if s.cursor >= s.rng.End {
		return nil, port.ErrEndOfInput
	}
	batch := make([]any, 0, n)
	for len(batch) < n && s.cursor < s.rng.End {
		batch = append(batch, s.cursor)
		s.cursor++
	}
	return batch, nil
}

func (s *rangeSource) Close(ctx context.Context) error { return nil }

func (s *rangeSource) Size(ctx context.Context) (int64, error) { return s.total, nil }

// collectSink gathers everything committed across all partitions.
type collectSink struct {
	mu    *sync.Mutex
	into  *[]any
	fail  func(batch []any) error
	delay time.Duration
}

func (s *collectSink) Open(ctx context.Context) error { return nil }

func (s *collectSink) Commit(ctx context.Context, batch []any) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail != nil {
		if err := s.fail(batch); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.into = append(*s.into, batch...)
	return nil
}

func (s *collectSink) Close(ctx context.Context) error { return nil }

// memLedger is a minimal thread-safe ledger for executor tests.
type memLedger struct {
	mu          sync.Mutex
	checkpoints model.CheckpointMap
	skips       []model.SkipRecord
}

func newMemLedger() *memLedger {
	return &memLedger{checkpoints: model.NewCheckpointMap()}
}

func (m *memLedger) Begin(ctx context.Context, identity model.RunIdentity, params model.RunParameters) (*model.ExecutionRecord, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (m *memLedger) Update(ctx context.Context, record *model.ExecutionRecord) error { return nil }

func (m *memLedger) Checkpoint(ctx context.Context, executionID, step string, p int, state *model.CheckpointState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints.Put(step, p, state.Clone())
	return nil
}

func (m *memLedger) Find(ctx context.Context, executionID string) (*model.ExecutionRecord, error) {
	return nil, ledger.ErrExecutionNotFound
}

func (m *memLedger) FindByIdentity(ctx context.Context, identity model.RunIdentity) (*model.ExecutionRecord, error) {
	return nil, ledger.ErrExecutionNotFound
}

func (m *memLedger) AppendSkip(ctx context.Context, rec model.SkipRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skips = append(m.skips, rec)
	return nil
}

func (m *memLedger) SkipRecords(ctx context.Context, executionID string) ([]model.SkipRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SkipRecord(nil), m.skips...), nil
}

func (m *memLedger) CountSkips(ctx context.Context, executionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.skips), nil
}

func (m *memLedger) Close() error { return nil }

var _ ledger.Ledger = (*memLedger)(nil)

func identityTransform() port.Transform {
	return port.TransformFunc(func(ctx context.Context, item any) (any, error) {
		return item, nil
	})
}

// --- Pool tests ---

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := partition.NewPool(3)
	var active, peak int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			cur := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt64(&active, -1)
		})
	}
	wg.Wait()
	pool.Close()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	pool := partition.NewPool(1)
	done := make(chan struct{})
	pool.Submit(func() { close(done) })
	<-done
	pool.Close()
	pool.Close()
}

// --- Planner tests ---

func stepDef(partitions int, domain *workunit.Domain, sized int64) workunit.Definition {
	return workunit.Definition{
		Name:           "load",
		ChunkSize:      10,
		PartitionCount: partitions,
		Domain:         domain,
		NewSource: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error) {
			return &rangeSource{rng: rng, total: sized}, nil
		},
		NewSink: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Sink, error) {
			return &collectSink{mu: &sync.Mutex{}, into: &[]any{}}, nil
		},
		Transform: identityTransform(),
	}
}

func TestPlanFromExplicitDomain(t *testing.T) {
	def := stepDef(4, &workunit.Domain{Start: 0, End: 100}, 0)
	plan, err := partition.Plan(context.Background(), def, model.NewRunParameters())
	require.NoError(t, err)
	require.NoError(t, plan.Validate())
	assert.Len(t, plan.Ranges, 4)
	assert.Equal(t, int64(100), plan.DomainEnd)
}

func TestPlanProbesSizedSource(t *testing.T) {
	def := stepDef(3, nil, 75)
	plan, err := partition.Plan(context.Background(), def, model.NewRunParameters())
	require.NoError(t, err)
	require.NoError(t, plan.Validate())
	assert.Equal(t, int64(75), plan.DomainEnd)
}

func TestPlanFailsWithoutDomainOrSize(t *testing.T) {
	def := stepDef(2, nil, 0)
	def.NewSource = func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error) {
		return unsizedSource{}, nil
	}
	_, err := partition.Plan(context.Background(), def, model.NewRunParameters())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not report a size")
}

type unsizedSource struct{}

func (unsizedSource) Open(ctx context.Context, cursor int64) error { return nil }
func (unsizedSource) Pull(ctx context.Context, n int) ([]any, error) {
	return nil, port.ErrEndOfInput
}
func (unsizedSource) Close(ctx context.Context) error { return nil }

// --- Executor tests ---

func TestExecutorProcessesAllPartitions(t *testing.T) {
	var mu sync.Mutex
	var collected []any

	def := workunit.Definition{
		Name:           "load",
		ChunkSize:      7,
		PartitionCount: 4,
		Concurrency:    2,
		Domain:         &workunit.Domain{Start: 0, End: 100},
		NewSource: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error) {
			return &rangeSource{rng: rng}, nil
		},
		NewSink: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Sink, error) {
			return &collectSink{mu: &mu, into: &collected}, nil
		},
		Transform: identityTransform(),
	}

	led := newMemLedger()
	exec := partition.NewExecutor(led, nil, nil)
	plan, err := partition.Plan(context.Background(), def, model.NewRunParameters())
	require.NoError(t, err)

	outcome, err := exec.Execute(context.Background(), partition.Request{
		WorkUnit:    "import",
		ExecutionID: "exec-1",
		Definition:  def,
		Plan:        plan,
		Policy:      fault.NewPolicy(fault.PolicyConfig{SkipLimit: 0}),
		Stop:        port.NewStopSignal(),
		Params:      model.NewRunParameters(),
	})
	require.NoError(t, err)
	assert.Equal(t, chunk.OutcomeCompleted, outcome)

	// Union-complete: every record of [0,100) lands exactly once.
	assert.Len(t, collected, 100)
	seen := make(map[int64]int)
	for _, v := range collected {
		seen[v.(int64)]++
	}
	for i := int64(0); i < 100; i++ {
		assert.Equal(t, 1, seen[i], "record %d", i)
	}

	// Per-partition checkpoints landed.
	for p := 0; p < 4; p++ {
		cp, ok := led.checkpoints.Get("load", p)
		require.True(t, ok, "partition %d", p)
		assert.True(t, cp.Completed)
	}
}

func TestExecutorFailedPartitionKeepsOthersWork(t *testing.T) {
	var mu sync.Mutex
	var collected []any

	def := workunit.Definition{
		Name:           "load",
		ChunkSize:      10,
		PartitionCount: 2,
		Domain:         &workunit.Domain{Start: 0, End: 40},
		NewSource: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error) {
			return &rangeSource{rng: rng}, nil
		},
		NewSink: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Sink, error) {
			sink := &collectSink{mu: &mu, into: &collected}
			if rng.Index == 1 {
				sink.fail = func(batch []any) error {
					return fault.Fatal("sink", "partition 1 sink is broken", nil)
				}
			}
			return sink, nil
		},
		Transform: identityTransform(),
	}

	led := newMemLedger()
	exec := partition.NewExecutor(led, nil, nil)
	plan, err := partition.Plan(context.Background(), def, model.NewRunParameters())
	require.NoError(t, err)

	outcome, err := exec.Execute(context.Background(), partition.Request{
		WorkUnit:    "import",
		ExecutionID: "exec-1",
		Definition:  def,
		Plan:        plan,
		Policy:      fault.NewPolicy(fault.PolicyConfig{SkipLimit: 0}),
		Stop:        port.NewStopSignal(),
		Params:      model.NewRunParameters(),
	})
	assert.Equal(t, chunk.OutcomeFailed, outcome)
	require.Error(t, err)

	// Partition 0 completed and its checkpoint survives the step failure.
	cp, ok := led.checkpoints.Get("load", 0)
	require.True(t, ok)
	assert.True(t, cp.Completed)
	mu.Lock()
	assert.Len(t, collected, 20)
	mu.Unlock()
}

func TestExecutorSkipsCompletedPartitionsOnResume(t *testing.T) {
	var mu sync.Mutex
	var collected []any
	var sourcesBuilt int32

	def := workunit.Definition{
		Name:           "load",
		ChunkSize:      10,
		PartitionCount: 3,
		Domain:         &workunit.Domain{Start: 0, End: 30},
		NewSource: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error) {
			atomic.AddInt32(&sourcesBuilt, 1)
			return &rangeSource{rng: rng}, nil
		},
		NewSink: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Sink, error) {
			return &collectSink{mu: &mu, into: &collected}, nil
		},
		Transform: identityTransform(),
	}

	prior := model.NewCheckpointMap()
	prior.Put("load", 0, &model.CheckpointState{Cursor: 10, ReadCount: 10, WriteCount: 10, Completed: true})
	prior.Put("load", 1, &model.CheckpointState{Cursor: 4, ReadCount: 4, WriteCount: 4})

	led := newMemLedger()
	exec := partition.NewExecutor(led, nil, nil)
	plan, err := partition.Plan(context.Background(), def, model.NewRunParameters())
	require.NoError(t, err)

	outcome, err := exec.Execute(context.Background(), partition.Request{
		WorkUnit:    "import",
		ExecutionID: "exec-2",
		Definition:  def,
		Plan:        plan,
		Prior:       prior,
		Policy:      fault.NewPolicy(fault.PolicyConfig{SkipLimit: 0}),
		Stop:        port.NewStopSignal(),
		Params:      model.NewRunParameters(),
	})
	require.NoError(t, err)
	assert.Equal(t, chunk.OutcomeCompleted, outcome)

	// Partition 0 was never re-run; partition 1 resumed mid-range.
	assert.Equal(t, int32(2), atomic.LoadInt32(&sourcesBuilt))
	mu.Lock()
	assert.Len(t, collected, 6+10) // remainder of partition 1 plus all of partition 2
	mu.Unlock()
}

func TestExecutorStopAggregates(t *testing.T) {
	var mu sync.Mutex
	var collected []any
	stop := port.NewStopSignal()
	stop.Trip()

	def := workunit.Definition{
		Name:           "load",
		ChunkSize:      5,
		PartitionCount: 2,
		Domain:         &workunit.Domain{Start: 0, End: 20},
		NewSource: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error) {
			return &rangeSource{rng: rng}, nil
		},
		NewSink: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Sink, error) {
			return &collectSink{mu: &mu, into: &collected}, nil
		},
		Transform: identityTransform(),
	}

	led := newMemLedger()
	exec := partition.NewExecutor(led, nil, nil)
	plan, err := partition.Plan(context.Background(), def, model.NewRunParameters())
	require.NoError(t, err)

	outcome, err := exec.Execute(context.Background(), partition.Request{
		WorkUnit:    "import",
		ExecutionID: "exec-1",
		Definition:  def,
		Plan:        plan,
		Policy:      fault.NewPolicy(fault.PolicyConfig{SkipLimit: 0}),
		Stop:        stop,
		Params:      model.NewRunParameters(),
	})
	require.NoError(t, err)
	assert.Equal(t, chunk.OutcomeStopped, outcome)
	assert.Empty(t, collected)
}

func TestGlobalSkipCeilingSharedAcrossPartitions(t *testing.T) {
	var mu sync.Mutex
	var collected []any

	// Every record fails validation; the run-wide ceiling of 5 must trip
	// regardless of which partitions consume it.
	def := workunit.Definition{
		Name:           "load",
		ChunkSize:      5,
		PartitionCount: 4,
		Domain:         &workunit.Domain{Start: 0, End: 40},
		NewSource: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error) {
			return &rangeSource{rng: rng}, nil
		},
		NewSink: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Sink, error) {
			return &collectSink{mu: &mu, into: &collected}, nil
		},
		Transform: port.TransformFunc(func(ctx context.Context, item any) (any, error) {
			return nil, fault.Validation("transform", "always bad", nil)
		}),
	}

	led := newMemLedger()
	exec := partition.NewExecutor(led, nil, nil)
	plan, err := partition.Plan(context.Background(), def, model.NewRunParameters())
	require.NoError(t, err)

	policy := fault.NewPolicy(fault.PolicyConfig{SkipLimit: 5})
	outcome, err := exec.Execute(context.Background(), partition.Request{
		WorkUnit:    "import",
		ExecutionID: "exec-1",
		Definition:  def,
		Plan:        plan,
		Policy:      policy,
		Stop:        port.NewStopSignal(),
		Params:      model.NewRunParameters(),
	})
	assert.Equal(t, chunk.OutcomeFailed, outcome)
	require.Error(t, err)
	assert.Equal(t, 5, policy.SkipCount())
	n, _ := led.CountSkips(context.Background(), "exec-1")
	assert.Equal(t, 5, n)
}
