package partition

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	fault "github.com/windrowio/windrow/pkg/windrow/core/fault"
	ledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	metrics "github.com/windrowio/windrow/pkg/windrow/core/metrics"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
	workunit "github.com/windrowio/windrow/pkg/windrow/core/workunit"
	"github.com/windrowio/windrow/pkg/windrow/engine/chunk"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// Executor runs one step of a run: it fans the step's partition plan
// out over a bounded pool of chunk loops and aggregates their outcomes.
type Executor struct {
	Ledger   ledger.Ledger
	Recorder metrics.Recorder
	Tracer   metrics.Tracer
}

// NewExecutor creates an Executor. Nil Recorder/Tracer default to no-ops.
func NewExecutor(led ledger.Ledger, recorder metrics.Recorder, tracer metrics.Tracer) *Executor {
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Executor{Ledger: led, Recorder: recorder, Tracer: tracer}
}

// Request carries everything one step execution needs.
type Request struct {
	WorkUnit    string
	ExecutionID string
	Definition  workunit.Definition
	Plan        model.PartitionPlan
	// Prior holds the checkpoints inherited from earlier attempts.
	// Completed partitions are not re-run.
	Prior  model.CheckpointMap
	Policy *fault.Policy
	Stop   *port.StopSignal
	Hooks  port.ChunkHooks
	Params model.RunParameters
}

// partResult is the outcome of one partition's loop.
type partResult struct {
	outcome chunk.Outcome
	err     error
}

// Execute runs every incomplete partition of the plan and returns the
// aggregated step outcome. Failed partitions never undo the work of
// partitions that completed: their checkpoints stay in the ledger and
// a later attempt resumes only the unfinished ranges.
//
// Aggregation: any failure makes the step FAILED; otherwise any stopped
// partition makes it STOPPED; otherwise COMPLETED.
func (e *Executor) Execute(ctx context.Context, req Request) (chunk.Outcome, error) {
	def := req.Definition
	results := make([]partResult, len(req.Plan.Ranges))

	pool := NewPool(def.Workers())
	var wg sync.WaitGroup

	for i, rng := range req.Plan.Ranges {
		var prior *model.CheckpointState
		if req.Prior != nil {
			if cp, ok := req.Prior.Get(def.Name, rng.Index); ok {
				prior = cp
			}
		}
		if prior != nil && prior.Completed {
			logger.Debugf("Step '%s' %s already completed in a prior attempt, skipping.", def.Name, rng)
			results[i] = partResult{outcome: chunk.OutcomeCompleted}
			continue
		}

		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			results[i] = e.runPartition(ctx, req, rng, prior)
		})
	}

	wg.Wait()
	pool.Close()

	outcome := chunk.OutcomeCompleted
	var merr *multierror.Error
	for i, res := range results {
		if res.err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", req.Plan.Ranges[i], res.err))
		}
		switch res.outcome {
		case chunk.OutcomeFailed:
			outcome = chunk.OutcomeFailed
		case chunk.OutcomeStopped:
			if outcome != chunk.OutcomeFailed {
				outcome = chunk.OutcomeStopped
			}
		}
	}
	return outcome, merr.ErrorOrNil()
}

// runPartition builds the partition's source and sink and drives its
// chunk loop to a terminal outcome.
func (e *Executor) runPartition(ctx context.Context, req Request, rng model.PartitionRange, prior *model.CheckpointState) partResult {
	def := req.Definition

	source, err := def.NewSource(ctx, rng, req.Params)
	if err != nil {
		return partResult{outcome: chunk.OutcomeFailed, err: fault.Fatal("partition", fmt.Sprintf("failed to build source for step '%s' %s", def.Name, rng), err)}
	}
	sink, err := def.NewSink(ctx, rng, req.Params)
	if err != nil {
		if cerr := source.Close(ctx); cerr != nil {
			logger.Warnf("Failed to close source for step '%s' %s: %v", def.Name, rng, cerr)
		}
		return partResult{outcome: chunk.OutcomeFailed, err: fault.Fatal("partition", fmt.Sprintf("failed to build sink for step '%s' %s", def.Name, rng), err)}
	}

	loop := chunk.New(chunk.Config{
		WorkUnit:    req.WorkUnit,
		Step:        def.Name,
		ExecutionID: req.ExecutionID,
		Partition:   rng,
		ChunkSize:   def.ChunkSize,
		Source:      source,
		Transform:   def.Transform,
		Sink:        sink,
		Policy:      req.Policy,
		Ledger:      e.Ledger,
		Stop:        req.Stop,
		Hooks:       req.Hooks,
		Recorder:    e.Recorder,
		Tracer:      e.Tracer,
	})

	outcome, _, err := loop.Run(ctx, prior)
	return partResult{outcome: outcome, err: err}
}
