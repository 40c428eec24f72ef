// Package orchestrator drives runs end to end: it resolves the
// execution record through the ledger, walks the job's steps
// sequentially, owns the run's stop signal and settles the terminal
// status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	fault "github.com/windrowio/windrow/pkg/windrow/core/fault"
	ledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	metrics "github.com/windrowio/windrow/pkg/windrow/core/metrics"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
	workunit "github.com/windrowio/windrow/pkg/windrow/core/workunit"
	"github.com/windrowio/windrow/pkg/windrow/engine/chunk"
	"github.com/windrowio/windrow/pkg/windrow/engine/partition"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// ErrNotRunning is returned by Stop when the execution is not active in
// this orchestrator.
var ErrNotRunning = errors.New("execution is not running")

// activeRun tracks one live execution goroutine.
type activeRun struct {
	stop *port.StopSignal
	done chan struct{}
}

// Orchestrator starts, stops and reports runs. One Orchestrator serves
// many concurrent runs; each run owns its worker pool and stop signal.
type Orchestrator struct {
	led        ledger.Ledger
	recorder   metrics.Recorder
	tracer     metrics.Tracer
	runHooks   port.RunHooks
	chunkHooks port.ChunkHooks

	mu     sync.Mutex
	active map[string]*activeRun
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metric recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithRunHooks appends run lifecycle hooks.
func WithRunHooks(h port.RunHooks) Option {
	return func(o *Orchestrator) { o.runHooks = o.runHooks.Merge(h) }
}

// WithChunkHooks appends chunk-level hooks.
func WithChunkHooks(h port.ChunkHooks) Option {
	return func(o *Orchestrator) { o.chunkHooks = o.chunkHooks.Merge(h) }
}

// New creates an Orchestrator backed by the given ledger.
func New(led ledger.Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		led:      led,
		recorder: metrics.NewNoOpRecorder(),
		tracer:   metrics.NewNoOpTracer(),
		active:   make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins (or resumes) the job with the given parameters and
// returns the execution ID. Starting an identity that is already in
// flight returns the live execution's ID without side effects; an
// identity whose latest attempt FAILED or STOPPED resumes from its
// checkpoints; a COMPLETED identity returns ledger.ErrRunCompleted.
func (o *Orchestrator) Start(ctx context.Context, job workunit.Job, params model.RunParameters) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	identity, err := model.NewRunIdentity(job.Name, params)
	if err != nil {
		return "", err
	}

	rec, created, err := o.led.Begin(ctx, identity, params)
	if err != nil {
		return "", err
	}
	if !created {
		logger.Infof("Run '%s' is already in flight as execution %s, returning it.", identity.Key(), rec.ID)
		return rec.ID, nil
	}

	run := &activeRun{stop: port.NewStopSignal(), done: make(chan struct{})}
	o.mu.Lock()
	o.active[rec.ID] = run
	o.mu.Unlock()

	logger.Infof("Starting job '%s' execution %s (restart count %d) with parameters %s.",
		job.Name, rec.ID, rec.RestartCount, params)
	go o.run(rec, job, run)
	return rec.ID, nil
}

// Stop requests a graceful stop of a live execution. Chunk loops honor
// it at their next chunk boundary; the chunk in flight commits first.
func (o *Orchestrator) Stop(ctx context.Context, executionID string) error {
	o.mu.Lock()
	run, ok := o.active[executionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, ErrNotRunning)
	}

	rec, err := o.led.Find(ctx, executionID)
	if err != nil {
		return err
	}
	if rec.Status == model.StatusStarted {
		if terr := rec.MarkAsStopping(); terr == nil {
			// Losing the version race means the run goroutine is
			// settling already; the signal trip below still lands.
			if uerr := o.led.Update(ctx, rec); uerr != nil && !errors.Is(uerr, ledger.ErrConcurrentUpdate) {
				return uerr
			}
		}
	}

	run.stop.Trip()
	logger.Infof("Stop requested for execution %s; loops will halt at their next chunk boundary.", executionID)
	return nil
}

// Status is the external view of an execution.
type Status struct {
	ExecutionID     string
	WorkUnit        string
	State           model.RunStatus
	Counts          model.AggregateCounts
	SkipRecordCount int
	FailureCategory string
	Failures        []string
	RestartCount    int
	StartTime       time.Time
	EndTime         *time.Time
}

// Status reports the current state and counters of an execution.
func (o *Orchestrator) Status(ctx context.Context, executionID string) (Status, error) {
	rec, err := o.led.Find(ctx, executionID)
	if err != nil {
		return Status{}, err
	}
	skips, err := o.led.CountSkips(ctx, executionID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		ExecutionID:     rec.ID,
		WorkUnit:        rec.WorkUnit,
		State:           rec.Status,
		Counts:          rec.Counts(),
		SkipRecordCount: skips,
		FailureCategory: rec.FailureCategory,
		Failures:        append([]string(nil), rec.Failures...),
		RestartCount:    rec.RestartCount,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
	}, nil
}

// Wait blocks until the execution reaches a terminal state or the
// context is done.
func (o *Orchestrator) Wait(ctx context.Context, executionID string) error {
	o.mu.Lock()
	run, ok := o.active[executionID]
	o.mu.Unlock()
	if !ok {
		rec, err := o.led.Find(ctx, executionID)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			return nil
		}
		return fmt.Errorf("execution %s: %w", executionID, ErrNotRunning)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.done:
		return nil
	}
}

// run executes the job's steps sequentially in a dedicated goroutine.
// It is detached from the Start caller's context on purpose: the run
// survives the caller, and stopping goes through the StopSignal so no
// chunk is ever abandoned mid-flight.
func (o *Orchestrator) run(rec *model.ExecutionRecord, job workunit.Job, run *activeRun) {
	ctx := context.Background()
	defer func() {
		o.mu.Lock()
		delete(o.active, rec.ID)
		o.mu.Unlock()
		close(run.done)
	}()

	ctx, endSpan := o.tracer.StartRunSpan(ctx, rec)
	defer endSpan()

	rec.MarkAsStarted()
	if err := o.led.Update(ctx, rec); err != nil {
		logger.Errorf("Failed to persist STARTED status for execution %s: %v", rec.ID, err)
		o.settle(ctx, rec, chunk.OutcomeFailed, err)
		return
	}
	o.recorder.RecordRunStart(ctx, rec)
	if o.runHooks.OnRunStart != nil {
		o.runHooks.OnRunStart(ctx, rec)
	}

	outcome := chunk.OutcomeCompleted
	var runErr error

	executor := partition.NewExecutor(o.led, o.recorder, o.tracer)
	for _, step := range job.Steps {
		if run.stop.Tripped() {
			outcome = chunk.OutcomeStopped
			break
		}
		if rec.Checkpoints.StepCompleted(step.Name, step.Partitions()) {
			logger.Infof("Execution %s: step '%s' already completed in a prior attempt, skipping.", rec.ID, step.Name)
			continue
		}

		plan, err := partition.Plan(ctx, step, rec.Parameters)
		if err != nil {
			outcome, runErr = chunk.OutcomeFailed, err
			break
		}

		policy := fault.NewPolicy(step.Fault)
		policy.Seed(priorSkips(rec.Checkpoints, step))

		stepOutcome, err := executor.Execute(ctx, partition.Request{
			WorkUnit:    job.Name,
			ExecutionID: rec.ID,
			Definition:  step,
			Plan:        plan,
			Prior:       rec.Checkpoints,
			Policy:      policy,
			Stop:        run.stop,
			Hooks:       o.chunkHooks,
			Params:      rec.Parameters,
		})

		// Chunk loops checkpoint straight through the ledger; refresh
		// the local record so later steps and the final bookkeeping see
		// their progress.
		if fresh, ferr := o.led.Find(ctx, rec.ID); ferr == nil {
			rec.Checkpoints = fresh.Checkpoints
		} else {
			logger.Warnf("Failed to refresh execution %s after step '%s': %v", rec.ID, step.Name, ferr)
		}

		if stepOutcome == chunk.OutcomeFailed {
			// A failed step short-circuits the sequence. Checkpoints of
			// partitions that completed stay in the ledger.
			outcome, runErr = chunk.OutcomeFailed, err
			break
		}
		if stepOutcome == chunk.OutcomeStopped {
			outcome = chunk.OutcomeStopped
			break
		}
	}

	o.settle(ctx, rec, outcome, runErr)
}

// settleRetries bounds the re-reads settle performs when a concurrent
// writer (a Stop persisting STOPPING) advances the record's version.
const settleRetries = 3

// settle writes the terminal status and fires the end-of-run observers.
// Stop() updates the record concurrently with the run goroutine, so the
// terminal write always starts from the ledger's current version and
// status, retrying when it loses the race.
func (o *Orchestrator) settle(ctx context.Context, rec *model.ExecutionRecord, outcome chunk.Outcome, runErr error) {
	if outcome == chunk.OutcomeFailed {
		rec.FailureCategory = fault.Categorize(runErr).String()
	}

	for attempt := 0; ; attempt++ {
		if fresh, err := o.led.Find(ctx, rec.ID); err == nil {
			rec.Version = fresh.Version
			rec.Status = fresh.Status
			rec.Checkpoints = fresh.Checkpoints
		} else {
			logger.Warnf("Failed to refresh execution %s before settling: %v", rec.ID, err)
		}

		switch outcome {
		case chunk.OutcomeCompleted:
			rec.MarkAsCompleted()
		case chunk.OutcomeStopped:
			if rec.Status == model.StatusStarted {
				if err := rec.MarkAsStopping(); err != nil {
					logger.Warnf("Execution %s: %v", rec.ID, err)
				}
			}
			rec.MarkAsStopped()
		case chunk.OutcomeFailed:
			rec.MarkAsFailed(runErr)
		}

		err := o.led.Update(ctx, rec)
		if err == nil {
			break
		}
		if errors.Is(err, ledger.ErrConcurrentUpdate) && attempt < settleRetries {
			logger.Debugf("Execution %s: terminal update lost a version race, retrying.", rec.ID)
			continue
		}
		logger.Errorf("Failed to persist terminal status %s for execution %s: %v", rec.Status, rec.ID, err)
		break
	}
	o.recorder.RecordRunEnd(ctx, rec)
	if o.runHooks.OnRunEnd != nil {
		o.runHooks.OnRunEnd(ctx, rec)
	}
	if runErr != nil {
		o.tracer.RecordError(ctx, "orchestrator", runErr)
	}
	logger.Infof("Execution %s finished with status %s (%+v).", rec.ID, rec.Status, rec.Counts())
}

// priorSkips sums the skips a step accumulated in earlier attempts so
// the resumed run's ceiling counts them.
func priorSkips(checkpoints model.CheckpointMap, step workunit.Definition) int {
	total := 0
	for p := 0; p < step.Partitions(); p++ {
		if cp, ok := checkpoints.Get(step.Name, p); ok {
			total += cp.SkipCount
		}
	}
	return total
}
