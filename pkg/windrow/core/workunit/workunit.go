// Package workunit defines the explicit configuration of batch work:
// steps with their sources, transforms, sinks and fault settings, and
// jobs composing steps sequentially. Construction is plain struct
// literals; there is no reflective wiring.
package workunit

import (
	"context"
	"fmt"

	fault "github.com/windrowio/windrow/pkg/windrow/core/fault"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
)

// SourceFactory builds the source for one partition range. Each
// partition of a step gets its own source instance.
type SourceFactory func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error)

// SinkFactory builds the sink for one partition range.
type SinkFactory func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Sink, error)

// Domain is an explicitly declared input domain [Start, End) for
// partition planning. Steps without a Domain must supply a source
// implementing port.Sized.
type Domain struct {
	Start int64
	End   int64
}

// Definition configures one chunk-oriented step.
type Definition struct {
	// Name identifies the step within its work unit. Checkpoints are
	// keyed by it, so it must be stable across restarts.
	Name string

	// ChunkSize is the maximum records per pull/commit cycle.
	ChunkSize int

	// PartitionCount splits the input domain; 0 or 1 runs unpartitioned.
	PartitionCount int

	// Concurrency bounds the partitions executing at once; 0 defaults
	// to PartitionCount.
	Concurrency int

	// Domain declares the input domain explicitly. When nil, the
	// planner probes the source for port.Sized.
	Domain *Domain

	// Fault configures retries, the skip ceiling and the outcome table
	// for the step.
	Fault fault.PolicyConfig

	NewSource SourceFactory
	NewSink   SinkFactory
	Transform port.Transform
}

// Validate checks the structural requirements of the definition.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("step definition has no name")
	}
	if d.ChunkSize <= 0 {
		return fmt.Errorf("step '%s': chunk size must be positive, got %d", d.Name, d.ChunkSize)
	}
	if d.PartitionCount < 0 {
		return fmt.Errorf("step '%s': partition count must not be negative, got %d", d.Name, d.PartitionCount)
	}
	if d.Concurrency < 0 {
		return fmt.Errorf("step '%s': concurrency must not be negative, got %d", d.Name, d.Concurrency)
	}
	if d.Domain != nil && d.Domain.End < d.Domain.Start {
		return fmt.Errorf("step '%s': domain end %d precedes start %d", d.Name, d.Domain.End, d.Domain.Start)
	}
	if d.NewSource == nil {
		return fmt.Errorf("step '%s': source factory is required", d.Name)
	}
	if d.NewSink == nil {
		return fmt.Errorf("step '%s': sink factory is required", d.Name)
	}
	if d.Transform == nil {
		return fmt.Errorf("step '%s': transform is required", d.Name)
	}
	return nil
}

// Partitions returns the effective partition count of the step.
func (d Definition) Partitions() int {
	if d.PartitionCount <= 0 {
		return 1
	}
	return d.PartitionCount
}

// Workers returns the effective worker pool size of the step.
func (d Definition) Workers() int {
	if d.Concurrency <= 0 {
		return d.Partitions()
	}
	if d.Concurrency > d.Partitions() {
		return d.Partitions()
	}
	return d.Concurrency
}

// Job is a named sequence of steps. Steps run in order; a FAILED step
// short-circuits the rest of the sequence.
type Job struct {
	Name  string
	Steps []Definition
}

// Validate checks the job and all of its steps.
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job has no name")
	}
	if len(j.Steps) == 0 {
		return fmt.Errorf("job '%s' has no steps", j.Name)
	}
	seen := make(map[string]bool, len(j.Steps))
	for _, step := range j.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("job '%s': %w", j.Name, err)
		}
		if seen[step.Name] {
			return fmt.Errorf("job '%s': duplicate step name '%s'", j.Name, step.Name)
		}
		seen[step.Name] = true
	}
	return nil
}
