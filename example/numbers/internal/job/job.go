// Package job defines the numbers example: a partitioned chunk job that
// squares a range of integers and accumulates the sum in a sink.
package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	config "github.com/windrowio/windrow/pkg/windrow/config"
	fault "github.com/windrowio/windrow/pkg/windrow/core/fault"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
	workunit "github.com/windrowio/windrow/pkg/windrow/core/workunit"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// rangeSource serves the integers of one partition range in order.
type rangeSource struct {
	rng    model.PartitionRange
	cursor int64
}

var _ port.Source = (*rangeSource)(nil)

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

// SumSink accumulates the sum of every committed value. One instance is
// shared across partitions, so it locks around the running total.
type SumSink struct {
	mu    sync.Mutex
	total int64
	count int64
}

func (s *SumSink) sink() port.Sink { return &sumSinkConn{parent: s} }

// Total returns the committed sum and value count.
func (s *SumSink) Total() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.count
}

type sumSinkConn struct {
	parent *SumSink
}

var _ port.Sink = (*sumSinkConn)(nil)

func (c *sumSinkConn) Open(ctx context.Context) error { return nil }

func (c *sumSinkConn) Commit(ctx context.Context, batch []any) error {
	var sum, n int64
	for _, item := range batch {
		v, ok := item.(int64)
		if !ok {
			return fmt.Errorf("unexpected item type %T in sink", item)
		}
		sum += v
		n++
	}
	c.parent.mu.Lock()
	c.parent.total += sum
	c.parent.count += n
	c.parent.mu.Unlock()
	return nil
}

func (c *sumSinkConn) Close(ctx context.Context) error { return nil }

// Numbers bundles the job definition with the sink holding its result.
type Numbers struct {
	Job  workunit.Job
	Sink *SumSink

	flaked atomic.Bool
}

// New builds the numbers job from the engine defaults in the
// configuration. The transform squares each value, drops multiples of
// ten and fails once transiently to demonstrate a retry.
func New(cfg *config.Config) *Numbers {
	n := &Numbers{Sink: &SumSink{}}
	engine := cfg.Windrow.Engine

	transform := port.TransformFunc(func(ctx context.Context, item any) (any, error) {
		v := item.(int64)
		if v%10 == 0 && v > 0 {
			return nil, nil
		}
		if v == 7 && n.flaked.CompareAndSwap(false, true) {
			return nil, fault.Transient("numbers", "simulated transient failure", nil)
		}
		return v * v, nil
	})

	n.Job = workunit.Job{
		Name: "numbers",
		Steps: []workunit.Definition{
			{
				Name:           "square",
				ChunkSize:      engine.ChunkSize,
				PartitionCount: 4,
				Concurrency:    engine.Concurrency,
				Domain:         &workunit.Domain{Start: 0, End: 250},
				Fault:          engine.PolicyConfig(),
				NewSource: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Source, error) {
					return &rangeSource{rng: rng}, nil
				},
				NewSink: func(ctx context.Context, rng model.PartitionRange, params model.RunParameters) (port.Sink, error) {
					return n.Sink.sink(), nil
				},
				Transform: transform,
			},
		},
	}
	return n
}

// Report logs the accumulated result.
func (n *Numbers) Report() {
	total, count := n.Sink.Total()
	logger.Infof("Numbers job committed %d values, sum of squares: %d", count, total)
}
