package partition

import (
	"context"
	"fmt"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
	workunit "github.com/windrowio/windrow/pkg/windrow/core/workunit"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// Plan derives the partition plan of a step. The input domain comes
// from the step's explicit Domain when declared; otherwise a probe
// source is opened and asked for its size via port.Sized. The returned
// plan is validated: disjoint, gap-free and union-complete.
func Plan(ctx context.Context, def workunit.Definition, params model.RunParameters) (model.PartitionPlan, error) {
	var start, end int64
	if def.Domain != nil {
		start, end = def.Domain.Start, def.Domain.End
	} else {
		size, err := probeSize(ctx, def, params)
		if err != nil {
			return model.PartitionPlan{}, err
		}
		start, end = 0, size
	}

	plan, err := model.SplitEvenly(start, end, def.Partitions())
	if err != nil {
		return model.PartitionPlan{}, fmt.Errorf("failed to plan partitions for step '%s': %w", def.Name, err)
	}
	if err := plan.Validate(); err != nil {
		return model.PartitionPlan{}, fmt.Errorf("invalid partition plan for step '%s': %w", def.Name, err)
	}
	logger.Debugf("Planned %d partitions over [%d,%d) for step '%s'.", len(plan.Ranges), start, end, def.Name)
	return plan, nil
}

// probeSize builds a throwaway source covering the whole domain and
// asks it for its record count.
func probeSize(ctx context.Context, def workunit.Definition, params model.RunParameters) (int64, error) {
	src, err := def.NewSource(ctx, model.PartitionRange{Index: 0, Start: 0, End: 0}, params)
	if err != nil {
		return 0, fmt.Errorf("failed to build probe source for step '%s': %w", def.Name, err)
	}
	defer func() {
		if cerr := src.Close(ctx); cerr != nil {
			logger.Warnf("Failed to close probe source for step '%s': %v", def.Name, cerr)
		}
	}()

	sized, ok := src.(port.Sized)
	if !ok {
		return 0, fmt.Errorf("step '%s' declares no domain and its source does not report a size", def.Name)
	}
	size, err := sized.Size(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to size the input of step '%s': %w", def.Name, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("step '%s' source reported a negative size %d", def.Name, size)
	}
	return size, nil
}
