package model

import (
	"fmt"
	"sort"
)

// PartitionRange is one half-open [Start, End) slice of a run's input
// domain, owned by exactly one chunk loop.
type PartitionRange struct {
	Index int
	Start int64
	End   int64
}

// Count returns the number of positions covered by the range.
func (pr PartitionRange) Count() int64 {
	return pr.End - pr.Start
}

// String returns a readable form of the range.
func (pr PartitionRange) String() string {
	return fmt.Sprintf("partition%d[%d,%d)", pr.Index, pr.Start, pr.End)
}

// PartitionPlan is a set of partition ranges covering a run's input
// domain. A valid plan is disjoint, gap-free and union-complete over
// [DomainStart, DomainEnd).
type PartitionPlan struct {
	DomainStart int64
	DomainEnd   int64
	Ranges      []PartitionRange
}

// Validate checks the plan's structural invariants: at least one range,
// contiguous indexes starting at zero, no overlaps, no gaps, and exact
// coverage of the domain.
func (pp PartitionPlan) Validate() error {
	if len(pp.Ranges) == 0 {
		return fmt.Errorf("partition plan has no ranges")
	}
	if pp.DomainEnd < pp.DomainStart {
		return fmt.Errorf("partition plan domain end %d precedes start %d", pp.DomainEnd, pp.DomainStart)
	}

	ranges := make([]PartitionRange, len(pp.Ranges))
	copy(ranges, pp.Ranges)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	seen := make(map[int]bool, len(ranges))
	for _, r := range ranges {
		if r.End < r.Start {
			return fmt.Errorf("%s: end precedes start", r)
		}
		if r.Index < 0 || r.Index >= len(ranges) {
			return fmt.Errorf("%s: index out of bounds for %d partitions", r, len(ranges))
		}
		if seen[r.Index] {
			return fmt.Errorf("%s: duplicate partition index", r)
		}
		seen[r.Index] = true
	}

	if ranges[0].Start != pp.DomainStart {
		return fmt.Errorf("partition plan does not start at domain start %d (first range starts at %d)", pp.DomainStart, ranges[0].Start)
	}
	for i := 1; i < len(ranges); i++ {
		prev, cur := ranges[i-1], ranges[i]
		if cur.Start < prev.End {
			return fmt.Errorf("%s overlaps %s", cur, prev)
		}
		if cur.Start > prev.End {
			return fmt.Errorf("gap between %s and %s", prev, cur)
		}
	}
	if last := ranges[len(ranges)-1]; last.End != pp.DomainEnd {
		return fmt.Errorf("partition plan does not end at domain end %d (last range ends at %d)", pp.DomainEnd, last.End)
	}
	return nil
}

// SplitEvenly builds a plan of n contiguous ranges over
// [domainStart, domainEnd). The remainder is spread across the leading
// ranges so sizes differ by at most one.
func SplitEvenly(domainStart, domainEnd int64, n int) (PartitionPlan, error) {
	if n <= 0 {
		return PartitionPlan{}, fmt.Errorf("partition count must be positive, got %d", n)
	}
	if domainEnd < domainStart {
		return PartitionPlan{}, fmt.Errorf("domain end %d precedes start %d", domainEnd, domainStart)
	}

	total := domainEnd - domainStart
	base := total / int64(n)
	extra := total % int64(n)

	plan := PartitionPlan{
		DomainStart: domainStart,
		DomainEnd:   domainEnd,
		Ranges:      make([]PartitionRange, 0, n),
	}
	cursor := domainStart
	for i := 0; i < n; i++ {
		size := base
		if int64(i) < extra {
			size++
		}
		plan.Ranges = append(plan.Ranges, PartitionRange{Index: i, Start: cursor, End: cursor + size})
		cursor += size
	}
	return plan, nil
}
