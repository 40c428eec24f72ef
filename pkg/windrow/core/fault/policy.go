package fault

import (
	"sync/atomic"
	"time"
)

// Outcome is the policy's decision for a classified failure.
type Outcome int

const (
	// OutcomeRetry retries the failing operation after a backoff.
	OutcomeRetry Outcome = iota
	// OutcomeSkip sets the offending record aside and continues.
	OutcomeSkip
	// OutcomeFatal ends the run.
	OutcomeFatal
)

// String returns the string representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "RETRY"
	case OutcomeSkip:
		return "SKIP"
	case OutcomeFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Rule maps a category to its outcome. Exhausted applies once the retry
// ceiling for the failure has been reached.
type Rule struct {
	On        Outcome
	Exhausted Outcome
}

// Table maps failure categories to rules. Categories absent from the
// table resolve to OutcomeFatal.
type Table map[Category]Rule

// DefaultTable returns the standard classification: transient failures
// retry and degrade to skip once retries run out, validation failures
// skip immediately, fatal failures end the run.
func DefaultTable() Table {
	return Table{
		CategoryTransient:  {On: OutcomeRetry, Exhausted: OutcomeSkip},
		CategoryValidation: {On: OutcomeSkip, Exhausted: OutcomeSkip},
		CategoryFatal:      {On: OutcomeFatal, Exhausted: OutcomeFatal},
	}
}

// Policy enforces the fault rules for one run. The skip counter is
// shared by every partition of the run, so the skip ceiling is global.
type Policy struct {
	table             Table
	retryLimit        int
	skipLimit         int
	backoffInitial    time.Duration
	backoffMultiplier float64
	backoffMax        time.Duration

	skipCount atomic.Int64
}

// PolicyConfig carries the explicit fault settings of a work unit.
type PolicyConfig struct {
	// Table maps categories to outcomes; nil means DefaultTable.
	Table Table
	// RetryLimit is the maximum retry attempts per failing operation.
	RetryLimit int
	// SkipLimit is the maximum skips per run. Zero forbids skipping;
	// a negative value removes the ceiling.
	SkipLimit int
	// BackoffInitial is the delay before the first retry.
	BackoffInitial time.Duration
	// BackoffMultiplier scales the delay per attempt; values below 1
	// are treated as 1.
	BackoffMultiplier float64
	// BackoffMax caps the delay. Zero means no cap.
	BackoffMax time.Duration
}

// NewPolicy creates a Policy from its configuration.
func NewPolicy(cfg PolicyConfig) *Policy {
	table := cfg.Table
	if table == nil {
		table = DefaultTable()
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return &Policy{
		table:             table,
		retryLimit:        cfg.RetryLimit,
		skipLimit:         cfg.SkipLimit,
		backoffInitial:    cfg.BackoffInitial,
		backoffMultiplier: multiplier,
		backoffMax:        cfg.BackoffMax,
	}
}

// Classify resolves the outcome for err on its first occurrence.
func (p *Policy) Classify(err error) Outcome {
	rule, ok := p.table[Categorize(err)]
	if !ok {
		return OutcomeFatal
	}
	return rule.On
}

// Exhausted resolves the outcome for err once its retries ran out.
func (p *Policy) Exhausted(err error) Outcome {
	rule, ok := p.table[Categorize(err)]
	if !ok {
		return OutcomeFatal
	}
	return rule.Exhausted
}

// RetryLimit returns the maximum retry attempts per failing operation.
func (p *Policy) RetryLimit() int {
	return p.retryLimit
}

// Backoff returns the delay before retry attempt number attempt
// (1-based), growing geometrically and capped at BackoffMax.
func (p *Policy) Backoff(attempt int) time.Duration {
	if p.backoffInitial <= 0 {
		return 0
	}
	delay := float64(p.backoffInitial)
	for i := 1; i < attempt; i++ {
		delay *= p.backoffMultiplier
		if p.backoffMax > 0 && delay >= float64(p.backoffMax) {
			return p.backoffMax
		}
	}
	d := time.Duration(delay)
	if p.backoffMax > 0 && d > p.backoffMax {
		return p.backoffMax
	}
	return d
}

// AllowSkip reports whether one more skip fits under the run's ceiling.
func (p *Policy) AllowSkip() bool {
	if p.skipLimit < 0 {
		return true
	}
	return p.skipCount.Load() < int64(p.skipLimit)
}

// RecordSkip counts a skip against the run's ceiling and returns the
// new total.
func (p *Policy) RecordSkip() int {
	return int(p.skipCount.Add(1))
}

// TrySkip atomically claims one skip under the ceiling. It returns the
// resulting total and true, or the current total and false when the
// ceiling has been reached. Partitions race on the counter, so the
// check and the claim must be one operation.
func (p *Policy) TrySkip() (int, bool) {
	for {
		cur := p.skipCount.Load()
		if p.skipLimit >= 0 && cur >= int64(p.skipLimit) {
			return int(cur), false
		}
		if p.skipCount.CompareAndSwap(cur, cur+1) {
			return int(cur + 1), true
		}
	}
}

// SkipCount returns the skips counted so far.
func (p *Policy) SkipCount() int {
	return int(p.skipCount.Load())
}

// SkipLimit returns the configured ceiling.
func (p *Policy) SkipLimit() int {
	return p.skipLimit
}

// Seed preloads the skip counter, used when a resumed run inherits
// skips from prior attempts' checkpoints.
func (p *Policy) Seed(count int) {
	p.skipCount.Store(int64(count))
}
