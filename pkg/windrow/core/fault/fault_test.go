// Package fault_test provides unit tests for error classification and
// the retry/skip policy.
package fault_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/windrowio/windrow/pkg/windrow/core/fault"
)

func TestCategorizeWalksErrorChain(t *testing.T) {
	inner := fault.Transient("source", "connection reset", errors.New("ECONNRESET"))
	wrapped := fmt.Errorf("pulling chunk: %w", inner)
	assert.Equal(t, fault.CategoryTransient, fault.Categorize(wrapped))
}

func TestCategorizeFailsClosed(t *testing.T) {
	assert.Equal(t, fault.CategoryFatal, fault.Categorize(errors.New("mystery")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("bad row")
	err := fault.Validation("transform", "unparsable record", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "transform")
}

func TestDefaultTableOutcomes(t *testing.T) {
	p := fault.NewPolicy(fault.PolicyConfig{RetryLimit: 3, SkipLimit: 10})

	assert.Equal(t, fault.OutcomeRetry, p.Classify(fault.Transient("sink", "timeout", nil)))
	assert.Equal(t, fault.OutcomeSkip, p.Exhausted(fault.Transient("sink", "timeout", nil)))
	assert.Equal(t, fault.OutcomeSkip, p.Classify(fault.Validation("transform", "bad", nil)))
	assert.Equal(t, fault.OutcomeFatal, p.Classify(fault.Fatal("ledger", "gone", nil)))
	assert.Equal(t, fault.OutcomeFatal, p.Classify(errors.New("unmapped")))
	assert.Equal(t, fault.OutcomeFatal, p.Exhausted(errors.New("unmapped")))
}

func TestCustomTableOverridesDefault(t *testing.T) {
	table := fault.Table{
		fault.CategoryTransient: {On: fault.OutcomeRetry, Exhausted: fault.OutcomeFatal},
	}
	p := fault.NewPolicy(fault.PolicyConfig{Table: table})

	assert.Equal(t, fault.OutcomeFatal, p.Exhausted(fault.Transient("sink", "timeout", nil)))
	// Categories the custom table leaves out stay fatal.
	assert.Equal(t, fault.OutcomeFatal, p.Classify(fault.Validation("transform", "bad", nil)))
}

func TestSkipCeilingIsGlobal(t *testing.T) {
	p := fault.NewPolicy(fault.PolicyConfig{SkipLimit: 2})

	assert.True(t, p.AllowSkip())
	assert.Equal(t, 1, p.RecordSkip())
	assert.True(t, p.AllowSkip())
	assert.Equal(t, 2, p.RecordSkip())
	assert.False(t, p.AllowSkip())
	assert.Equal(t, 2, p.SkipCount())
}

func TestSkipLimitZeroForbidsSkips(t *testing.T) {
	p := fault.NewPolicy(fault.PolicyConfig{SkipLimit: 0})
	assert.False(t, p.AllowSkip())
}

func TestNegativeSkipLimitIsUnlimited(t *testing.T) {
	p := fault.NewPolicy(fault.PolicyConfig{SkipLimit: -1})
	for i := 0; i < 100; i++ {
		assert.True(t, p.AllowSkip())
		p.RecordSkip()
	}
}

func TestTrySkipClaimsAtomically(t *testing.T) {
	p := fault.NewPolicy(fault.PolicyConfig{SkipLimit: 3})

	for i := 1; i <= 3; i++ {
		total, ok := p.TrySkip()
		assert.True(t, ok)
		assert.Equal(t, i, total)
	}
	total, ok := p.TrySkip()
	assert.False(t, ok)
	assert.Equal(t, 3, total)
}

func TestSeedCountsPriorAttempts(t *testing.T) {
	p := fault.NewPolicy(fault.PolicyConfig{SkipLimit: 5})
	p.Seed(4)
	assert.True(t, p.AllowSkip())
	p.RecordSkip()
	assert.False(t, p.AllowSkip())
}

func TestBackoffGrowsGeometricallyWithCap(t *testing.T) {
	p := fault.NewPolicy(fault.PolicyConfig{
		BackoffInitial:    100 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        time.Second,
	})

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(10))
}

func TestBackoffZeroInitialMeansNoDelay(t *testing.T) {
	p := fault.NewPolicy(fault.PolicyConfig{})
	assert.Zero(t, p.Backoff(1))
	assert.Zero(t, p.Backoff(5))
}
