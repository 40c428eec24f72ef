// Package metrics_test provides unit tests for the Prometheus recorder.
package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	metrics "github.com/windrowio/windrow/pkg/windrow/infrastructure/metrics"
)

func TestChunkAndItemCounters(t *testing.T) {
	r := metrics.NewPrometheusRecorder("windrow")
	ctx := context.Background()

	r.RecordChunkCommit(ctx, "nightly", "load", 100, 20*time.Millisecond)
	r.RecordChunkCommit(ctx, "nightly", "load", 50, 10*time.Millisecond)
	r.RecordItemRead(ctx, "nightly", "load", 150)
	r.RecordItemWrite(ctx, "nightly", "load", 148)
	r.RecordItemSkip(ctx, "nightly", "load", "validation")
	r.RecordItemFilter(ctx, "nightly", "load")
	r.RecordRetry(ctx, "nightly", "load", "transient")

	got, err := testutil.GatherAndCount(r.Registry(),
		"windrow_chunk_commit_total",
		"windrow_item_read_total",
		"windrow_item_skip_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestRunLifecycleMetrics(t *testing.T) {
	r := metrics.NewPrometheusRecorder("windrow")
	ctx := context.Background()

	identity, err := model.NewRunIdentity("nightly", model.NewRunParameters())
	require.NoError(t, err)
	record := model.NewExecutionRecord(identity, model.NewRunParameters())
	record.MarkAsStarted()
	r.RecordRunStart(ctx, record)

	record.MarkAsCompleted()
	r.RecordRunEnd(ctx, record)

	// One status series per observed status plus one duration series.
	got, err := testutil.GatherAndCount(r.Registry(), "windrow_run_status_total", "windrow_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}
