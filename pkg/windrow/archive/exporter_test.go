// Package archive_test provides unit tests for the skip-record parquet
// exporter.
package archive_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	local "github.com/windrowio/windrow/pkg/windrow/adapter/storage/local"
	archive "github.com/windrowio/windrow/pkg/windrow/archive"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	memory "github.com/windrowio/windrow/pkg/windrow/infrastructure/ledger/memory"
)

func beginExecution(t *testing.T) (*memory.Ledger, *model.ExecutionRecord) {
	t.Helper()
	led := memory.New()
	params := model.NewRunParameters()
	identity, err := model.NewRunIdentity("nightly", params)
	require.NoError(t, err)
	rec, created, err := led.Begin(context.Background(), identity, params)
	require.NoError(t, err)
	require.True(t, created)
	return led, rec
}

func appendSkip(t *testing.T, led *memory.Ledger, execID string, seq int64) {
	t.Helper()
	err := led.AppendSkip(context.Background(), model.SkipRecord{
		ID:          model.NewID(),
		ExecutionID: execID,
		Step:        "load",
		Partition:   0,
		Sequence:    seq,
		Payload:     "bad payload",
		Category:    "validation",
		Message:     "value out of range",
		SkippedAt:   time.Now(),
	})
	require.NoError(t, err)
}

func TestExportWritesParquetObject(t *testing.T) {
	led, rec := beginExecution(t)
	appendSkip(t, led, rec.ID, 3)
	appendSkip(t, led, rec.ID, 17)

	store, err := local.New(t.TempDir())
	require.NoError(t, err)

	name, err := archive.NewExporter(led, store).Export(context.Background(), rec)
	require.NoError(t, err)
	require.NotEmpty(t, name)

	rc, err := store.Download(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
}

func TestExportWithoutSkipsWritesNothing(t *testing.T) {
	led, rec := beginExecution(t)

	dir := t.TempDir()
	store, err := local.New(dir)
	require.NoError(t, err)

	name, err := archive.NewExporter(led, store).Export(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, name)

	var objects []string
	err = store.List(context.Background(), "", func(objectName string) error {
		objects = append(objects, objectName)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestHooksArchiveTerminalRuns(t *testing.T) {
	led, rec := beginExecution(t)
	appendSkip(t, led, rec.ID, 1)

	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	hooks := archive.NewExporter(led, store).Hooks()

	// A live run is not archived.
	rec.MarkAsStarted()
	hooks.OnRunEnd(context.Background(), rec)

	var objects []string
	collect := func(objectName string) error {
		objects = append(objects, objectName)
		return nil
	}
	require.NoError(t, store.List(context.Background(), "", collect))
	assert.Empty(t, objects)

	rec.MarkAsCompleted()
	hooks.OnRunEnd(context.Background(), rec)

	objects = nil
	require.NoError(t, store.List(context.Background(), "", collect))
	assert.Len(t, objects, 1)
}
