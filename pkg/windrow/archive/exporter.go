// Package archive exports the skip records of finished runs to parquet
// files in object storage, so skipped payloads can be inspected and
// replayed outside the ledger.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storage "github.com/windrowio/windrow/pkg/windrow/adapter/storage"
	ledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	port "github.com/windrowio/windrow/pkg/windrow/core/port"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// skipRow is the parquet schema of one archived skip record.
type skipRow struct {
	ExecutionID string `parquet:"name=execution_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Step        string `parquet:"name=step, type=BYTE_ARRAY, convertedtype=UTF8"`
	Partition   int32  `parquet:"name=partition, type=INT32"`
	Sequence    int64  `parquet:"name=sequence, type=INT64"`
	Payload     string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
	Category    string `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8"`
	Message     string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
	SkippedAt   int64  `parquet:"name=skipped_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// Exporter writes skip-record archives for execution attempts.
type Exporter struct {
	led   ledger.Ledger
	store storage.Store
}

// NewExporter creates an Exporter reading from the ledger and writing
// to the store.
func NewExporter(led ledger.Ledger, store storage.Store) *Exporter {
	return &Exporter{led: led, store: store}
}

// Export writes the execution's skip records as one snappy-compressed
// parquet object and returns its name. Executions without skips produce
// no object and an empty name.
func (e *Exporter) Export(ctx context.Context, record *model.ExecutionRecord) (string, error) {
	skips, err := e.led.SkipRecords(ctx, record.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load skip records for archive (execution: %s): %w", record.ID, err)
	}
	if len(skips) == 0 {
		return "", nil
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(skipRow), 2)
	if err != nil {
		return "", fmt.Errorf("failed to create parquet writer (execution: %s): %w", record.ID, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var merr *multierror.Error
	for _, skip := range skips {
		row := skipRow{
			ExecutionID: skip.ExecutionID,
			Step:        skip.Step,
			Partition:   int32(skip.Partition),
			Sequence:    skip.Sequence,
			Payload:     skip.Payload,
			Category:    skip.Category,
			Message:     skip.Message,
			SkippedAt:   skip.SkippedAt.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to write skip record (sequence: %d): %w", skip.Sequence, err))
		}
	}

	// The parquet library panics on some malformed schemas; convert that
	// to an error instead of tearing down the run goroutine.
	func() {
		defer func() {
			if r := recover(); r != nil {
				merr = multierror.Append(merr, fmt.Errorf("parquet writer panicked during finalize: %v", r))
			}
		}()
		if err := pw.WriteStop(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to finalize parquet file: %w", err))
		}
	}()
	if err := merr.ErrorOrNil(); err != nil {
		return "", err
	}

	objectName := path.Join("skips", record.WorkUnit,
		fmt.Sprintf("%s_attempt%d_%s.parquet", record.ID, record.RestartCount, time.Now().Format("20060102150405")))
	if err := e.store.Upload(ctx, objectName, buf); err != nil {
		return "", fmt.Errorf("failed to upload skip archive '%s': %w", objectName, err)
	}
	logger.Infof("Archived %d skip records to '%s'.", len(skips), objectName)
	return objectName, nil
}

// Hooks returns run hooks that archive skip records when an execution
// reaches a terminal state. Archive failures are logged, never fatal;
// the ledger keeps the records either way.
func (e *Exporter) Hooks() port.RunHooks {
	return port.RunHooks{
		OnRunEnd: func(ctx context.Context, record *model.ExecutionRecord) {
			if !record.Status.IsTerminal() {
				return
			}
			if _, err := e.Export(ctx, record); err != nil {
				logger.Errorf("Failed to archive skip records (execution: %s): %v", record.ID, err)
			}
		},
	}
}
