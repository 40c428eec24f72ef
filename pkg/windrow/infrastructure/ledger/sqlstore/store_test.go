// Package sqlstore_test provides unit tests for the SQL ledger store
// against a mocked database connection.
package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	ledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	sqlstore "github.com/windrowio/windrow/pkg/windrow/infrastructure/ledger/sqlstore"
)

// setupStoreMock wires a Store onto a sqlmock-backed GORM connection.
// The default transaction is skipped so expectations stay focused on
// the statements under test.
func setupStoreMock(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	cleanup := func() {
		mock.ExpectClose()
		sqlDB.Close()
	}
	return sqlstore.New(gormDB), mock, cleanup
}

func TestCheckpointUpserts(t *testing.T) {
	store, mock, cleanup := setupStoreMock(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO `windrow_checkpoint`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	state := &model.CheckpointState{Cursor: 100, ChunkSequence: 1, ReadCount: 100, WriteCount: 100}
	err := store.Checkpoint(context.Background(), "exec-1", "load", 0, state)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSkipInserts(t *testing.T) {
	store, mock, cleanup := setupStoreMock(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO `windrow_skip_record`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AppendSkip(context.Background(), model.SkipRecord{
		ID:          model.NewID(),
		ExecutionID: "exec-1",
		Step:        "load",
		Sequence:    7,
		Category:    "validation",
		Message:     "bad record",
		SkippedAt:   time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountSkips(t *testing.T) {
	store, mock, cleanup := setupStoreMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `windrow_skip_record`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(3))

	count, err := store.CountSkips(context.Background(), "exec-1")
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindNotFound(t *testing.T) {
	store, mock, cleanup := setupStoreMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT \\* FROM `windrow_execution`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Find(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrExecutionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIncrementsVersion(t *testing.T) {
	store, mock, cleanup := setupStoreMock(t)
	defer cleanup()

	mock.ExpectExec("UPDATE `windrow_execution` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	identity, err := model.NewRunIdentity("nightly", model.NewRunParameters())
	require.NoError(t, err)
	record := model.NewExecutionRecord(identity, model.NewRunParameters())
	record.MarkAsStarted()

	err = store.Update(context.Background(), record)
	assert.NoError(t, err)
	assert.Equal(t, 1, record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDetectsConcurrentWriter(t *testing.T) {
	store, mock, cleanup := setupStoreMock(t)
	defer cleanup()

	mock.ExpectExec("UPDATE `windrow_execution` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `windrow_execution`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))

	identity, err := model.NewRunIdentity("nightly", model.NewRunParameters())
	require.NoError(t, err)
	record := model.NewExecutionRecord(identity, model.NewRunParameters())

	err = store.Update(context.Background(), record)
	assert.ErrorIs(t, err, ledger.ErrConcurrentUpdate)
	assert.Equal(t, 0, record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUnknownExecution(t *testing.T) {
	store, mock, cleanup := setupStoreMock(t)
	defer cleanup()

	mock.ExpectExec("UPDATE `windrow_execution` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `windrow_execution`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))

	identity, err := model.NewRunIdentity("nightly", model.NewRunParameters())
	require.NoError(t, err)
	record := model.NewExecutionRecord(identity, model.NewRunParameters())

	err = store.Update(context.Background(), record)
	assert.ErrorIs(t, err, ledger.ErrExecutionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
