// Package sqlstore implements the execution ledger on a relational
// database through GORM. It supports the sqlite, postgres and mysql
// drivers registered by the database adapter packages.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	database "github.com/windrowio/windrow/pkg/windrow/adapter/database"
	config "github.com/windrowio/windrow/pkg/windrow/config"
	ledger "github.com/windrowio/windrow/pkg/windrow/core/ledger"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
	logger "github.com/windrowio/windrow/pkg/windrow/support/logger"
)

// Store is the SQL-backed Ledger.
type Store struct {
	db *gorm.DB
}

var _ ledger.Ledger = (*Store)(nil)

// New wraps an open GORM connection in a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the configured database, applies the schema
// migrations and returns a ready Store.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, cfg.Driver); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return New(db), nil
}

// Begin atomically resolves the execution record to run for an
// identity. The whole resolution runs in one transaction, so concurrent
// Begins serialize on the database and admit exactly one attempt. On
// restart the prior attempt's checkpoint rows are copied to the new
// execution so completed partitions are not re-run.
func (s *Store) Begin(ctx context.Context, identity model.RunIdentity, params model.RunParameters) (*model.ExecutionRecord, bool, error) {
	var record *model.ExecutionRecord
	var created bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev, prevCheckpoints, err := latestForIdentity(tx, identity)
		if err != nil {
			return err
		}

		next, isNew, err := ledger.NextAttempt(prev, identity, params)
		if err != nil {
			return err
		}
		record, created = next, isNew

		if !isNew {
			return nil
		}
		if err := tx.Create(fromDomainExecution(next)).Error; err != nil {
			return fmt.Errorf("failed to create execution record: %w", err)
		}
		// Inherited checkpoints are re-keyed to the new execution.
		for i := range prevCheckpoints {
			cp := prevCheckpoints[i]
			cp.ExecutionID = next.ID
			if err := tx.Create(&cp).Error; err != nil {
				return fmt.Errorf("failed to copy checkpoint to new attempt: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return record, created, nil
}

// Update persists the record's status, failure bookkeeping and
// timestamps with an optimistic version check.
func (s *Store) Update(ctx context.Context, record *model.ExecutionRecord) error {
	res := s.db.WithContext(ctx).
		Model(&ExecutionEntity{}).
		Where("id = ? AND version = ?", record.ID, record.Version).
		Updates(map[string]interface{}{
			"status":           record.Status,
			"failure_category": record.FailureCategory,
			"failures":         record.Failures,
			"start_time":       record.StartTime,
			"end_time":         record.EndTime,
			"restart_count":    record.RestartCount,
			"last_updated":     record.LastUpdated,
			"version":          record.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update execution record (ID: %s): %w", record.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&ExecutionEntity{}).Where("id = ?", record.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check execution record (ID: %s): %w", record.ID, err)
		}
		if count == 0 {
			return ledger.ErrExecutionNotFound
		}
		return fmt.Errorf("%w (ID: %s, version: %d)", ledger.ErrConcurrentUpdate, record.ID, record.Version)
	}
	record.Version++
	return nil
}

// Checkpoint upserts the progress row of one (step, partition) slice.
func (s *Store) Checkpoint(ctx context.Context, executionID, step string, partition int, state *model.CheckpointState) error {
	entity := &CheckpointEntity{
		ExecutionID:    executionID,
		Step:           step,
		PartitionIndex: partition,
		State:          *state,
		LastUpdated:    time.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}, {Name: "step"}, {Name: "partition_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "last_updated"}),
		}).
		Create(entity).Error
	if err != nil {
		return fmt.Errorf("failed to write checkpoint (execution: %s, step: %s, partition: %d): %w",
			executionID, step, partition, err)
	}
	return nil
}

// Find returns the execution record with the given ID.
func (s *Store) Find(ctx context.Context, executionID string) (*model.ExecutionRecord, error) {
	var entities []ExecutionEntity
	if err := s.db.WithContext(ctx).Where("id = ?", executionID).Limit(1).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to find execution record (ID: %s): %w", executionID, err)
	}
	if len(entities) == 0 {
		return nil, ledger.ErrExecutionNotFound
	}
	record := toDomainExecution(&entities[0])
	if err := s.loadCheckpoints(s.db.WithContext(ctx), record); err != nil {
		return nil, err
	}
	return record, nil
}

// FindByIdentity returns the latest execution attempt for the identity.
func (s *Store) FindByIdentity(ctx context.Context, identity model.RunIdentity) (*model.ExecutionRecord, error) {
	var record *model.ExecutionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev, _, err := latestForIdentity(tx, identity)
		if err != nil {
			return err
		}
		record = prev
		return nil
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ledger.ErrExecutionNotFound
	}
	return record, nil
}

// AppendSkip inserts one skip record. Skip rows are append-only.
func (s *Store) AppendSkip(ctx context.Context, rec model.SkipRecord) error {
	if err := s.db.WithContext(ctx).Create(fromDomainSkip(rec)).Error; err != nil {
		return fmt.Errorf("failed to append skip record (execution: %s): %w", rec.ExecutionID, err)
	}
	return nil
}

// SkipRecords returns the skip records of an execution in append order.
func (s *Store) SkipRecords(ctx context.Context, executionID string) ([]model.SkipRecord, error) {
	var entities []SkipRecordEntity
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("skipped_at, sequence").
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load skip records (execution: %s): %w", executionID, err)
	}
	records := make([]model.SkipRecord, 0, len(entities))
	for i := range entities {
		records = append(records, toDomainSkip(&entities[i]))
	}
	return records, nil
}

// CountSkips returns the number of skip records of an execution.
func (s *Store) CountSkips(ctx context.Context, executionID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&SkipRecordEntity{}).
		Where("execution_id = ?", executionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count skip records (execution: %s): %w", executionID, err)
	}
	return int(count), nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	logger.Debugf("Closing SQL ledger store.")
	return database.Close(s.db)
}

// latestForIdentity loads the most recent attempt for an identity, with
// its checkpoint rows, inside the caller's transaction. It returns a
// nil record when the identity has never run.
func latestForIdentity(tx *gorm.DB, identity model.RunIdentity) (*model.ExecutionRecord, []CheckpointEntity, error) {
	var entities []ExecutionEntity
	err := tx.Where("work_unit = ? AND parameters_hash = ?", identity.WorkUnit, identity.ParametersHash).
		Order("create_time DESC, restart_count DESC").
		Limit(1).
		Find(&entities).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find execution for identity %s: %w", identity.Key(), err)
	}
	if len(entities) == 0 {
		return nil, nil, nil
	}

	record := toDomainExecution(&entities[0])
	var checkpoints []CheckpointEntity
	if err := tx.Where("execution_id = ?", record.ID).Find(&checkpoints).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load checkpoints (execution: %s): %w", record.ID, err)
	}
	for i := range checkpoints {
		cp := checkpoints[i]
		state := cp.State
		record.Checkpoints.Put(cp.Step, cp.PartitionIndex, &state)
	}
	return record, checkpoints, nil
}

// loadCheckpoints fills a record's checkpoint map from its rows.
func (s *Store) loadCheckpoints(tx *gorm.DB, record *model.ExecutionRecord) error {
	var checkpoints []CheckpointEntity
	if err := tx.Where("execution_id = ?", record.ID).Find(&checkpoints).Error; err != nil {
		return fmt.Errorf("failed to load checkpoints (execution: %s): %w", record.ID, err)
	}
	for i := range checkpoints {
		cp := checkpoints[i]
		state := cp.State
		record.Checkpoints.Put(cp.Step, cp.PartitionIndex, &state)
	}
	return nil
}
