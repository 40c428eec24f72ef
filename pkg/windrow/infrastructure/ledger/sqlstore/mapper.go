package sqlstore

import (
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
)

func fromDomainExecution(rec *model.ExecutionRecord) *ExecutionEntity {
	if rec == nil {
		return nil
	}
	return &ExecutionEntity{
		ID:              rec.ID,
		WorkUnit:        rec.WorkUnit,
		ParametersHash:  rec.ParametersHash,
		Parameters:      rec.Parameters,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		Status:          rec.Status,
		FailureCategory: rec.FailureCategory,
		Failures:        rec.Failures,
		RestartCount:    rec.RestartCount,
		CreateTime:      rec.CreateTime,
		LastUpdated:     rec.LastUpdated,
		Version:         rec.Version,
	}
}

func toDomainExecution(entity *ExecutionEntity) *model.ExecutionRecord {
	if entity == nil {
		return nil
	}
	return &model.ExecutionRecord{
		ID:              entity.ID,
		WorkUnit:        entity.WorkUnit,
		ParametersHash:  entity.ParametersHash,
		Parameters:      entity.Parameters,
		StartTime:       entity.StartTime,
		EndTime:         entity.EndTime,
		Status:          entity.Status,
		FailureCategory: entity.FailureCategory,
		Failures:        entity.Failures,
		RestartCount:    entity.RestartCount,
		Checkpoints:     model.NewCheckpointMap(),
		CreateTime:      entity.CreateTime,
		LastUpdated:     entity.LastUpdated,
		Version:         entity.Version,
	}
}

func fromDomainSkip(rec model.SkipRecord) *SkipRecordEntity {
	return &SkipRecordEntity{
		ID:             rec.ID,
		ExecutionID:    rec.ExecutionID,
		Step:           rec.Step,
		PartitionIndex: rec.Partition,
		Sequence:       rec.Sequence,
		Payload:        rec.Payload,
		Category:       rec.Category,
		Message:        rec.Message,
		SkippedAt:      rec.SkippedAt,
	}
}

func toDomainSkip(entity *SkipRecordEntity) model.SkipRecord {
	return model.SkipRecord{
		ID:          entity.ID,
		ExecutionID: entity.ExecutionID,
		Step:        entity.Step,
		Partition:   entity.PartitionIndex,
		Sequence:    entity.Sequence,
		Payload:     entity.Payload,
		Category:    entity.Category,
		Message:     entity.Message,
		SkippedAt:   entity.SkippedAt,
	}
}
