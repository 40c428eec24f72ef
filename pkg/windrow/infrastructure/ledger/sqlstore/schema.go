package sqlstore

import (
	"time"

	model "github.com/windrowio/windrow/pkg/windrow/core/model"
)

// ExecutionEntity is the persistence schema of an execution record.
// Checkpoints live in their own table so the per-partition chunk loops
// never contend with status updates on the same row.
type ExecutionEntity struct {
	ID              string `gorm:"primaryKey"`
	WorkUnit        string
	ParametersHash  string
	Parameters      model.RunParameters
	StartTime       time.Time
	EndTime         *time.Time
	Status          model.RunStatus
	FailureCategory string
	Failures        model.FailureList
	RestartCount    int
	CreateTime      time.Time
	LastUpdated     time.Time
	Version         int
}

func (ExecutionEntity) TableName() string {
	return "windrow_execution"
}

// CheckpointEntity is the persistence schema of one (step, partition)
// checkpoint. The partition column is named explicitly because
// "partition" is reserved in MySQL.
type CheckpointEntity struct {
	ExecutionID    string `gorm:"primaryKey"`
	Step           string `gorm:"primaryKey"`
	PartitionIndex int    `gorm:"primaryKey;column:partition_index"`
	State          model.CheckpointState
	LastUpdated    time.Time
}

func (CheckpointEntity) TableName() string {
	return "windrow_checkpoint"
}

// SkipRecordEntity is the persistence schema of one skipped item.
type SkipRecordEntity struct {
	ID             string `gorm:"primaryKey"`
	ExecutionID    string
	Step           string
	PartitionIndex int `gorm:"column:partition_index"`
	Sequence       int64
	Payload        string
	Category       string
	Message        string
	SkippedAt      time.Time
}

func (SkipRecordEntity) TableName() string {
	return "windrow_skip_record"
}
