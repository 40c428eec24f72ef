package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CheckpointState is the durable progress of one (step, partition)
// slice of a run. It is written after every committed chunk and read
// back on resume.
type CheckpointState struct {
	Cursor        int64     `json:"cursor"`
	ChunkSequence int       `json:"chunkSequence"`
	ReadCount     int       `json:"readCount"`
	WriteCount    int       `json:"writeCount"`
	SkipCount     int       `json:"skipCount"`
	FilterCount   int       `json:"filterCount"`
	Completed     bool      `json:"completed"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// Clone returns a copy of the checkpoint state.
func (cs *CheckpointState) Clone() *CheckpointState {
	if cs == nil {
		return nil
	}
	dup := *cs
	return &dup
}

// Value implements the `driver.Valuer` interface, converting the state
// to a JSON string for persistence.
func (cs CheckpointState) Value() (driver.Value, error) {
	data, err := json.Marshal(cs)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string
// back into a CheckpointState.
func (cs *CheckpointState) Scan(value interface{}) error {
	if value == nil {
		*cs = CheckpointState{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for CheckpointState: %T", value)
	}

	if len(b) == 0 {
		*cs = CheckpointState{}
		return nil
	}

	if err := json.Unmarshal(b, cs); err != nil {
		return fmt.Errorf("failed to unmarshal CheckpointState JSON: %w", err)
	}
	return nil
}

// CheckpointKey builds the composite map key for a (step, partition) slice.
func CheckpointKey(step string, partition int) string {
	return fmt.Sprintf("%s#%d", step, partition)
}

// CheckpointMap maps CheckpointKey(step, partition) to the slice's
// latest checkpoint state.
type CheckpointMap map[string]*CheckpointState

// NewCheckpointMap creates a new empty CheckpointMap.
func NewCheckpointMap() CheckpointMap {
	return make(CheckpointMap)
}

// Get retrieves the checkpoint for a (step, partition) slice.
func (cm CheckpointMap) Get(step string, partition int) (*CheckpointState, bool) {
	cp, ok := cm[CheckpointKey(step, partition)]
	return cp, ok
}

// Put stores the checkpoint for a (step, partition) slice.
func (cm CheckpointMap) Put(step string, partition int, state *CheckpointState) {
	cm[CheckpointKey(step, partition)] = state
}

// Clone creates a deep copy of the map.
func (cm CheckpointMap) Clone() CheckpointMap {
	dup := make(CheckpointMap, len(cm))
	for k, v := range cm {
		dup[k] = v.Clone()
	}
	return dup
}

// StepCompleted reports whether every recorded partition of the step
// has finished, and whether the step has any checkpoints at all.
func (cm CheckpointMap) StepCompleted(step string, partitions int) bool {
	if partitions <= 0 {
		return false
	}
	for p := 0; p < partitions; p++ {
		cp, ok := cm.Get(step, p)
		if !ok || !cp.Completed {
			return false
		}
	}
	return true
}

// Value implements the `driver.Valuer` interface, converting the map to
// a JSON string for persistence.
func (cm CheckpointMap) Value() (driver.Value, error) {
	if cm == nil {
		return "{}", nil
	}
	data, err := json.Marshal(cm)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string
// back into a CheckpointMap.
func (cm *CheckpointMap) Scan(value interface{}) error {
	if value == nil {
		*cm = NewCheckpointMap()
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for CheckpointMap: %T", value)
	}

	if len(b) == 0 {
		*cm = NewCheckpointMap()
		return nil
	}

	if err := json.Unmarshal(b, cm); err != nil {
		return fmt.Errorf("failed to unmarshal CheckpointMap JSON: %w", err)
	}
	return nil
}
