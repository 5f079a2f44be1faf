package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the outcome of an inventory generation run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is still collecting.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every endpoint and project was fetched.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates the inventory was built but some fetches,
	// patterns or templates failed along the way.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the run was interrupted through its context.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusPartial || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
