// internal/domain/execution.go
package domain

import (
	"context"
	"fmt"
	"time"
)

// ExecutionStatus defines how a dispatched request ended.
type ExecutionStatus string

const (
	ExecutionStatusSuccess  ExecutionStatus = "success"
	ExecutionStatusFailed   ExecutionStatus = "failed"
	ExecutionStatusTimeout  ExecutionStatus = "timeout"
	ExecutionStatusCrashed  ExecutionStatus = "crashed"
	ExecutionStatusShutdown ExecutionStatus = "shutdown"
)

// StatusFromOutcome maps a result outcome to the recorded status.
func StatusFromOutcome(o Outcome) ExecutionStatus {
	switch o {
	case OutcomeSuccess:
		return ExecutionStatusSuccess
	case OutcomeTimeout:
		return ExecutionStatusTimeout
	case OutcomeWorkerCrashed:
		return ExecutionStatusCrashed
	case OutcomeShutdown:
		return ExecutionStatusShutdown
	default:
		return ExecutionStatusFailed
	}
}

// ExecutionRecord represents a single request served through the dispatcher.
type ExecutionRecord struct {
	ID        string          `json:"id"`                  // Correlation id, or a fresh id if never dispatched
	Task      string          `json:"task"`                // Task name
	WorkerID  string          `json:"worker_id,omitempty"` // Worker that owned the request
	StartTime time.Time       `json:"start_time"`          // When the request was submitted
	EndTime   time.Time       `json:"end_time"`            // When the result was delivered
	Status    ExecutionStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Validate checks if the execution record is valid.
func (r *ExecutionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("execution record ID cannot be empty")
	}
	if r.Task == "" {
		return fmt.Errorf("execution record task cannot be empty")
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("execution record start time cannot be zero")
	}
	if r.Status == "" {
		return fmt.Errorf("execution record status cannot be empty")
	}
	return nil
}

// ExecutionRepository defines the interface for persisting and retrieving execution records.
type ExecutionRepository interface {
	// Save persists a single execution record.
	Save(ctx context.Context, record *ExecutionRecord) error
	// List retrieves records newest first, with pagination (page starts at 1).
	List(ctx context.Context, page, pageSize int) ([]*ExecutionRecord, error)
	// Get retrieves a single execution record by id.
	Get(ctx context.Context, id string) (*ExecutionRecord, error)
}
