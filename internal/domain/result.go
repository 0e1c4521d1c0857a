package domain

import (
	"encoding/json"
	"fmt"
)

// Outcome classifies how a request was resolved.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeExecutorFailure Outcome = "executor_failure"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeWorkerCrashed   Outcome = "worker_crashed"
	OutcomeShutdown        Outcome = "shutdown"
)

// Result is the single terminal answer a caller receives for a request.
// The JSON shape is what workers report and what the HTTP layer returns.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Message string          `json:"message"`

	// Set by the dispatcher, never transported.
	Outcome       Outcome `json:"-"`
	CorrelationID string  `json:"-"`
	WorkerID      string  `json:"-"`
}

// SuccessResult builds a successful result.
func SuccessResult(message string, data json.RawMessage) Result {
	return Result{
		Success: true,
		Data:    data,
		Message: message,
		Outcome: OutcomeSuccess,
	}
}

// FailureResult builds a failed result with the given outcome.
func FailureResult(outcome Outcome, label, message string) Result {
	return Result{
		Success: false,
		Error:   &label,
		Message: message,
		Outcome: outcome,
	}
}

// TimeoutResult is delivered when a worker does not report before the deadline.
func TimeoutResult() Result {
	return FailureResult(OutcomeTimeout, "Request timeout", "Request took too long to process")
}

// CrashedResult is delivered when the worker owning a request dies.
func CrashedResult(workerID string) Result {
	return FailureResult(OutcomeWorkerCrashed, "Worker crashed",
		fmt.Sprintf("worker %s terminated unexpectedly", workerID))
}

// ShutdownResult is delivered to requests still outstanding when the dispatcher stops.
func ShutdownResult() Result {
	return FailureResult(OutcomeShutdown, "Service unavailable", "dispatcher is shutting down")
}

// ErrorLabel returns the error label or an empty string.
func (r Result) ErrorLabel() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Err maps a failed result to an error wrapping one of the outcome sentinels.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, r.Message)
	case OutcomeWorkerCrashed:
		return fmt.Errorf("%w: %s", ErrWorkerCrashed, r.Message)
	case OutcomeShutdown:
		return fmt.Errorf("%w: %s", ErrDispatcherClosed, r.Message)
	default:
		if r.Success {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrExecutorFailure, r.Message)
	}
}
