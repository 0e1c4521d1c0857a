package domain

import (
	"context"
	"time"
)

// WorkerState is the lifecycle state of a worker.
type WorkerState int

const (
	WorkerStarting WorkerState = iota
	WorkerIdle
	WorkerBusy
	WorkerDead
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerDead:
		return "dead"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WorkerInfo is a point-in-time view of one worker.
type WorkerInfo struct {
	ID            string      `json:"id"`
	Pid           int         `json:"pid,omitempty"`
	State         WorkerState `json:"state"`
	CorrelationID string      `json:"correlationId,omitempty"`
	StartedAt     time.Time   `json:"startedAt"`
}

// PoolStats is the introspection surface of the dispatcher.
type PoolStats struct {
	Capacity int          `json:"capacity"`
	Workers  []WorkerInfo `json:"workers"`
	Busy     int          `json:"busy"`
	Idle     int          `json:"idle"`
	Queued   int          `json:"queued"`
	Pending  int          `json:"pending"`
}

// WorkerStateStore mirrors worker state to an external system.
type WorkerStateStore interface {
	PutWorker(ctx context.Context, info WorkerInfo) error
	DeleteWorker(ctx context.Context, id string) error
}
