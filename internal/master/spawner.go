package master

import (
	"context"

	"clip-dispatch/internal/domain"
)

// WorkerEvents receives lifecycle notifications from spawned workers.
// Methods may be called from any goroutine.
type WorkerEvents interface {
	WorkerReady(workerID string)
	WorkerReport(workerID string, msg domain.ReportMessage)
	WorkerExited(workerID string, err error)
}

// WorkerProcess is a handle on one running worker.
type WorkerProcess interface {
	// Pid returns the OS process id, or 0 for in-process workers.
	Pid() int
	// Send delivers a task to the worker without waiting for it to run.
	Send(msg domain.DispatchMessage) error
	// Terminate asks the worker to stop; WorkerExited follows.
	Terminate()
}

// Spawner starts workers. After a successful Spawn the worker reports
// WorkerReady once it accepts tasks and WorkerExited exactly once when it
// stops. ctx bounds the spawn itself, not the lifetime of the worker.
type Spawner interface {
	Spawn(ctx context.Context, id string, events WorkerEvents) (WorkerProcess, error)
}

// StateObserver is notified of every worker state change. Implementations
// must not block.
type StateObserver interface {
	WorkerChanged(info domain.WorkerInfo)
	WorkerRemoved(id string)
}
