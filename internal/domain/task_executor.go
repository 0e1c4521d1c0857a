package domain

import "context"

// TaskExecutor performs the work behind a task name. It runs inside a worker
// and is opaque to the dispatcher.
type TaskExecutor interface {
	Execute(ctx context.Context, req *TaskRequest) (*TaskOutput, error)
}
