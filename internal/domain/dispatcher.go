package domain

import "context"

// Dispatcher distributes tasks to workers.
type Dispatcher interface {
	// Submit hands a task to a worker or queues it. It never waits for the
	// task; exactly one Result is delivered on the returned channel.
	Submit(ctx context.Context, task string, req *TaskRequest) (<-chan Result, error)
	// Stats returns a snapshot of the pool, queue and pending table.
	Stats(ctx context.Context) (PoolStats, error)
}
