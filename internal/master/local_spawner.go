package master

import (
	"context"
	"errors"
	"log/slog"

	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/worker"
)

var errWorkerGone = errors.New("worker is not running")

// LocalSpawner runs workers as goroutines inside the master process. It is
// used when no worker binary is available and by tests.
type LocalSpawner struct {
	executors map[string]domain.TaskExecutor
	logger    *slog.Logger
}

// NewLocalSpawner creates a spawner for in-process workers.
func NewLocalSpawner(executors map[string]domain.TaskExecutor, logger *slog.Logger) *LocalSpawner {
	return &LocalSpawner{executors: executors, logger: logger}
}

// Spawn implements Spawner.
func (s *LocalSpawner) Spawn(_ context.Context, id string, events WorkerEvents) (WorkerProcess, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &localWorker{
		id:     id,
		runner: worker.NewRunner(s.executors, id, s.logger),
		inbox:  make(chan domain.DispatchMessage, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	go w.loop(events)
	return w, nil
}

type localWorker struct {
	id     string
	runner *worker.Runner
	inbox  chan domain.DispatchMessage

	ctx    context.Context
	cancel context.CancelFunc
}

func (w *localWorker) loop(events WorkerEvents) {
	defer events.WorkerExited(w.id, nil)

	events.WorkerReady(w.id)
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.inbox:
			report := w.runner.Run(w.ctx, msg)
			if w.ctx.Err() != nil {
				return
			}
			events.WorkerReport(w.id, report)
		}
	}
}

func (w *localWorker) Pid() int { return 0 }

func (w *localWorker) Send(msg domain.DispatchMessage) error {
	if w.ctx.Err() != nil {
		return errWorkerGone
	}
	select {
	case w.inbox <- msg:
		return nil
	default:
		return errors.New("worker inbox is full")
	}
}

func (w *localWorker) Terminate() {
	w.cancel()
}
