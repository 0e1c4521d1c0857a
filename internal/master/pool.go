package master

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/metrics"

	"github.com/google/uuid"
)

// workerHandle is the dispatcher's model of one running worker.
type workerHandle struct {
	id            string
	proc          WorkerProcess
	state         domain.WorkerState
	correlationID string // set while Busy
	startedAt     time.Time
}

func (h *workerHandle) info() domain.WorkerInfo {
	return domain.WorkerInfo{
		ID:            h.id,
		Pid:           h.proc.Pid(),
		State:         h.state,
		CorrelationID: h.correlationID,
		StartedAt:     h.startedAt,
	}
}

// pool owns a fixed number of workers. It is only touched from the
// dispatcher loop.
type pool struct {
	capacity     int
	spawner      Spawner
	events       WorkerEvents
	observer     StateObserver
	workers      []*workerHandle // registration order
	shuttingDown bool
	logger       *slog.Logger
}

func newPool(capacity int, spawner Spawner, events WorkerEvents, observer StateObserver, logger *slog.Logger) *pool {
	return &pool{
		capacity: capacity,
		spawner:  spawner,
		events:   events,
		observer: observer,
		logger:   logger,
	}
}

// spawn starts one worker under a fresh identity.
func (p *pool) spawn(ctx context.Context) (*workerHandle, error) {
	if p.shuttingDown {
		return nil, fmt.Errorf("pool is shutting down")
	}
	id := uuid.NewString()
	proc, err := p.spawner.Spawn(ctx, id, p.events)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn worker %s: %w", id, err)
	}

	h := &workerHandle{
		id:        id,
		proc:      proc,
		state:     domain.WorkerStarting,
		startedAt: time.Now(),
	}
	p.workers = append(p.workers, h)
	p.logger.Info("worker spawned", "worker_id", id, "pid", proc.Pid())
	p.changed(h)
	return h, nil
}

func (p *pool) get(id string) *workerHandle {
	for _, h := range p.workers {
		if h.id == id {
			return h
		}
	}
	return nil
}

// selectIdle returns the earliest registered idle worker, or nil.
func (p *pool) selectIdle() *workerHandle {
	for _, h := range p.workers {
		if h.state == domain.WorkerIdle {
			return h
		}
	}
	return nil
}

func (p *pool) markReady(h *workerHandle) {
	h.state = domain.WorkerIdle
	p.changed(h)
}

func (p *pool) markBusy(h *workerHandle, correlationID string) {
	h.state = domain.WorkerBusy
	h.correlationID = correlationID
	p.changed(h)
}

func (p *pool) markIdle(h *workerHandle) {
	h.state = domain.WorkerIdle
	h.correlationID = ""
	p.changed(h)
}

// remove purges a worker from the live set and marks it Dead. The returned
// handle keeps its last assignment so the owner can resolve it.
func (p *pool) remove(id string) *workerHandle {
	for i, h := range p.workers {
		if h.id != id {
			continue
		}
		p.workers = append(p.workers[:i], p.workers[i+1:]...)
		h.state = domain.WorkerDead
		if p.observer != nil {
			p.observer.WorkerRemoved(id)
		}
		p.updateGauges()
		return h
	}
	return nil
}

// deficit is the number of workers missing to reach capacity.
func (p *pool) deficit() int {
	return p.capacity - len(p.workers)
}

func (p *pool) size() int {
	return len(p.workers)
}

// terminateAll stops every live worker without replacement.
func (p *pool) terminateAll() {
	p.shuttingDown = true
	for _, h := range p.workers {
		p.logger.Info("terminating worker", "worker_id", h.id, "pid", h.proc.Pid())
		h.proc.Terminate()
	}
}

func (p *pool) snapshot() []domain.WorkerInfo {
	out := make([]domain.WorkerInfo, 0, len(p.workers))
	for _, h := range p.workers {
		out = append(out, h.info())
	}
	return out
}

func (p *pool) countState(state domain.WorkerState) int {
	n := 0
	for _, h := range p.workers {
		if h.state == state {
			n++
		}
	}
	return n
}

func (p *pool) changed(h *workerHandle) {
	if p.observer != nil {
		p.observer.WorkerChanged(h.info())
	}
	p.updateGauges()
}

func (p *pool) updateGauges() {
	for _, s := range []domain.WorkerState{domain.WorkerStarting, domain.WorkerIdle, domain.WorkerBusy} {
		metrics.PoolWorkers.WithLabelValues(s.String()).Set(float64(p.countState(s)))
	}
}
