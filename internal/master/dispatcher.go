// internal/master/dispatcher.go
package master

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/metrics"
	"clip-dispatch/internal/tracing"

	"github.com/google/uuid"
)

const (
	defaultTaskTimeout     = 120 * time.Second
	defaultRespawnDelay    = time.Second
	defaultShutdownTimeout = 10 * time.Second
	eventBufferSize        = 64
)

// Options configures a Dispatcher.
type Options struct {
	Capacity        int
	TaskTimeout     time.Duration
	RespawnDelay    time.Duration
	ShutdownTimeout time.Duration
	Observer        StateObserver
}

// Dispatcher hands requests to a fixed pool of workers, queues the overflow
// and correlates asynchronous worker reports with waiting callers.
//
// All pool, queue and pending-table state is owned by the goroutine running
// Run. Every entry point (Submit, worker events, timeouts, Stats) is turned
// into an event and handled there one at a time, in arrival order.
type Dispatcher struct {
	opts    Options
	pool    *pool
	pending *pendingTable
	queue   *requestQueue
	logger  *slog.Logger

	events chan event
	done   chan struct{}

	// closeMu guards closed; Submit holds it for reading while posting so
	// that no submission can land in the buffer after the final drain.
	closeMu sync.RWMutex
	closed  bool

	stopping     bool
	respawnTimer *time.Timer
}

type event interface{}

type submitEvent struct{ req *request }

type readyEvent struct{ workerID string }

type reportEvent struct {
	workerID string
	msg      domain.ReportMessage
}

type timeoutEvent struct{ id string }

type exitEvent struct {
	workerID string
	err      error
}

type respawnEvent struct{}

type statsEvent struct{ reply chan domain.PoolStats }

// NewDispatcher creates a dispatcher. Workers are started by Run.
func NewDispatcher(spawner Spawner, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.RespawnDelay <= 0 {
		opts.RespawnDelay = defaultRespawnDelay
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	logger = logger.With("component", "dispatcher")
	d := &Dispatcher{
		opts:    opts,
		pending: newPendingTable(),
		queue:   &requestQueue{},
		logger:  logger,
		events:  make(chan event, eventBufferSize),
		done:    make(chan struct{}),
	}
	d.pool = newPool(opts.Capacity, spawner, d, opts.Observer, logger)
	return d
}

// Submit hands a task to the first idle worker or appends it to the queue.
// It returns immediately; exactly one Result is delivered on the channel.
func (d *Dispatcher) Submit(ctx context.Context, task string, req *domain.TaskRequest) (<-chan domain.Result, error) {
	r := newRequest(task, req, tracing.Inject(ctx))

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return nil, domain.ErrDispatcherClosed
	}

	select {
	case d.events <- submitEvent{req: r}:
		return r.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns the live worker set, busy count and queue depth.
func (d *Dispatcher) Stats(ctx context.Context) (domain.PoolStats, error) {
	reply := make(chan domain.PoolStats, 1)
	if !d.post(ctx, statsEvent{reply: reply}) {
		if ctx.Err() != nil {
			return domain.PoolStats{}, ctx.Err()
		}
		return domain.PoolStats{}, domain.ErrDispatcherClosed
	}
	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return domain.PoolStats{}, ctx.Err()
	case <-d.done:
		return domain.PoolStats{}, domain.ErrDispatcherClosed
	}
}

// WorkerReady implements WorkerEvents.
func (d *Dispatcher) WorkerReady(workerID string) {
	d.post(context.Background(), readyEvent{workerID: workerID})
}

// WorkerReport implements WorkerEvents.
func (d *Dispatcher) WorkerReport(workerID string, msg domain.ReportMessage) {
	d.post(context.Background(), reportEvent{workerID: workerID, msg: msg})
}

// WorkerExited implements WorkerEvents.
func (d *Dispatcher) WorkerExited(workerID string, err error) {
	d.post(context.Background(), exitEvent{workerID: workerID, err: err})
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) post(ctx context.Context, ev event) bool {
	select {
	case d.events <- ev:
		return true
	case <-d.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Run starts the workers and processes events until ctx is canceled, then
// shuts the pool down. It must be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher starting",
		"capacity", d.opts.Capacity,
		"task_timeout", d.opts.TaskTimeout.String(),
	)
	for i := 0; i < d.opts.Capacity; i++ {
		d.spawnWorker(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case ev := <-d.events:
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case submitEvent:
		d.onSubmit(ev.req)
	case readyEvent:
		d.onWorkerReady(ev.workerID)
	case reportEvent:
		d.onWorkerReport(ev.workerID, ev.msg)
	case timeoutEvent:
		d.onTimeout(ev.id)
	case exitEvent:
		d.onWorkerExit(ctx, ev.workerID, ev.err)
	case respawnEvent:
		d.respawnTimer = nil
		d.fillPool(ctx)
	case statsEvent:
		ev.reply <- d.stats()
	}
}

func (d *Dispatcher) onSubmit(r *request) {
	if d.stopping {
		d.resolve(r, domain.ShutdownResult(), "", "")
		return
	}
	if w := d.pool.selectIdle(); w != nil {
		d.assign(w, r)
		return
	}
	d.queue.push(r)
	metrics.QueueDepth.Set(float64(d.queue.len()))
	d.logger.Info("no available workers, request queued", "task", r.task, "queue_depth", d.queue.len())
}

// assign makes w Busy with r and arms the request deadline.
func (d *Dispatcher) assign(w *workerHandle, r *request) {
	id := uuid.NewString()
	now := time.Now()
	d.pool.markBusy(w, id)

	entry := &pendingEntry{
		id:           id,
		req:          r,
		workerID:     w.id,
		dispatchedAt: now,
		deadline:     now.Add(d.opts.TaskTimeout),
	}
	entry.timer = time.AfterFunc(d.opts.TaskTimeout, func() {
		d.post(context.Background(), timeoutEvent{id: id})
	})
	d.pending.add(entry)

	d.logger.Info("assigning request to worker", "task", r.task, "correlation_id", id, "worker_id", w.id)
	err := w.proc.Send(domain.DispatchMessage{
		Task:  r.task,
		Req:   r.payload,
		ID:    id,
		Trace: r.trace,
	})
	if err != nil {
		// The worker cannot take work; its exit resolves the entry as crashed.
		d.logger.Error("failed to send task to worker", "worker_id", w.id, "correlation_id", id, "error", err)
		w.proc.Terminate()
	}
}

// handOff gives the queue head, if any, to a worker that just became idle.
func (d *Dispatcher) handOff(w *workerHandle) {
	r := d.queue.pop()
	if r == nil {
		return
	}
	metrics.QueueDepth.Set(float64(d.queue.len()))
	metrics.QueueWait.Observe(time.Since(r.enqueuedAt).Seconds())
	d.assign(w, r)
}

func (d *Dispatcher) onWorkerReady(workerID string) {
	w := d.pool.get(workerID)
	if w == nil || w.state != domain.WorkerStarting {
		return
	}
	d.pool.markReady(w)
	d.logger.Info("worker is now available", "worker_id", w.id, "pid", w.proc.Pid())
	if !d.stopping {
		d.handOff(w)
	}
}

func (d *Dispatcher) onWorkerReport(workerID string, msg domain.ReportMessage) {
	if !msg.IsTerminal() {
		d.logger.Debug("ignoring non-terminal worker message", "worker_id", workerID, "type", msg.Type)
		return
	}

	if entry, ok := d.pending.get(msg.ID); ok {
		if entry.workerID != workerID {
			d.logger.Warn("report from a worker that does not own the request",
				"worker_id", workerID, "owner_id", entry.workerID, "correlation_id", msg.ID)
			return
		}
		d.pending.take(msg.ID)
		d.resolve(entry.req, reportResult(msg), entry.id, workerID)
	} else {
		// Already resolved by timeout (or shutdown): nothing to deliver.
		d.logger.Info("late report for resolved request", "worker_id", workerID, "correlation_id", msg.ID)
	}

	w := d.pool.get(workerID)
	if w == nil || w.state != domain.WorkerBusy || w.correlationID != msg.ID {
		return
	}
	d.pool.markIdle(w)
	d.logger.Info("worker is now available", "worker_id", w.id)
	if !d.stopping {
		d.handOff(w)
	}
}

func (d *Dispatcher) onTimeout(id string) {
	entry, ok := d.pending.take(id)
	if !ok {
		return
	}
	// The worker keeps running and stays Busy until it reports.
	d.logger.Warn("request timed out", "correlation_id", id, "worker_id", entry.workerID,
		"timeout", d.opts.TaskTimeout.String())
	d.resolve(entry.req, domain.TimeoutResult(), entry.id, entry.workerID)
}

func (d *Dispatcher) onWorkerExit(ctx context.Context, workerID string, exitErr error) {
	w := d.pool.get(workerID)
	if w == nil {
		return
	}
	diedStarting := w.state == domain.WorkerStarting
	d.pool.remove(workerID)

	if w.correlationID != "" {
		if entry, ok := d.pending.get(w.correlationID); ok && entry.workerID == w.id {
			d.pending.take(entry.id)
			d.resolve(entry.req, domain.CrashedResult(w.id), entry.id, w.id)
		}
	}

	if d.stopping {
		d.logger.Info("worker stopped", "worker_id", w.id, "pid", w.proc.Pid())
		return
	}

	d.logger.Error("worker died, spawning a new worker", "worker_id", w.id, "pid", w.proc.Pid(), "error", exitErr)
	metrics.WorkerRespawnsTotal.Inc()
	if diedStarting {
		// Never became ready: back off instead of fork-looping.
		d.scheduleRespawn()
		return
	}
	d.fillPool(ctx)
}

// fillPool spawns workers until the pool is at capacity. Failures are
// retried after RespawnDelay.
func (d *Dispatcher) fillPool(ctx context.Context) {
	for d.pool.deficit() > 0 && !d.stopping {
		if !d.spawnWorker(ctx) {
			return
		}
	}
}

func (d *Dispatcher) spawnWorker(ctx context.Context) bool {
	if _, err := d.pool.spawn(ctx); err != nil {
		d.logger.Error("failed to spawn worker", "error", err, "retry_in", d.opts.RespawnDelay.String())
		d.scheduleRespawn()
		return false
	}
	return true
}

func (d *Dispatcher) scheduleRespawn() {
	if d.respawnTimer != nil {
		return
	}
	d.respawnTimer = time.AfterFunc(d.opts.RespawnDelay, func() {
		d.post(context.Background(), respawnEvent{})
	})
}

func (d *Dispatcher) resolve(r *request, res domain.Result, correlationID, workerID string) {
	res.CorrelationID = correlationID
	res.WorkerID = workerID
	if !r.resolve(res) {
		d.logger.Error("suppressed second resolution of a request", "correlation_id", correlationID)
		return
	}
	metrics.TaskOutcomesTotal.WithLabelValues(r.task, string(res.Outcome)).Inc()
	metrics.TaskDuration.WithLabelValues(r.task).Observe(time.Since(r.submittedAt).Seconds())
}

func (d *Dispatcher) stats() domain.PoolStats {
	return domain.PoolStats{
		Capacity: d.opts.Capacity,
		Workers:  d.pool.snapshot(),
		Busy:     d.pool.countState(domain.WorkerBusy),
		Idle:     d.pool.countState(domain.WorkerIdle),
		Queued:   d.queue.len(),
		Pending:  d.pending.len(),
	}
}

// shutdown terminates every worker without replacement and resolves all
// outstanding requests, then waits (bounded) for the workers to exit.
func (d *Dispatcher) shutdown() {
	d.logger.Info("dispatcher shutting down, terminating workers", "workers", d.pool.size())
	d.stopping = true
	if d.respawnTimer != nil {
		d.respawnTimer.Stop()
	}

	for _, e := range d.pending.drain() {
		d.resolve(e.req, domain.ShutdownResult(), e.id, e.workerID)
	}
	for _, r := range d.queue.drain() {
		d.resolve(r, domain.ShutdownResult(), "", "")
	}
	metrics.QueueDepth.Set(0)
	d.pool.terminateAll()

	locked := make(chan struct{})
	go func() {
		d.closeMu.Lock()
		d.closed = true
		d.closeMu.Unlock()
		close(locked)
	}()

	deadline := time.NewTimer(d.opts.ShutdownTimeout)
	defer deadline.Stop()
	isLocked, expired := false, false
	for !isLocked || (d.pool.size() > 0 && !expired) {
		select {
		case <-locked:
			isLocked = true
			locked = nil
		case <-deadline.C:
			expired = true
			d.logger.Warn("workers did not exit before shutdown timeout", "remaining", d.pool.size())
		case ev := <-d.events:
			d.handle(context.Background(), ev)
		}
	}

	// No Submit can post anymore; resolve whatever is still buffered.
	for {
		select {
		case ev := <-d.events:
			d.handle(context.Background(), ev)
		default:
			close(d.done)
			d.logger.Info("dispatcher stopped")
			return
		}
	}
}

func reportResult(msg domain.ReportMessage) domain.Result {
	var res domain.Result
	if msg.Result != nil {
		res = *msg.Result
	}
	if msg.Type == domain.MessageTaskCompleted {
		res.Outcome = domain.OutcomeSuccess
		res.Success = true
		return res
	}
	res.Outcome = domain.OutcomeExecutorFailure
	res.Success = false
	if res.Error == nil {
		label := "Processing failed"
		res.Error = &label
	}
	return res
}
