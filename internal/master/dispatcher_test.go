package master

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"clip-dispatch/internal/domain"

	"github.com/stretchr/testify/require"
)

const testTask = "echo"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	d       *Dispatcher
	spawner *fakeSpawner
	workers []*fakeProc
	cancel  context.CancelFunc
}

func startDispatcher(t *testing.T, capacity int, timeout time.Duration) *harness {
	t.Helper()
	sp := newFakeSpawner()
	d := NewDispatcher(sp, Options{
		Capacity:        capacity,
		TaskTimeout:     timeout,
		RespawnDelay:    20 * time.Millisecond,
		ShutdownTimeout: time.Second,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-d.Done()
	})

	h := &harness{d: d, spawner: sp, cancel: cancel}
	for i := 0; i < capacity; i++ {
		w := sp.next(t)
		w.ready()
		h.workers = append(h.workers, w)
	}
	h.waitStats(t, func(s domain.PoolStats) bool { return s.Idle == capacity })
	return h
}

func (h *harness) stats(t *testing.T) domain.PoolStats {
	t.Helper()
	s, err := h.d.Stats(context.Background())
	require.NoError(t, err)
	return s
}

func (h *harness) waitStats(t *testing.T, cond func(domain.PoolStats) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.d.Stats(context.Background())
		return err == nil && cond(s)
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) submit(t *testing.T, name string) <-chan domain.Result {
	t.Helper()
	ch, err := h.d.Submit(context.Background(), testTask, &domain.TaskRequest{
		Params: map[string]string{"name": name},
	})
	require.NoError(t, err)
	return ch
}

func await(t *testing.T, ch <-chan domain.Result) domain.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("request was not resolved")
		return domain.Result{}
	}
}

func requireNoResult(t *testing.T, ch <-chan domain.Result) {
	t.Helper()
	select {
	case res := <-ch:
		t.Fatalf("unexpected result: %+v", res)
	case <-time.After(30 * time.Millisecond):
	}
}

func requireName(t *testing.T, res domain.Result, name string) {
	t.Helper()
	require.True(t, res.Success, "result: %+v", res)
	var params map[string]string
	require.NoError(t, json.Unmarshal(res.Data, &params))
	require.Equal(t, name, params["name"])
}

func TestDispatcher_DispatchesUpToCapacityImmediately(t *testing.T) {
	h := startDispatcher(t, 3, time.Minute)

	var chans []<-chan domain.Result
	var msgs []domain.DispatchMessage
	for i, name := range []string{"a", "b", "c"} {
		chans = append(chans, h.submit(t, name))
		msg := h.workers[i].recv(t)
		require.Equal(t, testTask, msg.Task)
		require.Equal(t, name, msg.Req.Params["name"])
		msgs = append(msgs, msg)
	}

	s := h.stats(t)
	require.Equal(t, 3, s.Busy)
	require.Zero(t, s.Queued)
	require.Equal(t, 3, s.Pending)

	for i, w := range h.workers {
		w.complete(msgs[i])
	}
	for i, name := range []string{"a", "b", "c"} {
		res := await(t, chans[i])
		requireName(t, res, name)
		require.Equal(t, domain.OutcomeSuccess, res.Outcome)
		require.Equal(t, h.workers[i].id, res.WorkerID)
		require.Equal(t, msgs[i].ID, res.CorrelationID)
		requireNoResult(t, chans[i])
	}
	h.waitStats(t, func(s domain.PoolStats) bool { return s.Idle == 3 && s.Pending == 0 })
}

func TestDispatcher_QueuesOverflowInSubmissionOrder(t *testing.T) {
	h := startDispatcher(t, 1, time.Minute)
	w := h.workers[0]

	names := []string{"first", "second", "third", "fourth"}
	chans := make([]<-chan domain.Result, len(names))
	for i, name := range names {
		chans[i] = h.submit(t, name)
	}

	s := h.stats(t)
	require.Equal(t, 1, s.Busy)
	require.Equal(t, 3, s.Queued)

	for i, name := range names {
		msg := w.recv(t)
		require.Equal(t, name, msg.Req.Params["name"], "dispatch order")
		w.complete(msg)
		requireName(t, await(t, chans[i]), name)
	}

	s = h.stats(t)
	require.Zero(t, s.Queued)
	require.Equal(t, 1, s.Idle)
}

func TestDispatcher_ThreeRequestsTwoWorkers(t *testing.T) {
	h := startDispatcher(t, 2, time.Minute)
	w1, w2 := h.workers[0], h.workers[1]

	a := h.submit(t, "A")
	b := h.submit(t, "B")
	c := h.submit(t, "C")

	msgA := w1.recv(t)
	msgB := w2.recv(t)
	require.Equal(t, "A", msgA.Req.Params["name"])
	require.Equal(t, "B", msgB.Req.Params["name"])
	s := h.stats(t)
	require.Equal(t, 2, s.Busy)
	require.Equal(t, 1, s.Queued)

	// Worker1 finishes first and picks up C.
	w1.complete(msgA)
	requireName(t, await(t, a), "A")
	msgC := w1.recv(t)
	require.Equal(t, "C", msgC.Req.Params["name"])
	s = h.stats(t)
	require.Equal(t, 2, s.Busy)
	require.Zero(t, s.Queued)

	// Worker2 finishes B; nothing is left to hand out.
	w2.complete(msgB)
	requireName(t, await(t, b), "B")
	w2.requireIdle(t)
	s = h.stats(t)
	require.Equal(t, 1, s.Busy)
	require.Equal(t, 1, s.Idle)

	w1.complete(msgC)
	requireName(t, await(t, c), "C")

	h.waitStats(t, func(s domain.PoolStats) bool {
		return s.Idle == 2 && s.Queued == 0 && s.Pending == 0
	})
	for _, ch := range []<-chan domain.Result{a, b, c} {
		requireNoResult(t, ch)
	}
}

func TestDispatcher_ExecutorFailureIsDelivered(t *testing.T) {
	h := startDispatcher(t, 1, time.Minute)
	w := h.workers[0]

	ch := h.submit(t, "broken")
	w.fail(w.recv(t), "ffmpeg exited with status 1")

	res := await(t, ch)
	require.False(t, res.Success)
	require.Equal(t, domain.OutcomeExecutorFailure, res.Outcome)
	require.Equal(t, "Processing failed", res.ErrorLabel())
	require.Equal(t, "ffmpeg exited with status 1", res.Message)
	require.ErrorIs(t, res.Err(), domain.ErrExecutorFailure)
	h.waitStats(t, func(s domain.PoolStats) bool { return s.Idle == 1 })
}

func TestDispatcher_TimeoutThenLateReport(t *testing.T) {
	timeout := 50 * time.Millisecond
	h := startDispatcher(t, 1, timeout)
	w := h.workers[0]

	start := time.Now()
	slow := h.submit(t, "slow")
	msgSlow := w.recv(t)

	res := await(t, slow)
	require.GreaterOrEqual(t, time.Since(start), timeout)
	require.False(t, res.Success)
	require.Equal(t, domain.OutcomeTimeout, res.Outcome)
	require.Equal(t, "Request timeout", res.ErrorLabel())
	require.ErrorIs(t, res.Err(), domain.ErrTimeout)

	// The worker is still running the timed out task.
	s := h.stats(t)
	require.Equal(t, 1, s.Busy)
	require.Zero(t, s.Pending)

	next := h.submit(t, "next")
	w.requireIdle(t)
	require.Equal(t, 1, h.stats(t).Queued)

	// The late report frees the worker without a second delivery.
	w.complete(msgSlow)
	requireNoResult(t, slow)

	msgNext := w.recv(t)
	require.Equal(t, "next", msgNext.Req.Params["name"])
	w.complete(msgNext)
	requireName(t, await(t, next), "next")
}

func TestDispatcher_IgnoresReportFromNonOwner(t *testing.T) {
	h := startDispatcher(t, 2, time.Minute)
	w1, w2 := h.workers[0], h.workers[1]

	ch := h.submit(t, "owned")
	msg := w1.recv(t)

	w2.complete(msg)
	requireNoResult(t, ch)
	require.Equal(t, 1, h.stats(t).Busy)

	w1.complete(msg)
	requireName(t, await(t, ch), "owned")
}

func TestDispatcher_CrashedWorkerIsReplaced(t *testing.T) {
	h := startDispatcher(t, 2, time.Minute)
	w1 := h.workers[0]

	ch := h.submit(t, "doomed")
	w1.recv(t)
	w1.crash()

	res := await(t, ch)
	require.False(t, res.Success)
	require.Equal(t, domain.OutcomeWorkerCrashed, res.Outcome)
	require.Equal(t, w1.id, res.WorkerID)
	require.ErrorIs(t, res.Err(), domain.ErrWorkerCrashed)
	requireNoResult(t, ch)

	replacement := h.spawner.next(t)
	require.NotEqual(t, w1.id, replacement.id)
	replacement.ready()

	h.waitStats(t, func(s domain.PoolStats) bool {
		if len(s.Workers) != 2 || s.Idle != 2 {
			return false
		}
		for _, info := range s.Workers {
			if info.ID == w1.id {
				return false
			}
		}
		return true
	})

	// A report from the dead worker's old identity is ignored.
	w1.complete(domain.DispatchMessage{ID: res.CorrelationID, Req: &domain.TaskRequest{}})
	require.Equal(t, 2, h.stats(t).Idle)
}

func TestDispatcher_QueuedRequestSurvivesCrash(t *testing.T) {
	h := startDispatcher(t, 1, time.Minute)
	w := h.workers[0]

	first := h.submit(t, "first")
	second := h.submit(t, "second")
	w.recv(t)
	w.crash()
	require.Equal(t, domain.OutcomeWorkerCrashed, await(t, first).Outcome)

	replacement := h.spawner.next(t)
	replacement.ready()
	msg := replacement.recv(t)
	require.Equal(t, "second", msg.Req.Params["name"])
	replacement.complete(msg)
	requireName(t, await(t, second), "second")
}

func TestDispatcher_WorkerDyingBeforeReadyIsRespawnedLater(t *testing.T) {
	sp := newFakeSpawner()
	d := NewDispatcher(sp, Options{Capacity: 1, RespawnDelay: 50 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-d.Done()
	}()
	go d.Run(ctx)

	w := sp.next(t)
	died := time.Now()
	w.crash()

	replacement := sp.next(t)
	require.GreaterOrEqual(t, time.Since(died), 50*time.Millisecond)
	require.NotEqual(t, w.id, replacement.id)
}

func TestDispatcher_RetriesFailedSpawn(t *testing.T) {
	sp := newFakeSpawner()
	sp.failNext = 2
	d := NewDispatcher(sp, Options{Capacity: 1, RespawnDelay: 10 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-d.Done()
	}()
	go d.Run(ctx)

	w := sp.next(t)
	w.ready()
	require.Eventually(t, func() bool {
		s, err := d.Stats(context.Background())
		return err == nil && s.Idle == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_ShutdownResolvesOutstandingWithoutRespawn(t *testing.T) {
	h := startDispatcher(t, 1, time.Minute)
	w := h.workers[0]

	running := h.submit(t, "running")
	queued := h.submit(t, "queued")
	w.recv(t)

	h.cancel()
	for _, ch := range []<-chan domain.Result{running, queued} {
		res := await(t, ch)
		require.Equal(t, domain.OutcomeShutdown, res.Outcome)
		require.ErrorIs(t, res.Err(), domain.ErrDispatcherClosed)
	}

	select {
	case <-h.d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	require.Equal(t, 1, h.spawner.spawnCount())

	_, err := h.d.Submit(context.Background(), testTask, &domain.TaskRequest{})
	require.ErrorIs(t, err, domain.ErrDispatcherClosed)
	_, err = h.d.Stats(context.Background())
	require.ErrorIs(t, err, domain.ErrDispatcherClosed)
}

func TestDispatcher_StatsReportsWorkerStates(t *testing.T) {
	h := startDispatcher(t, 2, time.Minute)

	h.submit(t, "x")
	msg := h.workers[0].recv(t)

	s := h.stats(t)
	require.Equal(t, 2, s.Capacity)
	require.Len(t, s.Workers, 2)
	require.Equal(t, domain.WorkerBusy, s.Workers[0].State)
	require.Equal(t, msg.ID, s.Workers[0].CorrelationID)
	require.Equal(t, h.workers[0].pid, s.Workers[0].Pid)
	require.Equal(t, domain.WorkerIdle, s.Workers[1].State)
}
