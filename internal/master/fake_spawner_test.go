package master

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"clip-dispatch/internal/domain"
)

type fakeSpawner struct {
	mu       sync.Mutex
	failNext int
	spawns   int
	spawned  chan *fakeProc
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawned: make(chan *fakeProc, 64)}
}

func (s *fakeSpawner) Spawn(_ context.Context, id string, events WorkerEvents) (WorkerProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return nil, errors.New("spawn failed")
	}
	s.spawns++
	p := &fakeProc{
		id:     id,
		pid:    1000 + s.spawns,
		events: events,
		sent:   make(chan domain.DispatchMessage, 16),
	}
	s.spawned <- p
	return p, nil
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

// next returns the next spawned worker.
func (s *fakeSpawner) next(t *testing.T) *fakeProc {
	t.Helper()
	select {
	case p := <-s.spawned:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no worker spawned")
		return nil
	}
}

type fakeProc struct {
	id     string
	pid    int
	events WorkerEvents
	sent   chan domain.DispatchMessage

	once sync.Once
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Send(msg domain.DispatchMessage) error {
	select {
	case p.sent <- msg:
		return nil
	default:
		return errors.New("full")
	}
}

func (p *fakeProc) Terminate() {
	p.once.Do(func() {
		go p.events.WorkerExited(p.id, nil)
	})
}

func (p *fakeProc) ready() {
	p.events.WorkerReady(p.id)
}

func (p *fakeProc) crash() {
	p.once.Do(func() {
		p.events.WorkerExited(p.id, errors.New("exit status 1"))
	})
}

// recv returns the next task dispatched to the worker.
func (p *fakeProc) recv(t *testing.T) domain.DispatchMessage {
	t.Helper()
	select {
	case msg := <-p.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("worker %s received no task", p.id)
		return domain.DispatchMessage{}
	}
}

func (p *fakeProc) requireIdle(t *testing.T) {
	t.Helper()
	select {
	case msg := <-p.sent:
		t.Fatalf("worker %s unexpectedly received task %s", p.id, msg.ID)
	case <-time.After(30 * time.Millisecond):
	}
}

func (p *fakeProc) complete(msg domain.DispatchMessage) {
	data, _ := json.Marshal(msg.Req.Params)
	res := domain.SuccessResult("done", data)
	p.events.WorkerReport(p.id, domain.ReportMessage{
		Type:   domain.MessageTaskCompleted,
		ID:     msg.ID,
		Result: &res,
	})
}

func (p *fakeProc) fail(msg domain.DispatchMessage, message string) {
	res := domain.FailureResult(domain.OutcomeExecutorFailure, "Processing failed", message)
	p.events.WorkerReport(p.id, domain.ReportMessage{
		Type:   domain.MessageTaskFailed,
		ID:     msg.ID,
		Result: &res,
	})
}
