package master

import (
	"context"
	"log/slog"
	"time"

	"clip-dispatch/internal/domain"
)

const (
	mirrorBuffer       = 256
	mirrorWriteTimeout = 2 * time.Second
)

type stateUpdate struct {
	info    domain.WorkerInfo
	removed bool
}

// StateMirror is a StateObserver that replays worker state changes into a
// WorkerStateStore from a single goroutine, in the order they happened.
// Updates that do not fit in its buffer are dropped and logged.
//
// With a non-zero refresh interval the last known state of every live worker
// is written again on each tick, so store entries with a TTL outlive workers
// that stay in one state for long.
type StateMirror struct {
	store   domain.WorkerStateStore
	refresh time.Duration
	updates chan stateUpdate
	logger  *slog.Logger
}

// NewStateMirror creates a mirror writing to store. Run must be started for
// updates to be written. A zero refresh disables periodic rewrites.
func NewStateMirror(store domain.WorkerStateStore, refresh time.Duration, logger *slog.Logger) *StateMirror {
	return &StateMirror{
		store:   store,
		refresh: refresh,
		updates: make(chan stateUpdate, mirrorBuffer),
		logger:  logger.With("component", "state-mirror"),
	}
}

// WorkerChanged implements StateObserver.
func (m *StateMirror) WorkerChanged(info domain.WorkerInfo) {
	m.enqueue(stateUpdate{info: info})
}

// WorkerRemoved implements StateObserver.
func (m *StateMirror) WorkerRemoved(id string) {
	m.enqueue(stateUpdate{info: domain.WorkerInfo{ID: id}, removed: true})
}

func (m *StateMirror) enqueue(u stateUpdate) {
	select {
	case m.updates <- u:
	default:
		m.logger.Warn("state mirror is falling behind, dropping update", "worker_id", u.info.ID)
	}
}

// Run writes updates until ctx is canceled. Known workers are removed from
// the store on the way out.
func (m *StateMirror) Run(ctx context.Context) error {
	known := make(map[string]domain.WorkerInfo)

	var tick <-chan time.Time
	if m.refresh > 0 {
		ticker := time.NewTicker(m.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			m.flush(known)
			return nil
		case u := <-m.updates:
			m.apply(u, known)
		case <-tick:
			for _, info := range known {
				m.apply(stateUpdate{info: info}, known)
			}
		}
	}
}

func (m *StateMirror) apply(u stateUpdate, known map[string]domain.WorkerInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()

	var err error
	if u.removed {
		delete(known, u.info.ID)
		err = m.store.DeleteWorker(ctx, u.info.ID)
	} else {
		known[u.info.ID] = u.info
		err = m.store.PutWorker(ctx, u.info)
	}
	if err != nil {
		m.logger.Error("failed to mirror worker state", "worker_id", u.info.ID, "error", err)
	}
}

func (m *StateMirror) flush(known map[string]domain.WorkerInfo) {
	for {
		select {
		case u := <-m.updates:
			m.apply(u, known)
		default:
			for id := range known {
				m.apply(stateUpdate{info: domain.WorkerInfo{ID: id}, removed: true}, known)
			}
			return
		}
	}
}
