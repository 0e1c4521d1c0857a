package master

import (
	"time"
)

// pendingEntry links a dispatched request to its worker and deadline.
type pendingEntry struct {
	id           string
	req          *request
	workerID     string
	dispatchedAt time.Time
	deadline     time.Time
	timer        *time.Timer
}

// pendingTable holds in-flight requests by correlation id.
type pendingTable struct {
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

func (t *pendingTable) add(e *pendingEntry) {
	t.entries[e.id] = e
}

func (t *pendingTable) get(id string) (*pendingEntry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

// take removes the entry and stops its timer. A timer that already fired
// finds nothing to take, which makes late timeouts no-ops.
func (t *pendingTable) take(id string) (*pendingEntry, bool) {
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e, true
}

func (t *pendingTable) len() int {
	return len(t.entries)
}

// drain removes every entry and stops all timers.
func (t *pendingTable) drain() []*pendingEntry {
	out := make([]*pendingEntry, 0, len(t.entries))
	for id, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.entries, id)
		out = append(out, e)
	}
	return out
}
