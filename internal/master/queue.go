package master

import (
	"time"

	"clip-dispatch/internal/domain"
)

// request is one caller submission. It is resolved exactly once.
type request struct {
	task        string
	payload     *domain.TaskRequest
	trace       map[string]string
	reply       chan domain.Result
	submittedAt time.Time
	enqueuedAt  time.Time
	resolved    bool
}

func newRequest(task string, payload *domain.TaskRequest, trace map[string]string) *request {
	return &request{
		task:        task,
		payload:     payload,
		trace:       trace,
		reply:       make(chan domain.Result, 1),
		submittedAt: time.Now(),
	}
}

// resolve delivers res unless the request already has a result.
func (r *request) resolve(res domain.Result) bool {
	if r.resolved {
		return false
	}
	r.resolved = true
	r.reply <- res
	return true
}

// requestQueue is the FIFO backlog of requests waiting for an idle worker.
type requestQueue struct {
	items []*request
}

func (q *requestQueue) push(r *request) {
	r.enqueuedAt = time.Now()
	q.items = append(q.items, r)
}

// pop removes the head, or returns nil when empty.
func (q *requestQueue) pop() *request {
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r
}

func (q *requestQueue) len() int {
	return len(q.items)
}

// drain empties the queue and returns its contents in order.
func (q *requestQueue) drain() []*request {
	items := q.items
	q.items = nil
	return items
}
