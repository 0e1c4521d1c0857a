package master

import (
	"testing"
	"time"

	"clip-dispatch/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestRequestQueue_FIFO(t *testing.T) {
	var q requestQueue
	require.Nil(t, q.pop())

	a := newRequest("t", nil, nil)
	b := newRequest("t", nil, nil)
	c := newRequest("t", nil, nil)
	q.push(a)
	q.push(b)
	require.Equal(t, 2, q.len())
	require.False(t, a.enqueuedAt.IsZero())

	require.Same(t, a, q.pop())
	q.push(c)
	require.Same(t, b, q.pop())
	require.Same(t, c, q.pop())
	require.Nil(t, q.pop())
	require.Zero(t, q.len())
}

func TestRequestQueue_Drain(t *testing.T) {
	var q requestQueue
	a := newRequest("t", nil, nil)
	b := newRequest("t", nil, nil)
	q.push(a)
	q.push(b)

	require.Equal(t, []*request{a, b}, q.drain())
	require.Zero(t, q.len())
	require.Empty(t, q.drain())
}

func TestRequest_ResolvesOnce(t *testing.T) {
	r := newRequest("t", nil, nil)
	require.True(t, r.resolve(domain.TimeoutResult()))
	require.False(t, r.resolve(domain.SuccessResult("late", nil)))

	res := <-r.reply
	require.Equal(t, domain.OutcomeTimeout, res.Outcome)
	select {
	case extra := <-r.reply:
		t.Fatalf("second result delivered: %+v", extra)
	default:
	}
}

func TestPendingTable_TakeStopsTimer(t *testing.T) {
	pt := newPendingTable()
	fired := make(chan struct{}, 1)
	pt.add(&pendingEntry{
		id:    "c1",
		timer: time.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} }),
	})
	require.Equal(t, 1, pt.len())

	e, ok := pt.take("c1")
	require.True(t, ok)
	require.Equal(t, "c1", e.id)
	_, ok = pt.take("c1")
	require.False(t, ok)
	_, ok = pt.get("c1")
	require.False(t, ok)

	select {
	case <-fired:
		t.Fatal("timer fired after take")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPendingTable_DrainStopsAllTimers(t *testing.T) {
	pt := newPendingTable()
	for _, id := range []string{"a", "b"} {
		pt.add(&pendingEntry{id: id, timer: time.AfterFunc(time.Hour, func() {})})
	}
	entries := pt.drain()
	require.Len(t, entries, 2)
	require.Zero(t, pt.len())
	for _, e := range entries {
		require.False(t, e.timer.Stop(), "timer %s still armed", e.id)
	}
}
