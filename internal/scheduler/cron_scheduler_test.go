package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCronScheduler_RunsJobs(t *testing.T) {
	s := NewCronScheduler(testLogger())
	var runs atomic.Int32
	require.NoError(t, s.AddJob("cleanup", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestCronScheduler_RunNow(t *testing.T) {
	s := NewCronScheduler(testLogger())
	var runs atomic.Int32
	require.NoError(t, s.AddJob("cleanup", "*/10 * * * *", func(context.Context) error {
		runs.Add(1)
		return errors.New("permission denied")
	}))

	require.NoError(t, s.RunNow("cleanup"))
	require.Equal(t, int32(1), runs.Load())
	require.Error(t, s.RunNow("missing"))

	s.RemoveJob("cleanup")
	require.Error(t, s.RunNow("cleanup"))
}

func TestCronScheduler_RejectsBadSchedule(t *testing.T) {
	s := NewCronScheduler(testLogger())
	err := s.AddJob("cleanup", "every ten minutes", func(context.Context) error { return nil })
	require.Error(t, err)
}
