// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JobFunc is one run of a maintenance job.
type JobFunc func(ctx context.Context) error

// CronScheduler runs maintenance jobs (temp file cleanup) on cron schedules.
// Both 5-field and 6-field (seconds) expressions and descriptors such as
// "@every 10m" are accepted.
type CronScheduler struct {
	cron   *cron.Cron
	mu     sync.Mutex
	jobs   map[string]cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	tracer trace.Tracer
}

// NewCronScheduler creates a scheduler. Jobs start firing once Start runs.
func NewCronScheduler(logger *slog.Logger) *CronScheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:   make(map[string]cron.EntryID),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "cron-scheduler"),
		tracer: otel.Tracer("clip-dispatch-scheduler"),
	}
}

// Start runs the scheduler until ctx is canceled, then waits for running
// jobs to finish.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.logger.Info("cron scheduler started")
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopping...")
	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// AddJob schedules fn under name, replacing any job with the same name.
func (s *CronScheduler) AddJob(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
	}

	entryID, err := s.cron.AddJob(spec, s.wrap(name, fn))
	if err != nil {
		s.logger.Error("failed to add job to cron", "job_name", name, "error", err)
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	s.jobs[name] = entryID
	s.logger.Info("added job to scheduler", "job_name", name, "schedule", spec)
	return nil
}

// RemoveJob removes a job from the scheduler.
func (s *CronScheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.logger.Info("removed job from scheduler", "job_name", name)
	}
}

// RunNow runs a registered job immediately on the calling goroutine.
func (s *CronScheduler) RunNow(name string) error {
	s.mu.Lock()
	entryID, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not scheduled", name)
	}
	s.cron.Entry(entryID).WrappedJob.Run()
	return nil
}

func (s *CronScheduler) wrap(name string, fn JobFunc) cron.Job {
	return &cronJobWrapper{
		name:   name,
		fn:     fn,
		ctx:    s.ctx,
		logger: s.logger.With("job_name", name),
		tracer: s.tracer,
	}
}

type cronJobWrapper struct {
	name   string
	fn     JobFunc
	ctx    context.Context
	logger *slog.Logger
	tracer trace.Tracer
}

// Run is called by the cron library.
func (w *cronJobWrapper) Run() {
	// Start a new trace for this background job execution.
	ctx, span := w.tracer.Start(w.ctx, "scheduler.Run",
		trace.WithAttributes(attribute.String("job.name", w.name)))
	defer span.End()

	w.logger.Info("running job")
	if err := w.fn(ctx); err != nil {
		w.logger.Error("job failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		return
	}
	span.SetStatus(codes.Ok, "job finished")
}
