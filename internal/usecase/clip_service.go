package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"clip-dispatch/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	historyWriteTimeout = 5 * time.Second
)

// HealthReport is the master's view of the pool.
type HealthReport struct {
	Status          string              `json:"status"`
	Pid             int                 `json:"pid"`
	Capacity        int                 `json:"capacity"`
	WorkerCount     int                 `json:"workerCount"`
	ActiveWorkers   int                 `json:"activeWorkers"`
	BusyWorkers     int                 `json:"busyWorkers"`
	QueuedRequests  int                 `json:"queuedRequests"`
	PendingRequests int                 `json:"pendingRequests"`
	Workers         []domain.WorkerInfo `json:"workers"`
	Timestamp       string              `json:"timestamp"`
}

// ClipService 负责把剪辑请求交给 dispatcher 并记录执行历史。
type ClipService struct {
	dispatcher domain.Dispatcher
	history    domain.ExecutionRepository
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewClipService creates a new ClipService instance.
func NewClipService(dispatcher domain.Dispatcher, history domain.ExecutionRepository, logger *slog.Logger) *ClipService {
	return &ClipService{
		dispatcher: dispatcher,
		history:    history,
		logger:     logger.With("component", "clip-service"),
		tracer:     otel.Tracer("clip-dispatch-usecase"),
	}
}

// ExtractClip submits an extract-clip task and waits for its result. If
// ctx ends first the result is still recorded once it arrives.
func (s *ClipService) ExtractClip(ctx context.Context, req *domain.TaskRequest) (domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "service.ExtractClip")
	defer span.End()

	start := time.Now()
	ch, err := s.dispatcher.Submit(ctx, domain.TaskExtractClip, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit task")
		return domain.Result{}, fmt.Errorf("failed to submit %s: %w", domain.TaskExtractClip, err)
	}

	select {
	case res := <-ch:
		span.SetAttributes(
			attribute.String("task.correlation_id", res.CorrelationID),
			attribute.String("task.outcome", string(res.Outcome)),
		)
		if !res.Success {
			span.SetStatus(codes.Error, res.ErrorLabel())
		}
		s.record(domain.TaskExtractClip, start, res)
		return res, nil
	case <-ctx.Done():
		span.SetStatus(codes.Error, "caller went away")
		go func() {
			s.record(domain.TaskExtractClip, start, <-ch)
		}()
		return domain.Result{}, ctx.Err()
	}
}

func (s *ClipService) record(task string, start time.Time, res domain.Result) {
	id := res.CorrelationID
	if id == "" {
		// 从未分配给 worker 的请求（例如关闭时仍在队列中）。
		id = uuid.NewString()
	}
	rec := &domain.ExecutionRecord{
		ID:        id,
		Task:      task,
		WorkerID:  res.WorkerID,
		StartTime: start,
		EndTime:   time.Now(),
		Status:    domain.StatusFromOutcome(res.Outcome),
		Message:   res.Message,
		Error:     res.ErrorLabel(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := s.history.Save(ctx, rec); err != nil {
		s.logger.Error("failed to save execution record", "execution_id", id, "error", err)
	}
}

// History lists execution records, newest first.
func (s *ClipService) History(ctx context.Context, page, pageSize int) ([]*domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.History")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	records, err := s.history.List(ctx, page, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list execution history")
	}
	return records, err
}

// Execution returns one execution record.
func (s *ClipService) Execution(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.Execution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", id))

	rec, err := s.history.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get execution record")
	}
	return rec, err
}

// Health reports the state of the worker pool.
func (s *ClipService) Health(ctx context.Context) (*HealthReport, error) {
	stats, err := s.dispatcher.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthReport{
		Status:          "ok",
		Pid:             os.Getpid(),
		Capacity:        stats.Capacity,
		WorkerCount:     len(stats.Workers),
		ActiveWorkers:   stats.Idle + stats.Busy,
		BusyWorkers:     stats.Busy,
		QueuedRequests:  stats.Queued,
		PendingRequests: stats.Pending,
		Workers:         stats.Workers,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}
