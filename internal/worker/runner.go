package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/metrics"
	"clip-dispatch/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const failedLabel = "Processing failed"

// Runner executes dispatched tasks with the registered executors. It is
// used by both process workers and in-process workers.
type Runner struct {
	executors map[string]domain.TaskExecutor
	workerID  string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewRunner creates a runner for the worker identified by workerID.
func NewRunner(executors map[string]domain.TaskExecutor, workerID string, logger *slog.Logger) *Runner {
	return &Runner{
		executors: executors,
		workerID:  workerID,
		logger:    logger.With("component", "runner", "worker_id", workerID),
		tracer:    otel.Tracer("clip-dispatch-worker"),
	}
}

// Run executes one task and returns the report for it. It never panics:
// an executor panic is reported as a failure.
func (r *Runner) Run(ctx context.Context, msg domain.DispatchMessage) (report domain.ReportMessage) {
	parent := trace.SpanContextFromContext(tracing.Extract(context.Background(), msg.Trace))
	ctx, span := r.tracer.Start(ctx, "worker.Run",
		trace.WithLinks(trace.Link{SpanContext: parent}),
		trace.WithAttributes(
			attribute.String("task.name", msg.Task),
			attribute.String("task.correlation_id", msg.ID),
			attribute.String("worker.id", r.workerID),
		))
	defer span.End()

	logger := r.logger.With("task", msg.Task, "correlation_id", msg.ID)

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			logger.Error("task execution panicked", "panic", rec)
			span.RecordError(err)
			span.SetStatus(codes.Error, "task execution panicked")
			metrics.WorkerExecutionsTotal.WithLabelValues(msg.Task, "failed").Inc()
			report = failedReport(msg.ID, err)
		}
	}()

	executor, ok := r.executors[msg.Task]
	if !ok {
		err := fmt.Errorf("%w: %s", domain.ErrUnknownTask, msg.Task)
		logger.Error(err.Error())
		span.SetStatus(codes.Error, "unknown task")
		metrics.WorkerExecutionsTotal.WithLabelValues(msg.Task, "failed").Inc()
		return failedReport(msg.ID, err)
	}

	logger.Info("executing task")
	out, err := executor.Execute(ctx, msg.Req)
	if err == nil && out == nil {
		err = fmt.Errorf("executor returned no output")
	}
	var data json.RawMessage
	if err == nil {
		data, err = json.Marshal(out.Data)
	}
	if err != nil {
		logger.Error("task execution failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "task execution failed")
		metrics.WorkerExecutionsTotal.WithLabelValues(msg.Task, "failed").Inc()
		return failedReport(msg.ID, err)
	}

	logger.Info("task completed")
	span.SetStatus(codes.Ok, "task execution successful")
	metrics.WorkerExecutionsTotal.WithLabelValues(msg.Task, "success").Inc()
	res := domain.SuccessResult(out.Message, data)
	return domain.ReportMessage{
		Type:   domain.MessageTaskCompleted,
		ID:     msg.ID,
		Result: &res,
	}
}

func failedReport(id string, err error) domain.ReportMessage {
	res := domain.FailureResult(domain.OutcomeExecutorFailure, failedLabel, err.Error())
	return domain.ReportMessage{
		Type:   domain.MessageTaskFailed,
		ID:     id,
		Result: &res,
	}
}
