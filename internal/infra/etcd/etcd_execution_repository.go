// internal/infra/etcd/etcd_execution_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"clip-dispatch/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ExecutionHistoryDir = "/clipd/executions/"
)

type etcdExecutionRepository struct {
	client    *clientv3.Client
	retention time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewEtcdExecutionRepository creates a new repository for execution records backed by etcd.
// Records expire after retention; zero keeps them forever.
func NewEtcdExecutionRepository(client *clientv3.Client, retention time.Duration, logger *slog.Logger) domain.ExecutionRepository {
	return &etcdExecutionRepository{
		client:    client,
		retention: retention,
		logger:    logger.With("component", "etcd-execution-repo"),
		tracer:    otel.Tracer("clip-dispatch-etcd-execution-repo"),
	}
}

// Save persists a single execution record to etcd.
// The key is structured as /clipd/executions/{executionID}.
func (r *etcdExecutionRepository) Save(ctx context.Context, record *domain.ExecutionRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveExecution")
	defer span.End()

	if err := record.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid execution record")
		return fmt.Errorf("invalid execution record: %w", err)
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal execution record")
		return fmt.Errorf("failed to marshal execution record %s to JSON: %w", record.ID, err)
	}

	key := path.Join(ExecutionHistoryDir, record.ID)
	span.SetAttributes(
		attribute.String("execution.id", record.ID),
		attribute.String("task.name", record.Task),
		attribute.String("etcd.key", key),
	)

	var opts []clientv3.OpOption
	if r.retention > 0 {
		lease, err := r.client.Grant(ctx, int64(r.retention.Seconds()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to grant lease")
			return fmt.Errorf("failed to grant lease for execution record %s: %w", record.ID, err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	_, err = r.client.Put(ctx, key, string(recordJSON), opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put execution record to etcd")
		return fmt.Errorf("failed to save execution record %s to etcd: %w", record.ID, err)
	}
	return nil
}

// Get retrieves a single execution record by its id.
func (r *etcdExecutionRepository) Get(ctx context.Context, executionID string) (*domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetExecution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	key := path.Join(ExecutionHistoryDir, executionID)
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get execution record from etcd")
		return nil, fmt.Errorf("failed to get execution record %s from etcd: %w", executionID, err)
	}

	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, executionID)
	}

	var record domain.ExecutionRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal execution record")
		return nil, fmt.Errorf("failed to unmarshal execution record %s from JSON: %w", executionID, err)
	}
	return &record, nil
}

// List retrieves historical execution records, with pagination.
// Records are returned in reverse chronological order (newest first).
func (r *etcdExecutionRepository) List(ctx context.Context, page, pageSize int) ([]*domain.ExecutionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListExecutions")
	defer span.End()
	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	startIdx := (page - 1) * pageSize
	endIdx := startIdx + pageSize

	// Sorted newest first, so only the first endIdx keys are needed.
	resp, err := r.client.Get(ctx, ExecutionHistoryDir,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend),
		clientv3.WithLimit(int64(endIdx)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list execution records from etcd")
		return nil, fmt.Errorf("failed to list execution records from etcd: %w", err)
	}

	records := make([]*domain.ExecutionRecord, 0, pageSize)
	for i, kv := range resp.Kvs {
		if i < startIdx {
			continue
		}
		if i >= endIdx {
			break
		}

		var record domain.ExecutionRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal execution record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}
