package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"clip-dispatch/internal/domain"

	goredis "github.com/redis/go-redis/v9"
)

const (
	workerKeyPrefix = "clipd:worker:"
	workersSetKey   = "clipd:workers"
)

// WorkerKey returns the hash key holding one worker's state.
func WorkerKey(id string) string {
	return workerKeyPrefix + id
}

type workerStateStore struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewWorkerStateStore mirrors worker state into redis hashes indexed by the
// clipd:workers set. Hashes expire after ttl so a crashed master leaves no
// stale entries behind.
func NewWorkerStateStore(client goredis.Cmdable, ttl time.Duration) domain.WorkerStateStore {
	return &workerStateStore{client: client, ttl: ttl}
}

func (s *workerStateStore) PutWorker(ctx context.Context, info domain.WorkerInfo) error {
	key := WorkerKey(info.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", info.ID,
			"pid", strconv.Itoa(info.Pid),
			"state", info.State.String(),
			"correlation_id", info.CorrelationID,
			"started_at", info.StartedAt.UTC().Format(time.RFC3339Nano),
			"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.SAdd(ctx, workersSetKey, info.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store worker %s: %w", info.ID, err)
	}
	return nil
}

func (s *workerStateStore) DeleteWorker(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, WorkerKey(id))
		pipe.SRem(ctx, workersSetKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete worker %s: %w", id, err)
	}
	return nil
}
