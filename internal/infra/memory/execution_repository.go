package memory

import (
	"context"
	"fmt"
	"sync"

	"clip-dispatch/internal/domain"
)

// ExecutionRepository keeps the most recent execution records in memory.
// It is used when no etcd cluster is configured.
type ExecutionRepository struct {
	mu      sync.RWMutex
	limit   int
	records []*domain.ExecutionRecord // oldest first
	byID    map[string]*domain.ExecutionRecord
}

// NewExecutionRepository creates a repository holding at most limit records.
func NewExecutionRepository(limit int) *ExecutionRepository {
	if limit < 1 {
		limit = 1
	}
	return &ExecutionRepository{
		limit: limit,
		byID:  make(map[string]*domain.ExecutionRecord),
	}
}

func (r *ExecutionRepository) Save(_ context.Context, record *domain.ExecutionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid execution record: %w", err)
	}
	cp := *record

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[cp.ID]; ok {
		*old = cp
		return nil
	}
	if len(r.records) == r.limit {
		delete(r.byID, r.records[0].ID)
		r.records[0] = nil
		r.records = r.records[1:]
	}
	r.records = append(r.records, &cp)
	r.byID[cp.ID] = &cp
	return nil
}

func (r *ExecutionRepository) List(_ context.Context, page, pageSize int) ([]*domain.ExecutionRecord, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d or page size %d", page, pageSize)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.ExecutionRecord, 0, pageSize)
	skip := (page - 1) * pageSize
	for i := len(r.records) - 1 - skip; i >= 0 && len(out) < pageSize; i-- {
		cp := *r.records[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *ExecutionRepository) Get(_ context.Context, id string) (*domain.ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
	}
	cp := *rec
	return &cp, nil
}
