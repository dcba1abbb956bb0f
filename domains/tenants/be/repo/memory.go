package repo

import (
	"context"
	"sync"

	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and local development.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[int64]tenant.Record
}

// NewMemoryRepository constructs a MemoryRepository seeded with records.
func NewMemoryRepository(records ...tenant.Record) *MemoryRepository {
	r := &MemoryRepository{byID: make(map[int64]tenant.Record, len(records))}
	for _, rec := range records {
		r.byID[rec.ID] = rec
	}
	return r
}

// Put inserts or replaces a record.
func (r *MemoryRepository) Put(rec tenant.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = rec
}

func (r *MemoryRepository) FindActive(ctx context.Context, id int64) (tenant.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok || !rec.Active {
		return tenant.Record{}, tenant.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) UpdateDatabase(ctx context.Context, id int64, dbName string) (tenant.Record, tenant.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before, ok := r.byID[id]
	if !ok || !before.Active {
		return tenant.Record{}, tenant.Record{}, tenant.ErrNotFound
	}

	after := before
	after.Database = dbName
	r.byID[id] = after
	return before, after, nil
}
