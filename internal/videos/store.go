package videos

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is the durable record store. Modify must be atomic for a single record:
// the callback runs against the current row and its result is written back
// only if it returns nil.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Modify(ctx context.Context, id string, fn func(r *Record) error) (*Record, error)
	ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]*Record, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error)
}

// Claim atomically moves a queued record to processing. It returns ErrConflict
// when the record is not queued, so only one dispatcher ever hands it off.
func Claim(ctx context.Context, s Store, id string, now time.Time) (*Record, error) {
	return s.Modify(ctx, id, func(r *Record) error {
		if r.Status != StatusQueued {
			return fmt.Errorf("%w: record is %s", ErrConflict, r.Status)
		}
		return r.MarkProcessing(now)
	})
}

// MemoryStore keeps records in process memory. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

func (m *MemoryStore) Create(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("video %s already exists", r.ID)
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Modify(ctx context.Context, id string, fn func(r *Record) error) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	m.records[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if r.Status == status && r.UpdatedAt.Before(updatedBefore) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if r.OwnerID == ownerID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
