package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/spounge-ai/auditchain/internal/domain"
)

// MemoryStore keeps the ledger in process memory. Appends are serialized by
// a mutex; readers get copies.
type MemoryStore struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, seal domain.SealFunc) (domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuditRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var head *domain.AuditRecord
	if n := len(s.records); n > 0 {
		h := s.records[n-1]
		head = &h
	}

	rec, err := seal(head)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	if err := checkLink(head, rec); err != nil {
		return domain.AuditRecord{}, err
	}

	s.records = append(s.records, rec)
	return rec, nil
}

func (s *MemoryStore) Head(ctx context.Context) (*domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, nil
	}
	head := s.records[len(s.records)-1]
	return &head, nil
}

// List returns up to limit records starting at fromSequence. A non-positive
// limit returns everything from fromSequence on.
func (s *MemoryStore) List(ctx context.Context, fromSequence uint64, limit int) ([]domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].SequenceNumber >= fromSequence
	})
	end := len(s.records)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]domain.AuditRecord, end-start)
	copy(out, s.records[start:end])
	return out, nil
}

func (s *MemoryStore) All(ctx context.Context) ([]domain.AuditRecord, error) {
	return s.List(ctx, 0, 0)
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
