package memory

import (
	"context"
	"sort"
	"sync"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
)

// PoolReplicaStore is an in-memory implementation of storage.PoolReplicaStore.
type PoolReplicaStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FundingInfo // keyed by poll_id
}

// NewPoolReplicaStore creates a new in-memory pool replica store.
func NewPoolReplicaStore() *PoolReplicaStore {
	return &PoolReplicaStore{
		data: make(map[string]*domain.FundingInfo),
	}
}

var _ storage.PoolReplicaStore = (*PoolReplicaStore)(nil)

// Put replaces the stored pool.
func (s *PoolReplicaStore) Put(_ context.Context, p *domain.FundingInfo) error {
	if p == nil || p.PollID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[p.PollID] = p.Clone()
	return nil
}

// Get retrieves the stored pool. Returns ErrNotFound if not exists.
func (s *PoolReplicaStore) Get(_ context.Context, pollID string) (*domain.FundingInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[pollID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// PoolAuditStore is an in-memory implementation of storage.PoolAuditStore.
type PoolAuditStore struct {
	mu   sync.RWMutex
	data []*domain.PoolSnapshot
}

// NewPoolAuditStore creates a new in-memory pool audit store.
func NewPoolAuditStore() *PoolAuditStore {
	return &PoolAuditStore{}
}

var _ storage.PoolAuditStore = (*PoolAuditStore)(nil)

// InsertSnapshot appends a refresh snapshot.
func (s *PoolAuditStore) InsertSnapshot(_ context.Context, snap *domain.PoolSnapshot) error {
	if snap == nil || snap.PollID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapCopy := *snap
	s.data = append(s.data, &snapCopy)
	return nil
}

// GetByPoll retrieves snapshots of a poll, ordered by fetched_at ASC.
func (s *PoolAuditStore) GetByPoll(_ context.Context, pollID string) ([]*domain.PoolSnapshot, error) {
	return s.filter(func(snap *domain.PoolSnapshot) bool {
		return snap.PollID == pollID
	}), nil
}

// GetViolations retrieves failing snapshots within [start, end] (inclusive).
func (s *PoolAuditStore) GetViolations(_ context.Context, start, end int64) ([]*domain.PoolSnapshot, error) {
	return s.filter(func(snap *domain.PoolSnapshot) bool {
		return !snap.InvariantOK && snap.FetchedAt >= start && snap.FetchedAt <= end
	}), nil
}

func (s *PoolAuditStore) filter(keep func(*domain.PoolSnapshot) bool) []*domain.PoolSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PoolSnapshot
	for _, snap := range s.data {
		if keep(snap) {
			snapCopy := *snap
			result = append(result, &snapCopy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].FetchedAt < result[j].FetchedAt
	})
	return result
}
