package memory

import (
	"context"
	"sort"
	"sync"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
)

type receiptKey struct {
	respondent domain.Principal
	pollID     string
}

// ClaimReceiptStore is an in-memory implementation of storage.ClaimReceiptStore.
type ClaimReceiptStore struct {
	mu   sync.RWMutex
	data map[receiptKey]*domain.ClaimReceipt
}

// NewClaimReceiptStore creates a new in-memory claim receipt store.
func NewClaimReceiptStore() *ClaimReceiptStore {
	return &ClaimReceiptStore{
		data: make(map[receiptKey]*domain.ClaimReceipt),
	}
}

var _ storage.ClaimReceiptStore = (*ClaimReceiptStore)(nil)

// Insert adds a receipt. Returns ErrDuplicateKey if (respondent, poll_id) exists.
func (s *ClaimReceiptStore) Insert(_ context.Context, r *domain.ClaimReceipt) error {
	if r == nil || r.ReceiptID == "" || r.Respondent == "" || r.PollID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := receiptKey{respondent: r.Respondent, pollID: r.PollID}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	receiptCopy := *r
	s.data[key] = &receiptCopy
	return nil
}

// Get retrieves the receipt of a (respondent, poll). Returns ErrNotFound if not exists.
func (s *ClaimReceiptStore) Get(_ context.Context, respondent domain.Principal, pollID string) (*domain.ClaimReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[receiptKey{respondent: respondent, pollID: pollID}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	receiptCopy := *r
	return &receiptCopy, nil
}

// ListByRespondent retrieves all receipts of a respondent, ordered by claimed_at ASC.
func (s *ClaimReceiptStore) ListByRespondent(_ context.Context, respondent domain.Principal) ([]*domain.ClaimReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ClaimReceipt
	for k, r := range s.data {
		if k.respondent == respondent {
			receiptCopy := *r
			result = append(result, &receiptCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ClaimedAt != result[j].ClaimedAt {
			return result[i].ClaimedAt < result[j].ClaimedAt
		}
		return result[i].PollID < result[j].PollID
	})
	return result, nil
}
