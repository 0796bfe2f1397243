package memory

import (
	"context"
	"sort"
	"sync"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
)

type completionKey struct {
	respondent domain.Principal
	campaignID string
	questID    string
}

// QuestCompletionStore is an in-memory implementation of storage.QuestCompletionStore.
type QuestCompletionStore struct {
	mu   sync.RWMutex
	data map[completionKey]*domain.QuestCompletion
}

// NewQuestCompletionStore creates a new in-memory quest completion store.
func NewQuestCompletionStore() *QuestCompletionStore {
	return &QuestCompletionStore{
		data: make(map[completionKey]*domain.QuestCompletion),
	}
}

var _ storage.QuestCompletionStore = (*QuestCompletionStore)(nil)

// Insert adds a completion. Returns ErrDuplicateKey if it exists.
func (s *QuestCompletionStore) Insert(_ context.Context, c *domain.QuestCompletion) error {
	if c == nil || c.Respondent == "" || c.CampaignID == "" || c.QuestID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := completionKey{respondent: c.Respondent, campaignID: c.CampaignID, questID: c.QuestID}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	completionCopy := *c
	s.data[key] = &completionCopy
	return nil
}

// ListByUser retrieves a user's completions in a campaign, ordered by completed_at ASC.
func (s *QuestCompletionStore) ListByUser(_ context.Context, respondent domain.Principal, campaignID string) ([]*domain.QuestCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.QuestCompletion
	for k, c := range s.data {
		if k.respondent == respondent && k.campaignID == campaignID {
			completionCopy := *c
			result = append(result, &completionCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CompletedAt != result[j].CompletedAt {
			return result[i].CompletedAt < result[j].CompletedAt
		}
		return result[i].QuestID < result[j].QuestID
	})
	return result, nil
}
