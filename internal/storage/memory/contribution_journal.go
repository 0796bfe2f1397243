package memory

import (
	"context"
	"sort"
	"sync"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
)

type journalKey struct {
	attemptID string
	seq       int
}

// ContributionJournal is an in-memory implementation of storage.ContributionJournal.
type ContributionJournal struct {
	mu   sync.RWMutex
	data map[journalKey]*domain.ContributionEvent
}

// NewContributionJournal creates a new in-memory contribution journal.
func NewContributionJournal() *ContributionJournal {
	return &ContributionJournal{
		data: make(map[journalKey]*domain.ContributionEvent),
	}
}

var _ storage.ContributionJournal = (*ContributionJournal)(nil)

// Append adds a transition. Returns ErrDuplicateKey if (attempt_id, seq) exists.
func (j *ContributionJournal) Append(_ context.Context, e *domain.ContributionEvent) error {
	if e == nil || e.AttemptID == "" || e.PollID == "" || e.State == "" {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	key := journalKey{attemptID: e.AttemptID, seq: e.Seq}
	if _, exists := j.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	eventCopy := *e
	j.data[key] = &eventCopy
	return nil
}

// GetByAttempt retrieves the transitions of one attempt, ordered by seq ASC.
func (j *ContributionJournal) GetByAttempt(_ context.Context, attemptID string) ([]*domain.ContributionEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*domain.ContributionEvent
	for _, e := range j.data {
		if e.AttemptID == attemptID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(a, b int) bool {
		return result[a].Seq < result[b].Seq
	})
	return result, nil
}

// GetByPoll retrieves all transitions for a poll, ordered by occurred_at, attempt_id, seq.
func (j *ContributionJournal) GetByPoll(_ context.Context, pollID string) ([]*domain.ContributionEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*domain.ContributionEvent
	for _, e := range j.data {
		if e.PollID == pollID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sortEvents(result)
	return result, nil
}

// ListUnfinished returns the latest transition of every non-terminal attempt.
func (j *ContributionJournal) ListUnfinished(_ context.Context) ([]*domain.ContributionEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	latest := make(map[string]*domain.ContributionEvent)
	for _, e := range j.data {
		if cur, ok := latest[e.AttemptID]; !ok || e.Seq > cur.Seq {
			latest[e.AttemptID] = e
		}
	}

	var result []*domain.ContributionEvent
	for _, e := range latest {
		if !e.State.IsTerminal() {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sortEvents(result)
	return result, nil
}

func sortEvents(events []*domain.ContributionEvent) {
	sort.Slice(events, func(a, b int) bool {
		if events[a].OccurredAt != events[b].OccurredAt {
			return events[a].OccurredAt < events[b].OccurredAt
		}
		if events[a].AttemptID != events[b].AttemptID {
			return events[a].AttemptID < events[b].AttemptID
		}
		return events[a].Seq < events[b].Seq
	})
}
