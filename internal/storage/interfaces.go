package storage

import (
	"context"

	"pulse-rewards/internal/domain"
)

// ContributionJournal records every transition of a contribution attempt.
type ContributionJournal interface {
	// Append adds a transition. Returns ErrDuplicateKey if (attempt_id, seq) exists.
	Append(ctx context.Context, e *domain.ContributionEvent) error

	// GetByAttempt retrieves the transitions of one attempt, ordered by seq ASC.
	GetByAttempt(ctx context.Context, attemptID string) ([]*domain.ContributionEvent, error)

	// GetByPoll retrieves all transitions for a poll, ordered by occurred_at, attempt_id, seq.
	GetByPoll(ctx context.Context, pollID string) ([]*domain.ContributionEvent, error)

	// ListUnfinished returns the latest transition of every attempt that has
	// not reached a terminal state, ordered by occurred_at ASC.
	ListUnfinished(ctx context.Context) ([]*domain.ContributionEvent, error)
}

// ClaimReceiptStore provides access to claim_receipts storage.
type ClaimReceiptStore interface {
	// Insert adds a receipt. Returns ErrDuplicateKey if (respondent, poll_id) exists.
	Insert(ctx context.Context, r *domain.ClaimReceipt) error

	// Get retrieves the receipt of a (respondent, poll). Returns ErrNotFound if not exists.
	Get(ctx context.Context, respondent domain.Principal, pollID string) (*domain.ClaimReceipt, error)

	// ListByRespondent retrieves all receipts of a respondent, ordered by claimed_at ASC.
	ListByRespondent(ctx context.Context, respondent domain.Principal) ([]*domain.ClaimReceipt, error)
}

// QuestCompletionStore provides access to quest_completions storage.
// Completions are never updated or removed.
type QuestCompletionStore interface {
	// Insert adds a completion. Returns ErrDuplicateKey if (respondent, campaign_id, quest_id) exists.
	Insert(ctx context.Context, c *domain.QuestCompletion) error

	// ListByUser retrieves a user's completions in a campaign, ordered by completed_at ASC.
	ListByUser(ctx context.Context, respondent domain.Principal, campaignID string) ([]*domain.QuestCompletion, error)
}

// PoolReplicaStore holds the last authoritative copy of each pool.
// Unlike the other stores it is overwritten on every refresh.
type PoolReplicaStore interface {
	// Put replaces the stored pool with an authoritative copy.
	Put(ctx context.Context, p *domain.FundingInfo) error

	// Get retrieves the stored pool. Returns ErrNotFound if not exists.
	Get(ctx context.Context, pollID string) (*domain.FundingInfo, error)
}

// PoolAuditStore provides access to pool_snapshots storage.
type PoolAuditStore interface {
	// InsertSnapshot appends a refresh snapshot.
	InsertSnapshot(ctx context.Context, s *domain.PoolSnapshot) error

	// GetByPoll retrieves snapshots of a poll, ordered by fetched_at ASC.
	GetByPoll(ctx context.Context, pollID string) ([]*domain.PoolSnapshot, error)

	// GetViolations retrieves snapshots that failed an invariant check within [start, end] (inclusive).
	GetViolations(ctx context.Context, start, end int64) ([]*domain.PoolSnapshot, error)
}
