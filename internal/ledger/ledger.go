// Package ledger defines the external services the reward client calls and
// a JSON-RPC 2.0 implementation of them. The services are authoritative; this
// package only moves requests and classifies failures.
package ledger

import (
	"context"
	"math/big"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/token"
)

// ApproveRequest asks the asset ledger to let Spender pull up to Amount+FeeBuffer from Owner.
type ApproveRequest struct {
	Owner         domain.Principal
	Spender       domain.Principal
	TokenCanister *string
	Amount        token.Amount
	FeeBuffer     token.Amount
}

// AssetLedger is the token ledger holding contributor balances.
type AssetLedger interface {
	// Approve grants an allowance. Returns the ledger block index on success.
	Approve(ctx context.Context, req ApproveRequest) (uint64, error)

	// TransferFee returns the fixed fee, in smallest units, the ledger subtracts from transfers.
	TransferFee(ctx context.Context, tokenCanister *string) (*big.Int, error)
}

// PoolService owns funding pools.
type PoolService interface {
	// GetPool returns the authoritative pool state for a poll or survey.
	GetPool(ctx context.Context, pollID string) (*domain.FundingInfo, error)

	// UpdateFunding sets the total fund and reward per response of a self-owned pool.
	UpdateFunding(ctx context.Context, caller domain.Principal, pollID string, totalFund, rewardPerResponse token.Amount) (bool, error)

	// FundPool pulls amount from the caller's prior allowance into the pool.
	// A pull without a matching fresh allowance fails without moving tokens.
	FundPool(ctx context.Context, caller domain.Principal, pollID string, amount token.Amount) (string, error)
}

// ClaimService owns respondent rewards.
type ClaimService interface {
	// ListClaimableRewards returns the respondent's unclaimed reward rows.
	ListClaimableRewards(ctx context.Context, respondent domain.Principal) ([]*domain.PendingReward, error)

	// ClaimReward disburses the caller's reward for pollID. Returns a confirmation message.
	ClaimReward(ctx context.Context, caller domain.Principal, pollID string) (string, error)
}

// UserPoints is the service's view of a user's campaign points.
type UserPoints struct {
	UserPoints   uint64
	TotalPoints  uint64
	CampaignPool token.Amount
}

// QuestService owns quest campaigns.
type QuestService interface {
	GetUserQuests(ctx context.Context, respondent domain.Principal, campaignID string) ([]*domain.Quest, error)
	GetUserPoints(ctx context.Context, respondent domain.Principal, campaignID string) (*UserPoints, error)
	ClaimQuestRewards(ctx context.Context, caller domain.Principal, campaignID string) (*big.Int, error)
	HasClaimedQuestRewards(ctx context.Context, respondent domain.Principal, campaignID string) (bool, error)
}

// EventStream pushes pool status changes.
type EventStream interface {
	// SubscribePoolEvents streams status changes for the given polls (all polls if empty).
	SubscribePoolEvents(ctx context.Context, pollIDs []string) (<-chan domain.PoolEvent, error)

	// Close closes the stream and all subscription channels.
	Close() error
}
