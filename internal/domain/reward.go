package domain

import "pulse-rewards/internal/token"

// RewardStatus is the derived status of a pending reward row.
type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "pending"
	RewardStatusClaimable RewardStatus = "claimable"
)

// PendingReward is one (respondent, funded poll) row after the qualifying action.
type PendingReward struct {
	PollID        string
	Amount        token.Amount
	TokenSymbol   string
	TokenDecimals uint8
	TokenCanister *string
	ClaimsAreOpen bool
}

// Status derives pending or claimable from ClaimsAreOpen.
func (r *PendingReward) Status() RewardStatus {
	if r.ClaimsAreOpen {
		return RewardStatusClaimable
	}
	return RewardStatusPending
}

// ClaimReceipt records a successful disbursement seen by this client.
type ClaimReceipt struct {
	ReceiptID    string
	Respondent   Principal
	PollID       string
	Amount       token.Amount
	Confirmation string
	ClaimedAt    int64 // Unix ms
}
