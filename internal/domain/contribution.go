package domain

import "pulse-rewards/internal/token"

// ContributionState is a state of the two-phase contribution protocol.
type ContributionState string

const (
	ContributionIdle               ContributionState = "IDLE"
	ContributionApproving          ContributionState = "APPROVING"
	ContributionAwaitingSettlement ContributionState = "AWAITING_SETTLEMENT"
	ContributionFunding            ContributionState = "FUNDING"
	ContributionSucceeded          ContributionState = "SUCCEEDED"
	ContributionFailed             ContributionState = "FAILED"
)

// IsTerminal reports whether no further transition follows.
func (s ContributionState) IsTerminal() bool {
	return s == ContributionSucceeded || s == ContributionFailed
}

// ContributionEvent is one journaled transition of a contribution attempt.
// Corresponds to contribution_journal table in PostgreSQL.
type ContributionEvent struct {
	AttemptID   string // deterministic hash, see idhash
	Seq         int    // transition index within the attempt
	PollID      string
	Contributor Principal
	Amount      token.Amount
	State       ContributionState
	Reason      string // failure reason code, empty otherwise
	Detail      string
	Attempt     int   // funding attempt number, 0 outside FUNDING
	OccurredAt  int64 // Unix ms
}

// PoolSnapshot is an authoritative pool refresh recorded for audit.
type PoolSnapshot struct {
	PollID            string
	TotalFund         token.Amount
	RemainingFund     token.Amount
	RewardPerResponse token.Amount
	CurrentResponses  uint64
	ContributorCount  int
	InvariantOK       bool
	Violation         string
	FetchedAt         int64 // Unix ms
}
