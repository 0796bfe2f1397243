package pool

import (
	"fmt"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/token"
)

// Violation names a broken pool invariant.
type Violation string

const (
	ViolationRemainingMismatch      Violation = "remaining_mismatch"
	ViolationNegativeRemaining      Violation = "negative_remaining"
	ViolationContributorSumMismatch Violation = "contributor_sum_mismatch"
	ViolationDecimalsMismatch       Violation = "decimals_mismatch"
)

// InvariantError describes a pool whose accounting does not add up.
type InvariantError struct {
	PollID    string
	Violation Violation
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("pool %s invariant %s: %s", e.PollID, e.Violation, e.Detail)
}

// CheckInvariant verifies
//
//	remainingFund == totalFund - currentResponses*rewardPerResponse, remainingFund >= 0
//
// and, for crowdfunded pools, totalFund == sum(contributors).
func CheckInvariant(p *domain.FundingInfo) error {
	d := p.TokenDecimals
	for _, a := range []token.Amount{p.TotalFund, p.RewardPerResponse, p.RemainingFund} {
		if a.Decimals() != d {
			return &InvariantError{PollID: p.PollID, Violation: ViolationDecimalsMismatch,
				Detail: fmt.Sprintf("amount tagged %d decimals, pool has %d", a.Decimals(), d)}
		}
	}

	paid := p.RewardPerResponse.MulUint(p.CurrentResponses)
	expected, err := p.TotalFund.Sub(paid)
	if err != nil {
		return &InvariantError{PollID: p.PollID, Violation: ViolationNegativeRemaining,
			Detail: fmt.Sprintf("paid %s exceeds total %s", paid, p.TotalFund)}
	}
	if !expected.Equal(p.RemainingFund) {
		return &InvariantError{PollID: p.PollID, Violation: ViolationRemainingMismatch,
			Detail: fmt.Sprintf("remaining %s, expected %s", p.RemainingFund, expected)}
	}

	if p.FundingType == domain.FundingCrowdfunded {
		sum := token.Zero(d)
		for _, c := range p.Contributors {
			if c.Amount.Decimals() != d {
				return &InvariantError{PollID: p.PollID, Violation: ViolationDecimalsMismatch,
					Detail: fmt.Sprintf("contribution from %s tagged %d decimals", c.Principal, c.Amount.Decimals())}
			}
			sum = sum.Add(c.Amount)
		}
		if !sum.Equal(p.TotalFund) {
			return &InvariantError{PollID: p.PollID, Violation: ViolationContributorSumMismatch,
				Detail: fmt.Sprintf("contributors sum %s, total %s", sum, p.TotalFund)}
		}
	}
	return nil
}
