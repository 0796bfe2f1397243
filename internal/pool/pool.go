// Package pool holds the pure accounting rules for a reward funding pool.
// Every operation returns a proposed new state; the ledger-authoritative
// service commits it and the caller re-fetches.
package pool

import (
	"errors"
	"fmt"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/token"
)

var (
	// ErrInsufficientFunds is returned when a pool cannot pay one more response.
	ErrInsufficientFunds = errors.New("insufficient funds in pool")

	// ErrInvalidFundingType is returned when a non-crowdfunded pool receives a contribution.
	ErrInvalidFundingType = errors.New("pool does not accept contributions")

	// ErrInvalidAmount is returned for zero amounts or amounts of another token.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrRewardExceedsTotal is returned when the per-response reward is larger than the total fund.
	ErrRewardExceedsTotal = errors.New("reward per response exceeds total fund")
)

// Params describes a new pool.
type Params struct {
	PollID            string
	TokenType         domain.TokenType
	TokenCanister     *string
	TokenSymbol       string
	TokenDecimals     uint8
	TotalFund         token.Amount
	RewardPerResponse token.Amount
	MaxResponses      *uint64
	FundingType       domain.FundingType
	Creator           domain.Principal
}

// New builds a fresh pool with no paid responses.
// Crowdfunded pools record a non-zero initial fund as the creator's contribution.
func New(p Params) (*domain.FundingInfo, error) {
	if !p.FundingType.IsValid() {
		return nil, fmt.Errorf("%w: funding type %q", domain.ErrUnknownVariant, p.FundingType)
	}
	if !p.TotalFund.SameToken(p.RewardPerResponse) || p.TotalFund.Decimals() != p.TokenDecimals {
		return nil, fmt.Errorf("%w: decimals mismatch", ErrInvalidAmount)
	}

	info := &domain.FundingInfo{
		PollID:            p.PollID,
		TokenType:         p.TokenType,
		TokenCanister:     p.TokenCanister,
		TokenSymbol:       p.TokenSymbol,
		TokenDecimals:     p.TokenDecimals,
		TotalFund:         p.TotalFund,
		RewardPerResponse: p.RewardPerResponse,
		MaxResponses:      p.MaxResponses,
		RemainingFund:     p.TotalFund,
		FundingType:       p.FundingType,
	}
	if p.FundingType == domain.FundingCrowdfunded && !p.TotalFund.IsZero() {
		info.Contributors = []domain.Contribution{{Principal: p.Creator, Amount: p.TotalFund}}
	}
	return info.Clone(), nil
}

// ValidateFundingConfig checks a proposed (total, reward) funding update locally.
func ValidateFundingConfig(total, reward token.Amount) error {
	if !total.SameToken(reward) {
		return fmt.Errorf("%w: decimals mismatch", ErrInvalidAmount)
	}
	if reward.IsZero() {
		return fmt.Errorf("%w: reward per response is zero", ErrInvalidAmount)
	}
	if reward.Cmp(total) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrRewardExceedsTotal, reward, total)
	}
	return nil
}

// CanFund reports whether the pool can pay one more response.
func CanFund(p *domain.FundingInfo) bool {
	if p == nil {
		return false
	}
	if p.MaxResponses != nil && p.CurrentResponses >= *p.MaxResponses {
		return false
	}
	return p.RemainingFund.Cmp(p.RewardPerResponse) >= 0
}

// ReserveOneResponse proposes the state after paying one response.
// The input is never modified.
func ReserveOneResponse(p *domain.FundingInfo) (*domain.FundingInfo, error) {
	if !CanFund(p) {
		return nil, ErrInsufficientFunds
	}

	remaining, err := p.RemainingFund.Sub(p.RewardPerResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	next := p.Clone()
	next.CurrentResponses++
	next.RemainingFund = remaining
	return next, nil
}

// AddContribution proposes the state after a crowdfund deposit.
// The input is never modified.
func AddContribution(p *domain.FundingInfo, contributor domain.Principal, amount token.Amount) (*domain.FundingInfo, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidAmount)
	}
	if p.FundingType != domain.FundingCrowdfunded {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFundingType, p.FundingType)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: zero contribution", ErrInvalidAmount)
	}
	if amount.Decimals() != p.TokenDecimals {
		return nil, fmt.Errorf("%w: expected %d decimals, got %d", ErrInvalidAmount, p.TokenDecimals, amount.Decimals())
	}

	next := p.Clone()
	next.Contributors = append(next.Contributors, domain.Contribution{Principal: contributor, Amount: amount})
	next.TotalFund = p.TotalFund.Add(amount)
	next.RemainingFund = p.RemainingFund.Add(amount)
	return next, nil
}

// ContributedBy sums the deposits of one contributor.
func ContributedBy(p *domain.FundingInfo, contributor domain.Principal) token.Amount {
	sum := token.Zero(p.TokenDecimals)
	for _, c := range p.Contributors {
		if c.Principal == contributor {
			sum = sum.Add(c.Amount)
		}
	}
	return sum
}
