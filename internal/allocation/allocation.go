// Package allocation computes fundable response counts and proportional
// shares of a campaign pool. All arithmetic is integer; nothing here divides
// by zero.
package allocation

import (
	"math"
	"math/big"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/token"
)

// BpsDenominator is 100.00% in basis points.
const BpsDenominator = 10_000

// MaxFundableResponses returns floor(totalFund / rewardPerResponse).
// A zero or nil reward means funding is misconfigured and yields 0.
// Results above MaxUint64 saturate.
func MaxFundableResponses(totalFund, rewardPerResponse *big.Int) uint64 {
	if totalFund == nil || rewardPerResponse == nil || rewardPerResponse.Sign() <= 0 || totalFund.Sign() <= 0 {
		return 0
	}
	q := new(big.Int).Quo(totalFund, rewardPerResponse)
	if !q.IsUint64() {
		return math.MaxUint64
	}
	return q.Uint64()
}

// Share is a user's proportional slice of a pool.
type Share struct {
	Bps       uint64
	Estimated *big.Int
	// Inconsistent is set when the inputs cannot both be right:
	// totalPoints is zero while userPoints is not, or userPoints exceeds totalPoints.
	Inconsistent bool
}

// ComputeShare returns floor(user*10000/total) basis points and
// floor(pool*user/total). Zero user points or zero total points yield (0, 0),
// and so do inconsistent inputs, which are flagged.
func ComputeShare(userPoints, totalPoints uint64, campaignPool *big.Int) Share {
	share := Share{Estimated: new(big.Int)}
	if userPoints == 0 {
		return share
	}
	if totalPoints == 0 || userPoints > totalPoints {
		share.Inconsistent = true
		return share
	}

	u := new(big.Int).SetUint64(userPoints)
	tp := new(big.Int).SetUint64(totalPoints)

	bps := new(big.Int).Mul(u, big.NewInt(BpsDenominator))
	bps.Quo(bps, tp)
	share.Bps = bps.Uint64()

	if campaignPool != nil && campaignPool.Sign() > 0 {
		est := new(big.Int).Mul(campaignPool, u)
		share.Estimated = est.Quo(est, tp)
	}
	return share
}

// RewardRate summarises what a pool pays and how many more responses it can pay.
type RewardRate struct {
	RewardPerResponse token.Amount
	FundableTotal     uint64 // responses the total fund covers
	FundableRemaining uint64 // responses still payable, honouring MaxResponses
}

// EffectiveRewardRate derives the pool's current payout capacity.
func EffectiveRewardRate(p *domain.FundingInfo) RewardRate {
	rate := RewardRate{
		RewardPerResponse: p.RewardPerResponse,
		FundableTotal:     MaxFundableResponses(p.TotalFund.Big(), p.RewardPerResponse.Big()),
		FundableRemaining: MaxFundableResponses(p.RemainingFund.Big(), p.RewardPerResponse.Big()),
	}
	if p.MaxResponses != nil {
		left := uint64(0)
		if *p.MaxResponses > p.CurrentResponses {
			left = *p.MaxResponses - p.CurrentResponses
		}
		rate.FundableRemaining = min(rate.FundableRemaining, left)
		rate.FundableTotal = min(rate.FundableTotal, *p.MaxResponses)
	}
	return rate
}
