// Package quest evaluates quest completion and estimates a user's share of
// a campaign pool.
package quest

import (
	"strings"

	"pulse-rewards/internal/allocation"
	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/token"
)

// Evaluate reports whether progress meets every non-zero requirement.
// A zero threshold means "not required", so empty requirements are always met.
func Evaluate(req domain.QuestRequirements, progress domain.QuestProgress) bool {
	checks := []struct {
		min, have uint64
	}{
		{req.MinPollsCreated, progress.PollsCreated},
		{req.MinVotesCast, progress.VotesCast},
		{req.MinSurveysCreated, progress.SurveysCreated},
		{req.MinSurveysCompleted, progress.SurveysCompleted},
		{req.MinRewardsClaimed, progress.RewardsClaimed},
	}
	for _, c := range checks {
		if c.min > 0 && c.have < c.min {
			return false
		}
	}
	return true
}

// EstimateReward computes the user's share of campaignPool. The result is
// an estimate that moves as other users earn points; Final is always false.
func EstimateReward(userPoints, totalPoints uint64, campaignPool token.Amount) *domain.UserPointsSummary {
	share := allocation.ComputeShare(userPoints, totalPoints, campaignPool.Big())
	estimated, err := token.FromBig(share.Estimated, campaignPool.Decimals())
	if err != nil {
		estimated = token.Zero(campaignPool.Decimals())
	}
	return &domain.UserPointsSummary{
		UserPoints:      userPoints,
		TotalPoints:     totalPoints,
		ShareBps:        share.Bps,
		EstimatedReward: estimated,
		Final:           false,
		Inconsistent:    share.Inconsistent,
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
