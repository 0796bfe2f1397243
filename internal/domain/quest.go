package domain

import "pulse-rewards/internal/token"

// QuestRequirements are per-quest thresholds. A zero field is not required.
type QuestRequirements struct {
	MinPollsCreated     uint64
	MinVotesCast        uint64
	MinSurveysCreated   uint64
	MinSurveysCompleted uint64
	MinRewardsClaimed   uint64
}

// QuestProgress holds a user's accumulated activity counters.
type QuestProgress struct {
	PollsCreated     uint64
	VotesCast        uint64
	SurveysCreated   uint64
	SurveysCompleted uint64
	RewardsClaimed   uint64
}

// Quest is a named achievement with its requirements and the user's progress.
type Quest struct {
	ID           string
	CampaignID   string
	Name         string
	Points       uint64
	Requirements QuestRequirements
	Progress     QuestProgress
	Completed    bool
	CompletedAt  *int64 // Unix ms, set once
}

// QuestCompletion is the stored one-way record that a quest was completed.
type QuestCompletion struct {
	Respondent  Principal
	CampaignID  string
	QuestID     string
	Points      uint64
	CompletedAt int64 // Unix ms
}

// UserPointsSummary is a live estimate of a user's share of a campaign pool.
// It is not a reservation and drifts as other users complete quests.
type UserPointsSummary struct {
	UserPoints      uint64
	TotalPoints     uint64
	ShareBps        uint64
	EstimatedReward token.Amount
	Final           bool
	// Inconsistent is set when the service reported more user points than
	// total points, or total points of zero with user points above zero.
	Inconsistent bool
}
