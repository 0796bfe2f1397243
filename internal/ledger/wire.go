package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/token"
)

// resultVariant is the backend's Result<T, text> shape.
type resultVariant struct {
	Ok  json.RawMessage `json:"ok,omitempty"`
	Err *string         `json:"err,omitempty"`
}

type approveArgs struct {
	Spender       string  `json:"spender"`
	Amount        string  `json:"amount"`
	TokenCanister *string `json:"tokenCanister,omitempty"`
}

// wireFundingInfo is the raw RPC result of get_poll_funding.
// Amounts travel as decimal integer strings in smallest units.
type wireFundingInfo struct {
	PollID            string             `json:"pollId"`
	TokenType         domain.TokenType   `json:"tokenType"`
	TokenCanister     *string            `json:"tokenCanisterId"`
	TokenSymbol       string             `json:"tokenSymbol"`
	TokenDecimals     uint8              `json:"tokenDecimals"`
	TotalFund         string             `json:"totalFund"`
	RewardPerResponse string             `json:"rewardPerResponse"`
	MaxResponses      *uint64            `json:"maxResponses"`
	CurrentResponses  uint64             `json:"currentResponses"`
	RemainingFund     string             `json:"remainingFund"`
	FundingType       domain.FundingType `json:"fundingType"`
	Contributors      []wireContribution `json:"contributors"`
}

type wireContribution struct {
	Principal string `json:"principal"`
	Amount    string `json:"amount"`
}

func (w *wireFundingInfo) toDomain() (*domain.FundingInfo, error) {
	// An absent key never reaches the variant decoder.
	if !w.FundingType.IsValid() {
		return nil, fmt.Errorf("pool %s: %w: funding type %q", w.PollID, domain.ErrUnknownVariant, w.FundingType)
	}
	if !w.TokenType.IsValid() {
		return nil, fmt.Errorf("pool %s: %w: token type %q", w.PollID, domain.ErrUnknownVariant, w.TokenType)
	}
	if w.TokenDecimals > token.MaxDecimals {
		return nil, fmt.Errorf("pool %s: %w: %d", w.PollID, token.ErrDecimalsOutOfRange, w.TokenDecimals)
	}
	d := w.TokenDecimals

	total, err := parseAmount(w.TotalFund, d)
	if err != nil {
		return nil, fmt.Errorf("pool %s totalFund: %w", w.PollID, err)
	}
	reward, err := parseAmount(w.RewardPerResponse, d)
	if err != nil {
		return nil, fmt.Errorf("pool %s rewardPerResponse: %w", w.PollID, err)
	}
	remaining, err := parseAmount(w.RemainingFund, d)
	if err != nil {
		return nil, fmt.Errorf("pool %s remainingFund: %w", w.PollID, err)
	}

	info := &domain.FundingInfo{
		PollID:            w.PollID,
		TokenType:         w.TokenType,
		TokenCanister:     w.TokenCanister,
		TokenSymbol:       w.TokenSymbol,
		TokenDecimals:     d,
		TotalFund:         total,
		RewardPerResponse: reward,
		MaxResponses:      w.MaxResponses,
		CurrentResponses:  w.CurrentResponses,
		RemainingFund:     remaining,
		FundingType:       w.FundingType,
	}
	for _, c := range w.Contributors {
		amount, err := parseAmount(c.Amount, d)
		if err != nil {
			return nil, fmt.Errorf("pool %s contributor %s: %w", w.PollID, c.Principal, err)
		}
		info.Contributors = append(info.Contributors, domain.Contribution{
			Principal: domain.Principal(c.Principal),
			Amount:    amount,
		})
	}
	return info, nil
}

// wirePendingReward is one row of get_claimable_rewards.
type wirePendingReward struct {
	PollID        string             `json:"pollId"`
	Amount        string             `json:"amount"`
	TokenSymbol   string             `json:"tokenSymbol"`
	TokenDecimals uint8              `json:"tokenDecimals"`
	TokenCanister *string            `json:"tokenCanisterId"`
	PollStatus    *domain.PollStatus `json:"pollStatus,omitempty"`
	ClaimsAreOpen *bool              `json:"claimsAreOpen,omitempty"`
}

// toDomain derives ClaimsAreOpen from the explicit flag, falling back to the poll status.
func (w *wirePendingReward) toDomain() (*domain.PendingReward, error) {
	amount, err := parseAmount(w.Amount, w.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("reward %s: %w", w.PollID, err)
	}
	open := false
	switch {
	case w.ClaimsAreOpen != nil:
		open = *w.ClaimsAreOpen
	case w.PollStatus != nil:
		open = w.PollStatus.ClaimsOpen()
	}
	return &domain.PendingReward{
		PollID:        w.PollID,
		Amount:        amount,
		TokenSymbol:   w.TokenSymbol,
		TokenDecimals: w.TokenDecimals,
		TokenCanister: w.TokenCanister,
		ClaimsAreOpen: open,
	}, nil
}

// wireQuest is one row of get_user_quests. Absent thresholds are not required.
type wireQuest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Points       uint64 `json:"points"`
	Requirements struct {
		MinPolls           *uint64 `json:"minPolls"`
		MinVotes           *uint64 `json:"minVotes"`
		MinSurveys         *uint64 `json:"minSurveys"`
		MinSurveysComplete *uint64 `json:"minSurveysCompleted"`
		MinRewardsClaimed  *uint64 `json:"minRewardsClaimed"`
	} `json:"requirements"`
	Progress struct {
		PollsCreated     uint64 `json:"pollsCreated"`
		VotesCast        uint64 `json:"votesCast"`
		SurveysCreated   uint64 `json:"surveysCreated"`
		SurveysCompleted uint64 `json:"surveysCompleted"`
		RewardsClaimed   uint64 `json:"rewardsClaimed"`
	} `json:"progress"`
	Completed   bool   `json:"completed"`
	CompletedAt *int64 `json:"completedAt"`
}

func (w *wireQuest) toDomain(campaignID string) *domain.Quest {
	return &domain.Quest{
		ID:         w.ID,
		CampaignID: campaignID,
		Name:       w.Name,
		Points:     w.Points,
		Requirements: domain.QuestRequirements{
			MinPollsCreated:     deref(w.Requirements.MinPolls),
			MinVotesCast:        deref(w.Requirements.MinVotes),
			MinSurveysCreated:   deref(w.Requirements.MinSurveys),
			MinSurveysCompleted: deref(w.Requirements.MinSurveysComplete),
			MinRewardsClaimed:   deref(w.Requirements.MinRewardsClaimed),
		},
		Progress: domain.QuestProgress{
			PollsCreated:     w.Progress.PollsCreated,
			VotesCast:        w.Progress.VotesCast,
			SurveysCreated:   w.Progress.SurveysCreated,
			SurveysCompleted: w.Progress.SurveysCompleted,
			RewardsClaimed:   w.Progress.RewardsClaimed,
		},
		Completed:   w.Completed,
		CompletedAt: w.CompletedAt,
	}
}

type wireUserPoints struct {
	UserPoints    uint64 `json:"userPoints"`
	TotalPoints   uint64 `json:"totalPoints"`
	CampaignPool  string `json:"campaignPool"`
	TokenDecimals uint8  `json:"tokenDecimals"`
}

// parseUnits parses a decimal integer string. Returns nil if invalid or negative.
func parseUnits(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil
	}
	return v
}

func parseAmount(s string, decimals uint8) (token.Amount, error) {
	v := parseUnits(s)
	if v == nil {
		return token.Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return token.FromBig(v, decimals)
}

func deref(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
