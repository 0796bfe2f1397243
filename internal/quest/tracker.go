package quest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/logging"
	"pulse-rewards/internal/observability"
	"pulse-rewards/internal/session"
	"pulse-rewards/internal/storage"
	"pulse-rewards/internal/storage/memory"
	"pulse-rewards/internal/token"
)

var (
	// ErrAlreadyClaimed is returned when the campaign rewards were already paid out.
	ErrAlreadyClaimed = errors.New("quest rewards already claimed")

	// ErrClaimInFlight is returned when a claim for the same campaign is running.
	ErrClaimInFlight = errors.New("quest reward claim already in flight")
)

// Config configures a Tracker. Completions defaults to an in-memory store,
// which keeps the ratchet for the life of the process.
type Config struct {
	Service     ledger.QuestService
	Completions storage.QuestCompletionStore
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

// Tracker syncs quest progress and keeps completions one-way.
type Tracker struct {
	service     ledger.QuestService
	completions storage.QuestCompletionStore
	clock       clockwork.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	claiming map[string]struct{}
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config) *Tracker {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	completions := cfg.Completions
	if completions == nil {
		completions = memory.NewQuestCompletionStore()
	}
	return &Tracker{
		service:     cfg.Service,
		completions: completions,
		clock:       clock,
		logger:      logging.OrDiscard(cfg.Logger),
		claiming:    make(map[string]struct{}),
	}
}

// Sync fetches the user's quests and evaluates them. A quest that was ever
// seen completed stays completed, whatever the current progress says.
func (t *Tracker) Sync(ctx context.Context, sess *session.Session, campaignID string) ([]*domain.Quest, error) {
	respondent, err := session.Require(sess)
	if err != nil {
		return nil, err
	}

	quests, err := t.service.GetUserQuests(ctx, respondent, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get user quests: %w", err)
	}

	list, err := t.completions.ListByUser(ctx, respondent, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list quest completions: %w", err)
	}
	stored := make(map[string]*domain.QuestCompletion, len(list))
	for _, c := range list {
		stored[c.QuestID] = c
	}

	for _, q := range quests {
		if c, ok := stored[q.ID]; ok {
			completedAt := c.CompletedAt
			q.Completed = true
			q.CompletedAt = &completedAt
			continue
		}

		if !q.Completed && !Evaluate(q.Requirements, q.Progress) {
			continue
		}

		completedAt := t.clock.Now().UnixMilli()
		if q.CompletedAt != nil {
			completedAt = *q.CompletedAt
		}
		q.Completed = true
		q.CompletedAt = &completedAt

		if err := t.record(ctx, respondent, campaignID, q); err != nil {
			return nil, err
		}
	}
	return quests, nil
}

func (t *Tracker) record(ctx context.Context, respondent domain.Principal, campaignID string, q *domain.Quest) error {
	observability.RecordQuestCompletion()
	t.logger.Info("quest completed",
		"campaign_id", campaignID,
		"quest_id", q.ID,
		"points", q.Points,
	)
	err := t.completions.Insert(ctx, &domain.QuestCompletion{
		Respondent:  respondent,
		CampaignID:  campaignID,
		QuestID:     q.ID,
		Points:      q.Points,
		CompletedAt: *q.CompletedAt,
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("record quest completion: %w", err)
	}
	return nil
}

// Points returns the user's live reward estimate for a campaign.
func (t *Tracker) Points(ctx context.Context, sess *session.Session, campaignID string) (*domain.UserPointsSummary, error) {
	respondent, err := session.Require(sess)
	if err != nil {
		return nil, err
	}
	pts, err := t.service.GetUserPoints(ctx, respondent, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get user points: %w", err)
	}

	summary := EstimateReward(pts.UserPoints, pts.TotalPoints, pts.CampaignPool)
	if summary.Inconsistent {
		t.logger.Warn("inconsistent campaign points",
			"campaign_id", campaignID,
			"user_points", pts.UserPoints,
			"total_points", pts.TotalPoints,
		)
	}
	return summary, nil
}

// ClaimRewards pays out the user's campaign share. It makes a single claim
// call and never retries it.
func (t *Tracker) ClaimRewards(ctx context.Context, sess *session.Session, campaignID string) (token.Amount, error) {
	respondent, err := session.Require(sess)
	if err != nil {
		return token.Amount{}, err
	}

	key := string(respondent) + "|" + campaignID
	t.mu.Lock()
	if _, busy := t.claiming[key]; busy {
		t.mu.Unlock()
		return token.Amount{}, ErrClaimInFlight
	}
	t.claiming[key] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.claiming, key)
		t.mu.Unlock()
	}()

	claimed, err := t.service.HasClaimedQuestRewards(ctx, respondent, campaignID)
	if err != nil {
		return token.Amount{}, fmt.Errorf("check quest claim: %w", err)
	}
	if claimed {
		return token.Amount{}, ErrAlreadyClaimed
	}

	pts, err := t.service.GetUserPoints(ctx, respondent, campaignID)
	if err != nil {
		return token.Amount{}, fmt.Errorf("get user points: %w", err)
	}

	paid, err := t.service.ClaimQuestRewards(ctx, respondent, campaignID)
	if err != nil {
		if text, ok := ledger.RejectionText(err); ok && containsFold(text, "already claimed") {
			return token.Amount{}, fmt.Errorf("%w: %s", ErrAlreadyClaimed, text)
		}
		return token.Amount{}, fmt.Errorf("claim quest rewards: %w", err)
	}

	amount, err := token.FromBig(paid, pts.CampaignPool.Decimals())
	if err != nil {
		return token.Amount{}, fmt.Errorf("claim quest rewards: %w", err)
	}
	t.logger.Info("quest rewards claimed",
		"campaign_id", campaignID,
		"amount", amount.String(),
	)
	return amount, nil
}
