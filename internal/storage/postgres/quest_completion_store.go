package postgres

import (
	"context"
	"fmt"
	"time"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
)

// QuestCompletionStore implements storage.QuestCompletionStore using PostgreSQL.
type QuestCompletionStore struct {
	pool *Pool
}

// NewQuestCompletionStore creates a new QuestCompletionStore.
func NewQuestCompletionStore(pool *Pool) *QuestCompletionStore {
	return &QuestCompletionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.QuestCompletionStore = (*QuestCompletionStore)(nil)

// Insert adds a completion. Returns ErrDuplicateKey if it exists.
func (s *QuestCompletionStore) Insert(ctx context.Context, c *domain.QuestCompletion) (err error) {
	if c == nil || c.Respondent == "" || c.CampaignID == "" || c.QuestID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("quest_completion_insert", start, err) }()

	query := `
		INSERT INTO quest_completions (respondent, campaign_id, quest_id, points, completed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.pool.Exec(ctx, query,
		string(c.Respondent),
		c.CampaignID,
		c.QuestID,
		int64(c.Points),
		c.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert quest completion: %w", err)
	}
	return nil
}

// ListByUser retrieves a user's completions in a campaign, ordered by completed_at ASC.
func (s *QuestCompletionStore) ListByUser(ctx context.Context, respondent domain.Principal, campaignID string) ([]*domain.QuestCompletion, error) {
	query := `
		SELECT respondent, campaign_id, quest_id, points, completed_at
		FROM quest_completions
		WHERE respondent = $1 AND campaign_id = $2
		ORDER BY completed_at ASC, quest_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(respondent), campaignID)
	if err != nil {
		return nil, fmt.Errorf("list quest completions: %w", err)
	}
	defer rows.Close()

	var result []*domain.QuestCompletion
	for rows.Next() {
		var (
			c      domain.QuestCompletion
			who    string
			points int64
		)
		if err := rows.Scan(&who, &c.CampaignID, &c.QuestID, &points, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan quest completion: %w", err)
		}
		c.Respondent = domain.Principal(who)
		c.Points = uint64(points)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quest completions: %w", err)
	}
	return result, nil
}
