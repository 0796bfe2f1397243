package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
)

// PoolReplicaStore implements storage.PoolReplicaStore using PostgreSQL.
type PoolReplicaStore struct {
	pool *Pool
	now  func() time.Time
}

// NewPoolReplicaStore creates a new PoolReplicaStore.
func NewPoolReplicaStore(pool *Pool) *PoolReplicaStore {
	return &PoolReplicaStore{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ storage.PoolReplicaStore = (*PoolReplicaStore)(nil)

// contributorRow is the JSONB shape of one contributor.
type contributorRow struct {
	Principal string `json:"principal"`
	Amount    string `json:"amount"`
}

// Put replaces the stored pool with an authoritative copy.
func (s *PoolReplicaStore) Put(ctx context.Context, p *domain.FundingInfo) (err error) {
	if p == nil || p.PollID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("pool_put", start, err) }()

	contributors := make([]contributorRow, len(p.Contributors))
	for i, c := range p.Contributors {
		contributors[i] = contributorRow{Principal: string(c.Principal), Amount: c.Amount.UnitsString()}
	}
	contributorsJSON, err := json.Marshal(contributors)
	if err != nil {
		return fmt.Errorf("marshal contributors: %w", err)
	}

	var maxResponses *int64
	if p.MaxResponses != nil {
		v := int64(*p.MaxResponses)
		maxResponses = &v
	}

	query := `
		INSERT INTO pool_replicas (
			poll_id, token_type, token_canister, token_symbol, token_decimals,
			total_fund, reward_per_response, max_responses, current_responses,
			remaining_fund, funding_type, contributors, refreshed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::text::numeric, $7::text::numeric, $8, $9,
			$10::text::numeric, $11, $12, $13
		)
		ON CONFLICT (poll_id) DO UPDATE SET
			token_type = EXCLUDED.token_type,
			token_canister = EXCLUDED.token_canister,
			token_symbol = EXCLUDED.token_symbol,
			token_decimals = EXCLUDED.token_decimals,
			total_fund = EXCLUDED.total_fund,
			reward_per_response = EXCLUDED.reward_per_response,
			max_responses = EXCLUDED.max_responses,
			current_responses = EXCLUDED.current_responses,
			remaining_fund = EXCLUDED.remaining_fund,
			funding_type = EXCLUDED.funding_type,
			contributors = EXCLUDED.contributors,
			refreshed_at = EXCLUDED.refreshed_at
	`

	_, err = s.pool.Exec(ctx, query,
		p.PollID,
		string(p.TokenType),
		p.TokenCanister,
		p.TokenSymbol,
		int16(p.TokenDecimals),
		p.TotalFund.UnitsString(),
		p.RewardPerResponse.UnitsString(),
		maxResponses,
		int64(p.CurrentResponses),
		p.RemainingFund.UnitsString(),
		string(p.FundingType),
		contributorsJSON,
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert pool replica: %w", err)
	}
	return nil
}

// Get retrieves the stored pool. Returns ErrNotFound if not exists.
func (s *PoolReplicaStore) Get(ctx context.Context, pollID string) (*domain.FundingInfo, error) {
	query := `
		SELECT poll_id, token_type, token_canister, token_symbol, token_decimals,
			total_fund::text, reward_per_response::text, max_responses, current_responses,
			remaining_fund::text, funding_type, contributors
		FROM pool_replicas
		WHERE poll_id = $1
	`

	var (
		p                        domain.FundingInfo
		tokenType, fundingType   string
		decimals                 int16
		total, reward, remaining string
		maxResponses             *int64
		currentResponses         int64
		contributorsJSON         []byte
	)
	err := s.pool.QueryRow(ctx, query, pollID).Scan(
		&p.PollID,
		&tokenType,
		&p.TokenCanister,
		&p.TokenSymbol,
		&decimals,
		&total,
		&reward,
		&maxResponses,
		&currentResponses,
		&remaining,
		&fundingType,
		&contributorsJSON,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool replica: %w", err)
	}

	p.TokenType = domain.TokenType(tokenType)
	p.FundingType = domain.FundingType(fundingType)
	p.TokenDecimals = uint8(decimals)
	p.CurrentResponses = uint64(currentResponses)
	if maxResponses != nil {
		v := uint64(*maxResponses)
		p.MaxResponses = &v
	}
	if p.TotalFund, err = parseAmount(total, decimals); err != nil {
		return nil, err
	}
	if p.RewardPerResponse, err = parseAmount(reward, decimals); err != nil {
		return nil, err
	}
	if p.RemainingFund, err = parseAmount(remaining, decimals); err != nil {
		return nil, err
	}

	var contributors []contributorRow
	if err := json.Unmarshal(contributorsJSON, &contributors); err != nil {
		return nil, fmt.Errorf("unmarshal contributors: %w", err)
	}
	for _, c := range contributors {
		amount, err := parseAmount(c.Amount, decimals)
		if err != nil {
			return nil, err
		}
		p.Contributors = append(p.Contributors, domain.Contribution{
			Principal: domain.Principal(c.Principal),
			Amount:    amount,
		})
	}
	return &p, nil
}
