package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/observability"
	"pulse-rewards/internal/token"
)

// DefaultTimeout bounds a single call.
const DefaultTimeout = 30 * time.Second

// AnonymousPrincipal is the identity of an unauthenticated caller.
const AnonymousPrincipal domain.Principal = "2vxsx-fae"

// CallerHeader carries the signed caller principal on every request.
const CallerHeader = "X-Caller-Principal"

// HTTPClient implements AssetLedger, PoolService, ClaimService and QuestService
// over HTTP JSON-RPC 2.0. Each method makes exactly one attempt; retry policy
// belongs to the caller.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	limiter   *rate.Limiter
	caller    domain.Principal
	requestID atomic.Uint64
}

var (
	_ AssetLedger  = (*HTTPClient)(nil)
	_ PoolService  = (*HTTPClient)(nil)
	_ ClaimService = (*HTTPClient)(nil)
	_ QuestService = (*HTTPClient)(nil)
)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRateLimit throttles outgoing calls to rps requests per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCaller sets the identity used for read-only queries.
func WithCaller(p domain.Principal) ClientOption {
	return func(c *HTTPClient) {
		c.caller = p
	}
}

// NewHTTPClient creates a new ledger JSON-RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		caller:   AnonymousPrincipal,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call performs one JSON-RPC call as caller and classifies any failure.
func (c *HTTPClient) call(ctx context.Context, caller domain.Principal, method string, params []interface{}, result interface{}) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordLedgerCall(method, time.Since(start).Seconds(), err)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit wait: %w", method, err)
		}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if caller == "" {
		caller = c.caller
	}
	req.Header.Set(CallerHeader, caller.String())

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", method, ctxErr)
		}
		return networkError(method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(method, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Method: method, Code: CodeRateLimited, Message: "rate limited (429)", transient: true}
	case resp.StatusCode >= http.StatusInternalServerError:
		return Unavailable(method, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(respBody)))
	case resp.StatusCode != http.StatusOK:
		return &Error{Method: method, Code: CodeBadStatus, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(respBody))}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return &Error{Method: method, Code: CodeDecode, Message: err.Error(), err: err}
	}
	if rpcResp.Error != nil {
		return &Error{Method: method, Code: CodeRejected, Message: rpcResp.Error.Message, RPCCode: rpcResp.Error.Code}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return &Error{Method: method, Code: CodeDecode, Message: err.Error(), err: err}
		}
	}
	return nil
}

// callResult performs a call whose result is a backend Result variant
// ({"ok":...} or {"err":"text"}). An err variant becomes a rejection.
func (c *HTTPClient) callResult(ctx context.Context, caller domain.Principal, method string, params []interface{}, ok interface{}) error {
	var res resultVariant
	if err := c.call(ctx, caller, method, params, &res); err != nil {
		return err
	}
	if res.Err != nil {
		return Rejected(method, *res.Err)
	}
	if res.Ok == nil {
		return &Error{Method: method, Code: CodeDecode, Message: "result has neither ok nor err"}
	}
	if ok != nil {
		if err := json.Unmarshal(res.Ok, ok); err != nil {
			return &Error{Method: method, Code: CodeDecode, Message: err.Error(), err: err}
		}
	}
	return nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// Approve grants the spender an allowance of Amount+FeeBuffer.
func (c *HTTPClient) Approve(ctx context.Context, req ApproveRequest) (uint64, error) {
	if req.Amount.Decimals() != req.FeeBuffer.Decimals() {
		return 0, fmt.Errorf("approve: %w", token.ErrDecimalsMismatch)
	}
	allowance := req.Amount.Add(req.FeeBuffer)
	params := []interface{}{
		approveArgs{
			Spender:       req.Spender.String(),
			Amount:        allowance.UnitsString(),
			TokenCanister: req.TokenCanister,
		},
	}

	var blockIndex uint64
	if err := c.callResult(ctx, req.Owner, "icrc2_approve", params, &blockIndex); err != nil {
		return 0, err
	}
	return blockIndex, nil
}

// TransferFee returns the ledger's transfer fee in smallest units.
func (c *HTTPClient) TransferFee(ctx context.Context, tokenCanister *string) (*big.Int, error) {
	var raw string
	if err := c.call(ctx, "", "icrc1_fee", []interface{}{tokenCanister}, &raw); err != nil {
		return nil, err
	}
	fee, ok := new(big.Int).SetString(raw, 10)
	if !ok || fee.Sign() < 0 {
		return nil, &Error{Method: "icrc1_fee", Code: CodeDecode, Message: fmt.Sprintf("invalid fee %q", raw)}
	}
	return fee, nil
}

// GetPool returns the pool of a poll. Returns ErrNotFound if the poll has no funding.
func (c *HTTPClient) GetPool(ctx context.Context, pollID string) (*domain.FundingInfo, error) {
	var result *wireFundingInfo
	if err := c.call(ctx, "", "get_poll_funding", []interface{}{pollID}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("pool %s: %w", pollID, ErrNotFound)
	}
	info, err := result.toDomain()
	if err != nil {
		return nil, &Error{Method: "get_poll_funding", Code: CodeDecode, Message: err.Error(), err: err}
	}
	return info, nil
}

// UpdateFunding sets total fund and reward per response.
func (c *HTTPClient) UpdateFunding(ctx context.Context, caller domain.Principal, pollID string, totalFund, rewardPerResponse token.Amount) (bool, error) {
	params := []interface{}{pollID, totalFund.UnitsString(), rewardPerResponse.UnitsString()}
	var updated bool
	if err := c.callResult(ctx, caller, "update_poll_funding", params, &updated); err != nil {
		return false, err
	}
	return updated, nil
}

// FundPool pulls amount from caller's allowance into the pool.
func (c *HTTPClient) FundPool(ctx context.Context, caller domain.Principal, pollID string, amount token.Amount) (string, error) {
	var confirmation string
	if err := c.callResult(ctx, caller, "fund_poll", []interface{}{pollID, amount.UnitsString()}, &confirmation); err != nil {
		return "", err
	}
	return confirmation, nil
}

// ListClaimableRewards returns the respondent's unclaimed reward rows.
func (c *HTTPClient) ListClaimableRewards(ctx context.Context, respondent domain.Principal) ([]*domain.PendingReward, error) {
	var rows []wirePendingReward
	if err := c.call(ctx, respondent, "get_claimable_rewards", []interface{}{respondent.String()}, &rows); err != nil {
		return nil, err
	}
	rewards := make([]*domain.PendingReward, 0, len(rows))
	for _, r := range rows {
		reward, err := r.toDomain()
		if err != nil {
			return nil, &Error{Method: "get_claimable_rewards", Code: CodeDecode, Message: err.Error(), err: err}
		}
		rewards = append(rewards, reward)
	}
	return rewards, nil
}

// ClaimReward disburses the caller's reward for a poll.
func (c *HTTPClient) ClaimReward(ctx context.Context, caller domain.Principal, pollID string) (string, error) {
	var confirmation string
	if err := c.callResult(ctx, caller, "claim_poll_reward", []interface{}{pollID}, &confirmation); err != nil {
		return "", err
	}
	return confirmation, nil
}

// GetUserQuests returns the campaign's quests with the user's progress.
func (c *HTTPClient) GetUserQuests(ctx context.Context, respondent domain.Principal, campaignID string) ([]*domain.Quest, error) {
	var rows []wireQuest
	if err := c.call(ctx, respondent, "get_user_quests", []interface{}{respondent.String(), campaignID}, &rows); err != nil {
		return nil, err
	}
	quests := make([]*domain.Quest, 0, len(rows))
	for _, r := range rows {
		quests = append(quests, r.toDomain(campaignID))
	}
	return quests, nil
}

// GetUserPoints returns the user's and campaign-wide points plus the campaign pool.
func (c *HTTPClient) GetUserPoints(ctx context.Context, respondent domain.Principal, campaignID string) (*UserPoints, error) {
	var raw wireUserPoints
	if err := c.call(ctx, respondent, "get_user_points", []interface{}{respondent.String(), campaignID}, &raw); err != nil {
		return nil, err
	}
	pool, err := parseAmount(raw.CampaignPool, raw.TokenDecimals)
	if err != nil {
		return nil, &Error{Method: "get_user_points", Code: CodeDecode, Message: err.Error(), err: err}
	}
	return &UserPoints{
		UserPoints:   raw.UserPoints,
		TotalPoints:  raw.TotalPoints,
		CampaignPool: pool,
	}, nil
}

// ClaimQuestRewards disburses the caller's campaign reward and returns the amount paid.
func (c *HTTPClient) ClaimQuestRewards(ctx context.Context, caller domain.Principal, campaignID string) (*big.Int, error) {
	var raw string
	if err := c.callResult(ctx, caller, "claim_quest_rewards", []interface{}{campaignID}, &raw); err != nil {
		return nil, err
	}
	paid := parseUnits(raw)
	if paid == nil {
		return nil, &Error{Method: "claim_quest_rewards", Code: CodeDecode, Message: fmt.Sprintf("invalid amount %q", raw)}
	}
	return paid, nil
}

// HasClaimedQuestRewards reports whether the user already claimed the campaign reward.
func (c *HTTPClient) HasClaimedQuestRewards(ctx context.Context, respondent domain.Principal, campaignID string) (bool, error) {
	var claimed bool
	if err := c.call(ctx, respondent, "has_claimed_quest_rewards", []interface{}{respondent.String(), campaignID}, &claimed); err != nil {
		return false, err
	}
	return claimed, nil
}

// IsNotFound reports whether err means the service has no such record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
