// Package stub provides in-memory fakes of the ledger services for tests.
// The fakes keep authoritative state the way the real services do: a pull
// needs a fresh allowance, a reward is disbursed at most once, and every
// read returns a copy.
package stub

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/pool"
	"pulse-rewards/internal/token"
)

// DefaultFee is the transfer fee of a fresh stub ledger, in smallest units.
const DefaultFee = 10_000

// Ledger implements every ledger service interface in memory.
type Ledger struct {
	mu sync.Mutex

	Fee *big.Int

	pools      map[string]*domain.FundingInfo
	allowances map[domain.Principal]*big.Int
	rewards    map[domain.Principal][]*domain.PendingReward
	claimed    map[string]bool // respondent|pollID

	quests        map[string][]*domain.Quest // respondent|campaign
	userPoints    map[string]uint64          // respondent|campaign
	totalPoints   map[string]uint64          // campaign
	campaignPools map[string]token.Amount
	questClaimed  map[string]bool // respondent|campaign

	// Scripted failures, consumed in order.
	approveErrs []error
	feeErrs     []error
	fundErrs    []error
	getPoolErrs []error
	claimErrs   []error

	// PoolView, if set, rewrites the pool returned by GetPool.
	PoolView func(*domain.FundingInfo) *domain.FundingInfo

	approveCalls int
	fundCalls    int
	claimCalls   int
	getPoolCalls int

	subs   []chan domain.PoolEvent
	seq    int64
	closed bool
}

var (
	_ ledger.AssetLedger  = (*Ledger)(nil)
	_ ledger.PoolService  = (*Ledger)(nil)
	_ ledger.ClaimService = (*Ledger)(nil)
	_ ledger.QuestService = (*Ledger)(nil)
	_ ledger.EventStream  = (*Ledger)(nil)
)

// NewLedger creates an empty stub ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Fee:           big.NewInt(DefaultFee),
		pools:         make(map[string]*domain.FundingInfo),
		allowances:    make(map[domain.Principal]*big.Int),
		rewards:       make(map[domain.Principal][]*domain.PendingReward),
		claimed:       make(map[string]bool),
		quests:        make(map[string][]*domain.Quest),
		userPoints:    make(map[string]uint64),
		totalPoints:   make(map[string]uint64),
		campaignPools: make(map[string]token.Amount),
		questClaimed:  make(map[string]bool),
	}
}

func key(a, b string) string {
	return a + "|" + b
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// FailApprove queues errors returned by the next Approve calls.
func (l *Ledger) FailApprove(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.approveErrs = append(l.approveErrs, errs...)
}

// FailTransferFee queues errors returned by the next TransferFee calls.
func (l *Ledger) FailTransferFee(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeErrs = append(l.feeErrs, errs...)
}

// FailFund queues errors returned by the next FundPool calls.
func (l *Ledger) FailFund(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fundErrs = append(l.fundErrs, errs...)
}

// FailGetPool queues errors returned by the next GetPool calls.
func (l *Ledger) FailGetPool(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.getPoolErrs = append(l.getPoolErrs, errs...)
}

// FailClaim queues errors returned by the next ClaimReward calls.
func (l *Ledger) FailClaim(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claimErrs = append(l.claimErrs, errs...)
}

// AddPool stores a pool.
func (l *Ledger) AddPool(p *domain.FundingInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pools[p.PollID] = p.Clone()
}

// Pool returns a copy of the stored pool, ignoring PoolView.
func (l *Ledger) Pool(pollID string) *domain.FundingInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pools[pollID].Clone()
}

// Allowance returns the owner's remaining allowance.
func (l *Ledger) Allowance(owner domain.Principal) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[owner]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Calls returns the number of Approve, FundPool, ClaimReward and GetPool calls made.
func (l *Ledger) Calls() (approve, fund, claim, getPool int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.approveCalls, l.fundCalls, l.claimCalls, l.getPoolCalls
}

// Approve records an allowance, replacing any previous one.
func (l *Ledger) Approve(_ context.Context, req ledger.ApproveRequest) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.approveCalls++
	if err := pop(&l.approveErrs); err != nil {
		return 0, err
	}
	if req.Owner == "" {
		return 0, ledger.Rejected("icrc2_approve", "anonymous caller")
	}
	l.allowances[req.Owner] = req.Amount.Add(req.FeeBuffer).Big()
	return uint64(l.approveCalls), nil
}

// TransferFee returns the configured fee.
func (l *Ledger) TransferFee(_ context.Context, _ *string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := pop(&l.feeErrs); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.Fee), nil
}

// GetPool returns a copy of the pool.
func (l *Ledger) GetPool(_ context.Context, pollID string) (*domain.FundingInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.getPoolCalls++
	if err := pop(&l.getPoolErrs); err != nil {
		return nil, err
	}
	p, ok := l.pools[pollID]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", pollID, ledger.ErrNotFound)
	}
	out := p.Clone()
	if l.PoolView != nil {
		out = l.PoolView(out)
	}
	return out, nil
}

// UpdateFunding replaces the total fund and reward per response.
func (l *Ledger) UpdateFunding(_ context.Context, caller domain.Principal, pollID string, totalFund, rewardPerResponse token.Amount) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[pollID]
	if !ok {
		return false, ledger.Rejected("update_poll_funding", "poll not found")
	}
	if caller == "" {
		return false, ledger.Rejected("update_poll_funding", "anonymous caller")
	}
	if err := pool.ValidateFundingConfig(totalFund, rewardPerResponse); err != nil {
		return false, ledger.Rejected("update_poll_funding", err.Error())
	}
	spent := rewardPerResponse.MulUint(p.CurrentResponses)
	remaining, err := totalFund.Sub(spent)
	if err != nil {
		return false, ledger.Rejected("update_poll_funding", "total fund below amount already paid")
	}
	p.TotalFund = totalFund
	p.RewardPerResponse = rewardPerResponse
	p.RemainingFund = remaining
	return true, nil
}

// FundPool pulls amount plus the fee from the caller's allowance.
func (l *Ledger) FundPool(_ context.Context, caller domain.Principal, pollID string, amount token.Amount) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fundCalls++
	if err := pop(&l.fundErrs); err != nil {
		return "", err
	}
	p, ok := l.pools[pollID]
	if !ok {
		return "", ledger.Rejected("fund_poll", "poll not found")
	}
	need := new(big.Int).Add(amount.Big(), l.Fee)
	allowance, ok := l.allowances[caller]
	if !ok || allowance.Cmp(need) < 0 {
		return "", ledger.Rejected("fund_poll", "insufficient allowance")
	}
	next, err := pool.AddContribution(p, caller, amount)
	if err != nil {
		return "", ledger.Rejected("fund_poll", err.Error())
	}
	allowance.Sub(allowance, need)
	l.pools[pollID] = next
	return fmt.Sprintf("Funded %s %s", amount, p.TokenSymbol), nil
}

// AddReward gives a respondent a reward row.
func (l *Ledger) AddReward(respondent domain.Principal, r *domain.PendingReward) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *r
	l.rewards[respondent] = append(l.rewards[respondent], &c)
}

// SetPollStatus updates reward rows of a poll and notifies subscribers.
func (l *Ledger) SetPollStatus(pollID string, status domain.PollStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rows := range l.rewards {
		for _, r := range rows {
			if r.PollID == pollID {
				r.ClaimsAreOpen = status.ClaimsOpen()
			}
		}
	}
	l.seq++
	ev := domain.PoolEvent{PollID: pollID, Status: status, Seq: l.seq}
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ListClaimableRewards returns copies of the respondent's unclaimed rows.
func (l *Ledger) ListClaimableRewards(_ context.Context, respondent domain.Principal) ([]*domain.PendingReward, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.PendingReward
	for _, r := range l.rewards[respondent] {
		if l.claimed[key(string(respondent), r.PollID)] {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// ClaimReward disburses a reward at most once.
func (l *Ledger) ClaimReward(_ context.Context, caller domain.Principal, pollID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claimCalls++
	if err := pop(&l.claimErrs); err != nil {
		return "", err
	}
	if l.claimed[key(string(caller), pollID)] {
		return "", ledger.Rejected("claim_poll_reward", "Reward already claimed")
	}
	for _, r := range l.rewards[caller] {
		if r.PollID != pollID {
			continue
		}
		if !r.ClaimsAreOpen {
			return "", ledger.Rejected("claim_poll_reward", "Poll is still active; claims not open")
		}
		l.claimed[key(string(caller), pollID)] = true
		return fmt.Sprintf("Claimed %s %s", r.Amount, r.TokenSymbol), nil
	}
	return "", ledger.Rejected("claim_poll_reward", "No reward for this poll")
}

// SetQuests sets the respondent's quests for a campaign.
func (l *Ledger) SetQuests(respondent domain.Principal, campaignID string, quests []*domain.Quest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Quest, len(quests))
	for i, q := range quests {
		c := *q
		out[i] = &c
	}
	l.quests[key(string(respondent), campaignID)] = out
}

// SetPoints sets user and campaign-wide points and the campaign pool.
func (l *Ledger) SetPoints(respondent domain.Principal, campaignID string, user, total uint64, campaignPool token.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.userPoints[key(string(respondent), campaignID)] = user
	l.totalPoints[campaignID] = total
	l.campaignPools[campaignID] = campaignPool
}

// GetUserQuests returns copies of the respondent's quests.
func (l *Ledger) GetUserQuests(_ context.Context, respondent domain.Principal, campaignID string) ([]*domain.Quest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Quest
	for _, q := range l.quests[key(string(respondent), campaignID)] {
		c := *q
		out = append(out, &c)
	}
	return out, nil
}

// GetUserPoints returns the respondent's points summary.
func (l *Ledger) GetUserPoints(_ context.Context, respondent domain.Principal, campaignID string) (*ledger.UserPoints, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp, ok := l.campaignPools[campaignID]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ledger.ErrNotFound)
	}
	return &ledger.UserPoints{
		UserPoints:   l.userPoints[key(string(respondent), campaignID)],
		TotalPoints:  l.totalPoints[campaignID],
		CampaignPool: cp,
	}, nil
}

// ClaimQuestRewards pays the caller's share of the campaign pool once.
func (l *Ledger) ClaimQuestRewards(_ context.Context, caller domain.Principal, campaignID string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(string(caller), campaignID)
	if l.questClaimed[k] {
		return nil, ledger.Rejected("claim_quest_rewards", "Quest rewards already claimed")
	}
	cp, ok := l.campaignPools[campaignID]
	total := l.totalPoints[campaignID]
	user := l.userPoints[k]
	if !ok || total == 0 || user == 0 {
		return nil, ledger.Rejected("claim_quest_rewards", "No points earned in this campaign")
	}
	paid := new(big.Int).Mul(cp.Big(), new(big.Int).SetUint64(user))
	paid.Quo(paid, new(big.Int).SetUint64(total))
	l.questClaimed[k] = true
	return paid, nil
}

// HasClaimedQuestRewards reports whether the caller already claimed.
func (l *Ledger) HasClaimedQuestRewards(_ context.Context, respondent domain.Principal, campaignID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.questClaimed[key(string(respondent), campaignID)], nil
}

// SubscribePoolEvents returns a channel receiving every SetPollStatus event.
func (l *Ledger) SubscribePoolEvents(_ context.Context, _ []string) (<-chan domain.PoolEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ledger.ErrClientClosed
	}
	ch := make(chan domain.PoolEvent, 64)
	l.subs = append(l.subs, ch)
	return ch, nil
}

// Close closes every subscription channel.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, ch := range l.subs {
		close(ch)
	}
	l.subs = nil
	return nil
}
