// Package contribution runs the two-phase funding protocol: the contributor
// approves an allowance on the asset ledger, waits for it to settle, and the
// pool service pulls the amount into the pool.
//
//	Idle -> Approving -> AwaitingSettlement -> Funding -> Succeeded
//	             \                                 \
//	              -> Failed(ApprovalRejected)       -> Failed(FundingRejectedAfterRetries)
//
// Once Approving starts the run ignores caller cancellation and always
// reaches Succeeded or Failed, so no approved allowance is left with an
// unknown disposition.
package contribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/idhash"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/logging"
	"pulse-rewards/internal/observability"
	"pulse-rewards/internal/pool"
	"pulse-rewards/internal/replica"
	"pulse-rewards/internal/retry"
	"pulse-rewards/internal/session"
	"pulse-rewards/internal/storage"
	"pulse-rewards/internal/token"
)

// DefaultSettlementDelay is the wait between a successful approval and the first pull.
const DefaultSettlementDelay = 2 * time.Second

// Config configures a Protocol.
type Config struct {
	Ledger    ledger.AssetLedger
	Pools     ledger.PoolService
	Refresher *replica.Refresher
	Journal   storage.ContributionJournal // optional

	// Spender is the pool service principal granted the allowance.
	Spender domain.Principal

	SettlementDelay time.Duration
	FundPolicy      retry.Policy

	// FeeMargin is added to the ledger fee to form the fee buffer.
	// Nil means one extra ledger fee.
	FeeMargin *big.Int

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Outcome is the terminal result of a contribution.
type Outcome struct {
	AttemptID    string
	PollID       string
	State        domain.ContributionState
	Amount       token.Amount
	Confirmation string
	Attempts     int

	// Pool is the authoritative pool after the run. It is nil when the
	// refresh itself failed; RefreshErr then says why.
	Pool       *domain.FundingInfo
	Warning    *replica.InconsistencyWarning
	RefreshErr error
}

// Protocol runs contributions. It is safe for concurrent use; contributions
// to the same pool are serialised by an in-flight guard.
type Protocol struct {
	ledger    ledger.AssetLedger
	pools     ledger.PoolService
	refresher *replica.Refresher
	journal   storage.ContributionJournal
	spender   domain.Principal
	delay     time.Duration
	policy    retry.Policy
	feeMargin *big.Int
	clock     clockwork.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Protocol.
func New(cfg Config) *Protocol {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	policy := cfg.FundPolicy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	if policy.Clock == nil {
		policy.Clock = clock
	}
	refresher := cfg.Refresher
	if refresher == nil {
		refresher = replica.NewRefresher(replica.Config{Pools: cfg.Pools, Clock: clock, Logger: cfg.Logger})
	}
	return &Protocol{
		ledger:    cfg.Ledger,
		pools:     cfg.Pools,
		refresher: refresher,
		journal:   cfg.Journal,
		spender:   cfg.Spender,
		delay:     cfg.SettlementDelay,
		policy:    policy,
		feeMargin: cfg.FeeMargin,
		clock:     clock,
		logger:    logging.OrDiscard(cfg.Logger),
		inFlight:  make(map[string]struct{}),
	}
}

func (p *Protocol) acquire(pollID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[pollID]; busy {
		return false
	}
	p.inFlight[pollID] = struct{}{}
	return true
}

func (p *Protocol) release(pollID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, pollID)
}

// InFlight reports whether a contribution to pollID is running.
func (p *Protocol) InFlight(pollID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.inFlight[pollID]
	return busy
}

// run tracks one attempt's journal sequence.
type run struct {
	p           *Protocol
	id          string
	seq         int
	pollID      string
	contributor domain.Principal
	amount      token.Amount
	started     time.Time
}

func (r *run) transition(ctx context.Context, state domain.ContributionState, reason Reason, detail string, attempt int) {
	r.p.logger.Debug("contribution transition",
		"attempt_id", r.id,
		"poll_id", r.pollID,
		"state", string(state),
		"reason", string(reason),
		"attempt", attempt,
	)
	if r.p.journal == nil {
		r.seq++
		return
	}
	ev := &domain.ContributionEvent{
		AttemptID:   r.id,
		Seq:         r.seq,
		PollID:      r.pollID,
		Contributor: r.contributor,
		Amount:      r.amount,
		State:       state,
		Reason:      string(reason),
		Detail:      detail,
		Attempt:     attempt,
		OccurredAt:  r.p.clock.Now().UnixMilli(),
	}
	r.seq++
	if err := r.p.journal.Append(ctx, ev); err != nil {
		r.p.logger.Warn("failed to journal contribution transition",
			"attempt_id", r.id,
			"state", string(state),
			"error", err,
		)
	}
}

func (r *run) fail(ctx context.Context, out *Outcome, reason Reason, attempts int, err error) (*Outcome, error) {
	r.transition(ctx, domain.ContributionFailed, reason, err.Error(), attempts)
	out.State = domain.ContributionFailed
	out.Attempts = attempts
	observability.RecordContribution(string(domain.ContributionFailed), string(reason), r.p.clock.Since(r.started).Seconds())
	r.p.logger.Warn("contribution failed",
		"attempt_id", r.id,
		"poll_id", r.pollID,
		"reason", string(reason),
		"attempts", attempts,
		"error", err,
	)
	return out, &Failure{Reason: reason, Attempts: attempts, Err: err}
}

// Contribute moves amount from the signed-in caller into a crowdfunded pool.
//
// It returns ErrInFlight without side effects when another contribution to
// the same pool is running, and a *Failure for every terminal failure. A
// returned Outcome always carries the attempt ID and terminal state.
func (p *Protocol) Contribute(ctx context.Context, sess *session.Session, pollID string, amount token.Amount) (*Outcome, error) {
	if !p.acquire(pollID) {
		return nil, ErrInFlight
	}
	defer p.release(pollID)

	contributor, err := session.Require(sess)
	if err != nil {
		return nil, &Failure{Reason: ReasonValidation, Err: err}
	}

	started := p.clock.Now()
	r := &run{
		p:           p,
		id:          idhash.ComputeAttemptID(pollID, contributor, amount, started.UnixMilli()),
		pollID:      pollID,
		contributor: contributor,
		amount:      amount,
		started:     started,
	}
	out := &Outcome{AttemptID: r.id, PollID: pollID, Amount: amount, State: domain.ContributionIdle}
	r.transition(ctx, domain.ContributionIdle, "", "", 0)

	// Idle: local validation against the authoritative pool.
	var current *domain.FundingInfo
	_, err = retry.Do(ctx, p.policy, func(ctx context.Context, _ int) error {
		var err error
		current, err = p.pools.GetPool(ctx, pollID)
		return err
	})
	if err != nil {
		return r.fail(ctx, out, readFailureReason(err), 0, fmt.Errorf("get pool: %w", err))
	}
	if err := validate(current, contributor, amount); err != nil {
		return r.fail(ctx, out, ReasonValidation, 0, err)
	}
	var fee *big.Int
	_, err = retry.Do(ctx, p.policy, func(ctx context.Context, _ int) error {
		var err error
		fee, err = p.ledger.TransferFee(ctx, current.TokenCanister)
		return err
	})
	if err != nil {
		return r.fail(ctx, out, ReasonUnavailable, 0, fmt.Errorf("read transfer fee: %w", err))
	}

	// From here on the run must reach a terminal state.
	ctx = context.WithoutCancel(ctx)

	// Approving
	r.transition(ctx, domain.ContributionApproving, "", "", 0)
	buffer := p.feeBuffer(fee)
	feeBuffer, err := token.FromBig(buffer, amount.Decimals())
	if err != nil {
		return r.fail(ctx, out, ReasonValidation, 0, err)
	}
	block, err := p.ledger.Approve(ctx, ledger.ApproveRequest{
		Owner:         contributor,
		Spender:       p.spender,
		TokenCanister: current.TokenCanister,
		Amount:        amount,
		FeeBuffer:     feeBuffer,
	})
	if err != nil {
		return r.fail(ctx, out, ReasonApprovalRejected, 0, err)
	}
	p.logger.Info("allowance approved",
		"attempt_id", r.id,
		"poll_id", pollID,
		"amount", amount.String(),
		"fee_buffer", feeBuffer.String(),
		"block", block,
	)

	// AwaitingSettlement
	r.transition(ctx, domain.ContributionAwaitingSettlement, "", "", 0)
	if p.delay > 0 {
		p.clock.Sleep(p.delay)
	}

	// Funding
	var confirmation string
	attempts, err := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		r.transition(ctx, domain.ContributionFunding, "", "", attempt)
		observability.RecordFundAttempt()
		msg, err := p.pools.FundPool(ctx, contributor, pollID, amount)
		if err != nil {
			p.logger.Warn("pull transfer failed",
				"attempt_id", r.id,
				"attempt", attempt,
				"transient", retry.IsTransient(err),
				"error", err,
			)
			return err
		}
		confirmation = msg
		return nil
	})
	if err != nil {
		p.attachRefresh(ctx, out)
		return r.fail(ctx, out, ReasonFundingRejectedAfterRetries, attempts, err)
	}

	// Succeeded
	r.transition(ctx, domain.ContributionSucceeded, "", confirmation, attempts)
	out.State = domain.ContributionSucceeded
	out.Confirmation = confirmation
	out.Attempts = attempts
	p.attachRefresh(ctx, out)
	observability.RecordContribution(string(domain.ContributionSucceeded), "", p.clock.Since(started).Seconds())

	p.logger.Info("contribution succeeded",
		"attempt_id", r.id,
		"poll_id", pollID,
		"amount", amount.String(),
		"attempts", attempts,
	)
	return out, nil
}

// attachRefresh re-fetches the pool into out. A refresh failure does not
// change the outcome of the transfer.
func (p *Protocol) attachRefresh(ctx context.Context, out *Outcome) {
	res, err := p.refresher.Refresh(ctx, out.PollID)
	if err != nil {
		out.RefreshErr = err
		return
	}
	out.Pool = res.Pool
	out.Warning = res.Warning
}

// feeBuffer returns fee + margin. The margin is at least one smallest unit,
// so the buffer always exceeds the fee.
func (p *Protocol) feeBuffer(fee *big.Int) *big.Int {
	margin := p.feeMargin
	if margin == nil {
		margin = fee
	}
	if margin.Sign() <= 0 {
		margin = big.NewInt(1)
	}
	return new(big.Int).Add(fee, margin)
}

func validate(p *domain.FundingInfo, contributor domain.Principal, amount token.Amount) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", pool.ErrInvalidAmount)
	}
	if amount.Decimals() != p.TokenDecimals {
		return fmt.Errorf("%w: amount has %d decimals, pool token has %d", pool.ErrInvalidAmount, amount.Decimals(), p.TokenDecimals)
	}
	// Dry-run the accounting rule the service will apply.
	if _, err := pool.AddContribution(p, contributor, amount); err != nil {
		return err
	}
	return nil
}

// ConfigureFunding validates a new (total, reward) pair locally, submits it
// and returns the re-fetched pool.
func (p *Protocol) ConfigureFunding(ctx context.Context, sess *session.Session, pollID string, total, reward token.Amount) (*replica.Result, error) {
	caller, err := session.Require(sess)
	if err != nil {
		return nil, &Failure{Reason: ReasonValidation, Err: err}
	}
	if err := pool.ValidateFundingConfig(total, reward); err != nil {
		return nil, &Failure{Reason: ReasonValidation, Err: err}
	}

	ok, err := p.pools.UpdateFunding(ctx, caller, pollID, total, reward)
	if err != nil {
		return nil, fmt.Errorf("update funding: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("update funding: %w", ledger.Rejected("update_poll_funding", "service declined the update"))
	}
	return p.refresher.Refresh(ctx, pollID)
}

// Resume lists attempts that were interrupted before a terminal state, such
// as a process exit between approval and pull.
func (p *Protocol) Resume(ctx context.Context) ([]*domain.ContributionEvent, error) {
	if p.journal == nil {
		return nil, nil
	}
	events, err := p.journal.ListUnfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unfinished contributions: %w", err)
	}
	for _, e := range events {
		p.logger.Warn("unfinished contribution",
			"attempt_id", e.AttemptID,
			"poll_id", e.PollID,
			"state", string(e.State),
			"amount", e.Amount.String(),
		)
	}
	return events, nil
}

// IsRetryableByUser reports whether the user may start a fresh attempt after err.
func IsRetryableByUser(err error) bool {
	if errors.Is(err, ErrInFlight) {
		return false
	}
	switch ReasonOf(err) {
	case ReasonUnavailable, ReasonApprovalRejected, ReasonFundingRejectedAfterRetries:
		return true
	}
	return false
}

// readFailureReason classifies a failed pre-approval pool read. A pool the
// service does not know is a validation failure; anything else is a ledger
// that could not answer.
func readFailureReason(err error) Reason {
	if errors.Is(err, ledger.ErrNotFound) {
		return ReasonValidation
	}
	return ReasonUnavailable
}
