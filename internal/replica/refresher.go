// Package replica keeps the client's read replica of funding pools in step
// with the authoritative pool service.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/logging"
	"pulse-rewards/internal/observability"
	"pulse-rewards/internal/pool"
	"pulse-rewards/internal/retry"
	"pulse-rewards/internal/storage"
)

// InconsistencyWarning reports a pool whose accounting stayed broken across
// two consecutive authoritative reads. The pool is shown as fetched.
type InconsistencyWarning struct {
	PollID    string
	Violation pool.Violation
	Err       error
}

func (w *InconsistencyWarning) Error() string {
	return fmt.Sprintf("pool %s is inconsistent after refetch: %v", w.PollID, w.Err)
}

func (w *InconsistencyWarning) Unwrap() error {
	return w.Err
}

// Result is one authoritative refresh.
type Result struct {
	Pool    *domain.FundingInfo
	Warning *InconsistencyWarning // nil when the invariant holds
	Fetches int
}

// Config configures a Refresher. Replicas and Audit are optional.
type Config struct {
	Pools    ledger.PoolService
	Replicas storage.PoolReplicaStore
	Audit    storage.PoolAuditStore
	Policy   retry.Policy
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Refresher re-fetches pools and never patches them locally.
type Refresher struct {
	pools    ledger.PoolService
	replicas storage.PoolReplicaStore
	audit    storage.PoolAuditStore
	policy   retry.Policy
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewRefresher creates a Refresher.
func NewRefresher(cfg Config) *Refresher {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	if policy.Clock == nil {
		policy.Clock = clock
	}
	return &Refresher{
		pools:    cfg.Pools,
		replicas: cfg.Replicas,
		audit:    cfg.Audit,
		policy:   policy,
		clock:    clock,
		logger:   logging.OrDiscard(cfg.Logger),
	}
}

// Refresh fetches the pool and checks its invariant. A failing invariant
// triggers exactly one more fetch; if that one fails too, the result carries
// an InconsistencyWarning.
func (r *Refresher) Refresh(ctx context.Context, pollID string) (*Result, error) {
	p, err := r.fetch(ctx, pollID)
	if err != nil {
		return nil, err
	}
	res := &Result{Pool: p, Fetches: 1}

	invErr := r.check(ctx, p)
	if invErr == nil {
		r.store(ctx, p)
		return res, nil
	}

	r.logger.Warn("pool invariant failed, refetching",
		"poll_id", pollID,
		"error", invErr,
	)

	p, err = r.fetch(ctx, pollID)
	if err != nil {
		return nil, err
	}
	res.Pool = p
	res.Fetches = 2

	if invErr = r.check(ctx, p); invErr != nil {
		w := &InconsistencyWarning{PollID: pollID, Err: invErr}
		var ie *pool.InvariantError
		if errors.As(invErr, &ie) {
			w.Violation = ie.Violation
		}
		res.Warning = w
		r.logger.Error("pool inconsistent after refetch",
			"poll_id", pollID,
			"violation", string(w.Violation),
			"error", invErr,
		)
		return res, nil
	}

	r.store(ctx, p)
	return res, nil
}

// Cached returns the last stored replica of a pool without contacting the service.
func (r *Refresher) Cached(ctx context.Context, pollID string) (*domain.FundingInfo, error) {
	if r.replicas == nil {
		return nil, storage.ErrNotFound
	}
	return r.replicas.Get(ctx, pollID)
}

func (r *Refresher) fetch(ctx context.Context, pollID string) (*domain.FundingInfo, error) {
	var p *domain.FundingInfo
	_, err := retry.Do(ctx, r.policy, func(ctx context.Context, _ int) error {
		var err error
		p, err = r.pools.GetPool(ctx, pollID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", pollID, err)
	}
	return p, nil
}

// check runs the invariant and records the snapshot and metrics.
func (r *Refresher) check(ctx context.Context, p *domain.FundingInfo) error {
	invErr := pool.CheckInvariant(p)

	violation := ""
	var ie *pool.InvariantError
	if errors.As(invErr, &ie) {
		violation = string(ie.Violation)
	}
	observability.RecordPoolRefresh(violation)

	if r.audit != nil {
		snap := &domain.PoolSnapshot{
			PollID:            p.PollID,
			TotalFund:         p.TotalFund,
			RemainingFund:     p.RemainingFund,
			RewardPerResponse: p.RewardPerResponse,
			CurrentResponses:  p.CurrentResponses,
			ContributorCount:  len(p.Contributors),
			InvariantOK:       invErr == nil,
			Violation:         violation,
			FetchedAt:         r.clock.Now().UnixMilli(),
		}
		if err := r.audit.InsertSnapshot(ctx, snap); err != nil {
			r.logger.Warn("failed to record pool snapshot", "poll_id", p.PollID, "error", err)
		}
	}
	return invErr
}

// store overwrites the replica with a consistent authoritative copy.
func (r *Refresher) store(ctx context.Context, p *domain.FundingInfo) {
	if r.replicas == nil {
		return
	}
	if err := r.replicas.Put(ctx, p); err != nil {
		r.logger.Warn("failed to store pool replica", "poll_id", p.PollID, "error", err)
	}
}
