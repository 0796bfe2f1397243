// Package claim drives a respondent's rewards from eligible to claimed.
//
//	NotEligible -> Eligible -> Claimable -> Claimed
//
// Claimed is terminal. Claims are single attempts; a receipt stored after a
// successful claim short-circuits every later attempt for the same reward.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/idhash"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/logging"
	"pulse-rewards/internal/observability"
	"pulse-rewards/internal/session"
	"pulse-rewards/internal/storage"
	"pulse-rewards/internal/token"
)

// State is the claim state of one (respondent, poll) reward.
type State string

const (
	StateNotEligible State = "NotEligible"
	StateEligible    State = "Eligible"
	StateClaimable   State = "Claimable"
	StateClaimed     State = "Claimed"
)

// StateOf derives the state of a reward row. A nil row means no qualifying
// action was recorded.
func StateOf(r *domain.PendingReward, claimed bool) State {
	switch {
	case claimed:
		return StateClaimed
	case r == nil:
		return StateNotEligible
	case r.ClaimsAreOpen:
		return StateClaimable
	default:
		return StateEligible
	}
}

// Projection is a respondent's unclaimed rewards split by state.
type Projection struct {
	Claimable []*domain.PendingReward
	Pending   []*domain.PendingReward
}

// Confirmation is a successful claim.
type Confirmation struct {
	PollID  string
	Message string
	Receipt *domain.ClaimReceipt
}

// Config configures a Lifecycle.
type Config struct {
	Service  ledger.ClaimService
	Receipts storage.ClaimReceiptStore
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Lifecycle lists and claims rewards for signed-in respondents.
type Lifecycle struct {
	service  ledger.ClaimService
	receipts storage.ClaimReceiptStore
	clock    clockwork.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	claiming map[string]struct{}
	rows     map[string]*domain.PendingReward // last seen row per respondent|poll
}

// New creates a Lifecycle.
func New(cfg Config) *Lifecycle {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Lifecycle{
		service:  cfg.Service,
		receipts: cfg.Receipts,
		clock:    clock,
		logger:   logging.OrDiscard(cfg.Logger),
		claiming: make(map[string]struct{}),
		rows:     make(map[string]*domain.PendingReward),
	}
}

func rowKey(respondent domain.Principal, pollID string) string {
	return string(respondent) + "|" + pollID
}

// Refresh fetches the respondent's rows and drops every row with a local receipt.
func (l *Lifecycle) Refresh(ctx context.Context, sess *session.Session) (*Projection, error) {
	respondent, err := session.Require(sess)
	if err != nil {
		return nil, err
	}

	var rows []*domain.PendingReward
	claimed := make(map[string]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = l.service.ListClaimableRewards(gctx, respondent)
		if err != nil {
			return fmt.Errorf("list claimable rewards: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if l.receipts == nil {
			return nil
		}
		receipts, err := l.receipts.ListByRespondent(gctx, respondent)
		if err != nil {
			return fmt.Errorf("list claim receipts: %w", err)
		}
		for _, r := range receipts {
			claimed[r.PollID] = true
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	proj := &Projection{}
	l.mu.Lock()
	for _, r := range rows {
		l.rows[rowKey(respondent, r.PollID)] = r
		switch StateOf(r, claimed[r.PollID]) {
		case StateClaimable:
			proj.Claimable = append(proj.Claimable, r)
		case StateEligible:
			proj.Pending = append(proj.Pending, r)
		}
	}
	l.mu.Unlock()

	sortRows(proj.Claimable)
	sortRows(proj.Pending)
	return proj, nil
}

func sortRows(rows []*domain.PendingReward) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].PollID < rows[j].PollID
	})
}

// ListClaimable returns rewards that can be claimed now.
func (l *Lifecycle) ListClaimable(ctx context.Context, sess *session.Session) ([]*domain.PendingReward, error) {
	proj, err := l.Refresh(ctx, sess)
	if err != nil {
		return nil, err
	}
	return proj.Claimable, nil
}

// ListPending returns rewards whose pool has not closed yet.
func (l *Lifecycle) ListPending(ctx context.Context, sess *session.Session) ([]*domain.PendingReward, error) {
	proj, err := l.Refresh(ctx, sess)
	if err != nil {
		return nil, err
	}
	return proj.Pending, nil
}

func (l *Lifecycle) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.claiming[key]; busy {
		return false
	}
	l.claiming[key] = struct{}{}
	return true
}

func (l *Lifecycle) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claiming, key)
}

// Claiming reports whether a claim for the signed-in respondent's reward is running.
func (l *Lifecycle) Claiming(sess *session.Session, pollID string) bool {
	respondent, err := session.Require(sess)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.claiming[rowKey(respondent, pollID)]
	return busy
}

// Claim asks the claim service to disburse the respondent's reward for pollID.
// It makes exactly one service call, or none when a receipt already exists.
func (l *Lifecycle) Claim(ctx context.Context, sess *session.Session, pollID string) (*Confirmation, error) {
	respondent, err := session.Require(sess)
	if err != nil {
		return nil, err
	}

	key := rowKey(respondent, pollID)
	if !l.acquire(key) {
		observability.RecordClaim(string(KindInFlight))
		return nil, &ClaimError{Kind: KindInFlight, PollID: pollID}
	}
	defer l.release(key)

	if l.receipts != nil {
		r, err := l.receipts.Get(ctx, respondent, pollID)
		switch {
		case err == nil:
			observability.RecordClaim(string(KindAlreadyClaimed))
			return nil, &ClaimError{Kind: KindAlreadyClaimed, PollID: pollID,
				Message: fmt.Sprintf("claimed at %d", r.ClaimedAt)}
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("get claim receipt: %w", err)
		}
	}

	msg, err := l.service.ClaimReward(ctx, respondent, pollID)
	if err != nil {
		ce := classify(pollID, err)
		observability.RecordClaim(string(ce.Kind))
		l.logger.Warn("claim failed",
			"poll_id", pollID,
			"kind", string(ce.Kind),
			"error", err,
		)
		if ce.Kind == KindAlreadyClaimed {
			l.recordReceipt(ctx, respondent, pollID, "")
		}
		return nil, ce
	}

	observability.RecordClaim("claimed")
	receipt := l.recordReceipt(ctx, respondent, pollID, msg)
	l.logger.Info("reward claimed",
		"poll_id", pollID,
		"amount", receipt.Amount.String(),
		"confirmation", msg,
	)
	return &Confirmation{PollID: pollID, Message: msg, Receipt: receipt}, nil
}

// recordReceipt stores the receipt of a disbursed reward. Storage failures are
// logged; the disbursement already happened and is not undone.
func (l *Lifecycle) recordReceipt(ctx context.Context, respondent domain.Principal, pollID, msg string) *domain.ClaimReceipt {
	amount := token.Zero(0)
	l.mu.Lock()
	if row, ok := l.rows[rowKey(respondent, pollID)]; ok {
		amount = row.Amount
	}
	delete(l.rows, rowKey(respondent, pollID))
	l.mu.Unlock()

	receipt := &domain.ClaimReceipt{
		ReceiptID:    idhash.ComputeReceiptID(respondent, pollID),
		Respondent:   respondent,
		PollID:       pollID,
		Amount:       amount,
		Confirmation: msg,
		ClaimedAt:    l.clock.Now().UnixMilli(),
	}
	if l.receipts == nil {
		return receipt
	}
	if err := l.receipts.Insert(ctx, receipt); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		l.logger.Error("failed to store claim receipt",
			"poll_id", pollID,
			"receipt_id", receipt.ReceiptID,
			"error", err,
		)
	}
	return receipt
}

// Receipts returns the respondent's local claim receipts.
func (l *Lifecycle) Receipts(ctx context.Context, sess *session.Session) ([]*domain.ClaimReceipt, error) {
	respondent, err := session.Require(sess)
	if err != nil {
		return nil, err
	}
	if l.receipts == nil {
		return nil, nil
	}
	return l.receipts.ListByRespondent(ctx, respondent)
}
