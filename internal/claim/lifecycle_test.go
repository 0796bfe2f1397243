package claim

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/ledger/stub"
	"pulse-rewards/internal/session"
	"pulse-rewards/internal/storage/memory"
	"pulse-rewards/internal/token"
)

func signIn(t *testing.T) *session.Session {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	sess, err := session.SignIn(pub)
	require.NoError(t, err)
	return sess
}

func reward(pollID string, units uint64, open bool) *domain.PendingReward {
	return &domain.PendingReward{
		PollID:        pollID,
		Amount:        token.NewAmount(units, 8),
		TokenSymbol:   "PULSE",
		TokenDecimals: 8,
		ClaimsAreOpen: open,
	}
}

func setup(t *testing.T) (*stub.Ledger, *memory.ClaimReceiptStore, *Lifecycle, *session.Session, domain.Principal) {
	t.Helper()
	l := stub.NewLedger()
	receipts := memory.NewClaimReceiptStore()
	lc := New(Config{Service: l, Receipts: receipts})
	sess := signIn(t)
	me, err := sess.Principal()
	require.NoError(t, err)
	return l, receipts, lc, sess, me
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		name    string
		row     *domain.PendingReward
		claimed bool
		want    State
	}{
		{"no row", nil, false, StateNotEligible},
		{"voted, poll active", reward("p", 1, false), false, StateEligible},
		{"poll closed", reward("p", 1, true), false, StateClaimable},
		{"claimed", reward("p", 1, true), true, StateClaimed},
		{"claimed without row", nil, true, StateClaimed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateOf(tt.row, tt.claimed); got != tt.want {
				t.Errorf("StateOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLifecycle_PendingThenClaimableThenClaimed(t *testing.T) {
	l, _, lc, sess, me := setup(t)
	ctx := context.Background()

	// The respondent voted before the poll closed.
	l.AddReward(me, reward("poll-1", 1_000_000, false))

	pending, err := lc.ListPending(ctx, sess)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.RewardStatusPending, pending[0].Status())

	claimable, err := lc.ListClaimable(ctx, sess)
	require.NoError(t, err)
	assert.Empty(t, claimable)

	l.SetPollStatus("poll-1", domain.PollStatusClosed)

	claimable, err = lc.ListClaimable(ctx, sess)
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	assert.Equal(t, domain.RewardStatusClaimable, claimable[0].Status())

	conf, err := lc.Claim(ctx, sess, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, "Claimed 0.01 PULSE", conf.Message)
	assert.Equal(t, "0.01", conf.Receipt.Amount.String())

	proj, err := lc.Refresh(ctx, sess)
	require.NoError(t, err)
	assert.Empty(t, proj.Claimable)
	assert.Empty(t, proj.Pending)
}

func TestLifecycle_ClaimIsIdempotent(t *testing.T) {
	l, receipts, lc, sess, me := setup(t)
	ctx := context.Background()
	l.AddReward(me, reward("poll-1", 500, true))

	_, err := lc.Claim(ctx, sess, "poll-1")
	require.NoError(t, err)

	_, err = lc.Claim(ctx, sess, "poll-1")
	assert.Equal(t, KindAlreadyClaimed, KindOf(err))

	_, _, claimCalls, _ := l.Calls()
	assert.Equal(t, 1, claimCalls, "the receipt answers the second claim locally")

	stored, err := receipts.ListByRespondent(ctx, me)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestLifecycle_ServiceSaysAlreadyClaimed(t *testing.T) {
	l, receipts, _, sess, me := setup(t)
	ctx := context.Background()
	l.AddReward(me, reward("poll-1", 500, true))

	// A different client instance claimed first.
	_, err := New(Config{Service: l}).Claim(ctx, sess, "poll-1")
	require.NoError(t, err)

	lc := New(Config{Service: l, Receipts: receipts})
	_, err = lc.Claim(ctx, sess, "poll-1")
	assert.Equal(t, KindAlreadyClaimed, KindOf(err))

	_, err = receipts.Get(ctx, me, "poll-1")
	assert.NoError(t, err, "an authoritative already-claimed answer is remembered")
}

func TestLifecycle_NotYetClaimable(t *testing.T) {
	l, receipts, lc, sess, me := setup(t)
	ctx := context.Background()
	l.AddReward(me, reward("poll-1", 500, false))

	_, err := lc.Claim(ctx, sess, "poll-1")
	assert.Equal(t, KindNotYetClaimable, KindOf(err))

	list, err := receipts.ListByRespondent(ctx, me)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLifecycle_TransferFailedIsNotRetried(t *testing.T) {
	l, _, lc, sess, me := setup(t)
	ctx := context.Background()
	l.AddReward(me, reward("poll-1", 500, true))
	l.FailClaim(ledger.Unavailable("claim_poll_reward", "HTTP 503"))

	_, err := lc.Claim(ctx, sess, "poll-1")
	assert.Equal(t, KindTransferFailed, KindOf(err))

	_, _, claimCalls, _ := l.Calls()
	assert.Equal(t, 1, claimCalls)

	// The user may try again.
	_, err = lc.Claim(ctx, sess, "poll-1")
	require.NoError(t, err)
}

func TestLifecycle_NoIdentity(t *testing.T) {
	_, _, lc, _, _ := setup(t)

	_, err := lc.Claim(context.Background(), nil, "poll-1")
	assert.ErrorIs(t, err, session.ErrNoIdentity)

	_, err = lc.ListClaimable(context.Background(), nil)
	assert.ErrorIs(t, err, session.ErrNoIdentity)
}

// gatedClaims blocks ClaimReward until released.
type gatedClaims struct {
	*stub.Ledger
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClaims) ClaimReward(ctx context.Context, caller domain.Principal, pollID string) (string, error) {
	close(g.entered)
	<-g.release
	return g.Ledger.ClaimReward(ctx, caller, pollID)
}

func TestLifecycle_InFlightGuard(t *testing.T) {
	l := stub.NewLedger()
	gate := &gatedClaims{Ledger: l, entered: make(chan struct{}), release: make(chan struct{})}
	lc := New(Config{Service: gate, Receipts: memory.NewClaimReceiptStore()})
	sess := signIn(t)
	me, _ := sess.Principal()
	l.AddReward(me, reward("poll-1", 500, true))

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = lc.Claim(context.Background(), sess, "poll-1")
	}()

	<-gate.entered
	assert.True(t, lc.Claiming(sess, "poll-1"))

	_, err := lc.Claim(context.Background(), sess, "poll-1")
	assert.Equal(t, KindInFlight, KindOf(err))

	close(gate.release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.False(t, lc.Claiming(sess, "poll-1"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"already claimed", ledger.Rejected("claim_poll_reward", "Reward already claimed"), KindAlreadyClaimed},
		{"still active", ledger.Rejected("claim_poll_reward", "Poll is still active"), KindNotYetClaimable},
		{"claims not open", ledger.Rejected("claim_poll_reward", "Claims not open"), KindNotYetClaimable},
		{"no reward", ledger.Rejected("claim_poll_reward", "No reward for this poll"), KindNotFound},
		{"not found sentinel", ledger.ErrNotFound, KindNotFound},
		{"other rejection", ledger.Rejected("claim_poll_reward", "ledger transfer error: InsufficientFunds"), KindTransferFailed},
		{"transient", ledger.Unavailable("claim_poll_reward", "HTTP 502"), KindTransferFailed},
		{"plain error", errors.New("boom"), KindTransferFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := classify("p", tt.err)
			if ce.Kind != tt.want {
				t.Errorf("classify() kind = %s, want %s", ce.Kind, tt.want)
			}
			if !errors.Is(ce, tt.err) {
				t.Errorf("classify() does not wrap %v", tt.err)
			}
		})
	}
}

func TestWatcher_CallsOnOpen(t *testing.T) {
	l := stub.NewLedger()
	w := NewWatcher(l, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.PoolEvent, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx, nil, func(_ context.Context, ev domain.PoolEvent) error {
			got <- ev
			return nil
		})
	}()

	// Events emitted before the subscription exists are lost, so keep emitting.
	require.Eventually(t, func() bool {
		l.SetPollStatus("poll-0", domain.PollStatusActive)
		l.SetPollStatus("poll-1", domain.PollStatusClaimsOpen)
		select {
		case ev := <-got:
			if ev.PollID != "poll-1" {
				t.Errorf("handler called for %s with status %s", ev.PollID, ev.Status)
			}
			return true
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.Close())
	assert.ErrorIs(t, <-errCh, ErrStreamClosed)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	l := stub.NewLedger()
	w := NewWatcher(l, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx, []string{"poll-1"}, func(context.Context, domain.PoolEvent) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
