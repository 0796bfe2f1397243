package replica

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/ledger/stub"
	"pulse-rewards/internal/pool"
	"pulse-rewards/internal/retry"
	"pulse-rewards/internal/storage"
	"pulse-rewards/internal/storage/memory"
	"pulse-rewards/internal/token"
)

func newPool(t *testing.T) *domain.FundingInfo {
	t.Helper()
	p, err := pool.New(pool.Params{
		PollID:            "poll-1",
		TokenType:         domain.TokenTypeNative,
		TokenSymbol:       "ICP",
		TokenDecimals:     8,
		TotalFund:         token.NewAmount(1_000_000, 8),
		RewardPerResponse: token.NewAmount(100_000, 8),
		FundingType:       domain.FundingSelfFunded,
		Creator:           "creator",
	})
	require.NoError(t, err)
	return p
}

func setup(t *testing.T) (*stub.Ledger, *Refresher, *memory.PoolReplicaStore, *memory.PoolAuditStore) {
	t.Helper()
	l := stub.NewLedger()
	l.AddPool(newPool(t))
	replicas := memory.NewPoolReplicaStore()
	audit := memory.NewPoolAuditStore()
	r := NewRefresher(Config{
		Pools:    l,
		Replicas: replicas,
		Audit:    audit,
		Policy:   retry.NoDelay(3),
	})
	return l, r, replicas, audit
}

func TestRefresh_Consistent(t *testing.T) {
	l, r, replicas, audit := setup(t)
	ctx := context.Background()

	res, err := r.Refresh(ctx, "poll-1")
	require.NoError(t, err)
	assert.Nil(t, res.Warning)
	assert.Equal(t, 1, res.Fetches)
	assert.Equal(t, "0.01", res.Pool.TotalFund.String())

	stored, err := replicas.Get(ctx, "poll-1")
	require.NoError(t, err)
	assert.True(t, stored.TotalFund.Equal(res.Pool.TotalFund))

	snaps, err := audit.GetByPoll(ctx, "poll-1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].InvariantOK)

	_, _, _, getPool := l.Calls()
	assert.Equal(t, 1, getPool)
}

func TestRefresh_TransientRead(t *testing.T) {
	l, r, _, _ := setup(t)
	l.FailGetPool(ledger.Unavailable("get_poll_funding", "503"))

	res, err := r.Refresh(context.Background(), "poll-1")
	require.NoError(t, err)
	assert.Nil(t, res.Warning)

	_, _, _, getPool := l.Calls()
	assert.Equal(t, 2, getPool)
}

func TestRefresh_NotFound(t *testing.T) {
	_, r, _, _ := setup(t)

	_, err := r.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRefresh_TransientInconsistencyClears(t *testing.T) {
	l, r, replicas, audit := setup(t)
	ctx := context.Background()

	corrupted := 0
	l.PoolView = func(p *domain.FundingInfo) *domain.FundingInfo {
		if corrupted == 0 {
			corrupted++
			p.RemainingFund = token.NewAmount(1, 8)
		}
		return p
	}

	res, err := r.Refresh(ctx, "poll-1")
	require.NoError(t, err)
	assert.Nil(t, res.Warning)
	assert.Equal(t, 2, res.Fetches)

	_, err = replicas.Get(ctx, "poll-1")
	require.NoError(t, err)

	snaps, err := audit.GetByPoll(ctx, "poll-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.False(t, snaps[0].InvariantOK)
	assert.Equal(t, string(pool.ViolationRemainingMismatch), snaps[0].Violation)
	assert.True(t, snaps[1].InvariantOK)
}

func TestRefresh_PersistentInconsistencyWarns(t *testing.T) {
	l, r, replicas, _ := setup(t)
	ctx := context.Background()

	l.PoolView = func(p *domain.FundingInfo) *domain.FundingInfo {
		p.RemainingFund = token.NewAmount(1, 8)
		return p
	}

	res, err := r.Refresh(ctx, "poll-1")
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, pool.ViolationRemainingMismatch, res.Warning.Violation)
	assert.Equal(t, 2, res.Fetches)

	// The pool is reported as fetched, not repaired.
	assert.Equal(t, "0.00000001", res.Pool.RemainingFund.String())

	var ie *pool.InvariantError
	assert.True(t, errors.As(res.Warning, &ie))

	_, err = replicas.Get(ctx, "poll-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
