package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/storage"
	"pulse-rewards/internal/token"
)

func TestContributionJournal_AppendAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	j := NewContributionJournal(pool)
	ctx := context.Background()

	// 10^25 smallest units does not fit in 64 bits.
	big25, _ := new(big.Int).SetString("10000000000000000000000000", 10)
	amount, err := token.FromBig(big25, 18)
	require.NoError(t, err)

	events := []*domain.ContributionEvent{
		{AttemptID: "a1", Seq: 0, PollID: "p1", Contributor: "alice", Amount: amount, State: domain.ContributionIdle, OccurredAt: 1000},
		{AttemptID: "a1", Seq: 1, PollID: "p1", Contributor: "alice", Amount: amount, State: domain.ContributionApproving, OccurredAt: 1001},
		{AttemptID: "a1", Seq: 2, PollID: "p1", Contributor: "alice", Amount: amount, State: domain.ContributionAwaitingSettlement, OccurredAt: 1002},
		{AttemptID: "a2", Seq: 0, PollID: "p1", Contributor: "bob", Amount: amount, State: domain.ContributionIdle, OccurredAt: 2000},
		{AttemptID: "a2", Seq: 1, PollID: "p1", Contributor: "bob", Amount: amount, State: domain.ContributionFailed, Reason: "ApprovalRejected", Detail: "insufficient funds", OccurredAt: 2001},
	}
	for _, e := range events {
		require.NoError(t, j.Append(ctx, e))
	}

	err = j.Append(ctx, events[0])
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	byAttempt, err := j.GetByAttempt(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, byAttempt, 3)
	assert.True(t, byAttempt[0].Amount.Equal(amount))
	assert.Equal(t, domain.Principal("alice"), byAttempt[0].Contributor)

	byPoll, err := j.GetByPoll(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, byPoll, 5)
	assert.Equal(t, "ApprovalRejected", byPoll[4].Reason)

	unfinished, err := j.ListUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, "a1", unfinished[0].AttemptID)
	assert.Equal(t, domain.ContributionAwaitingSettlement, unfinished[0].State)
}

func TestClaimReceiptStore_InsertGetList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewClaimReceiptStore(pool)
	ctx := context.Background()

	r := &domain.ClaimReceipt{
		ReceiptID:    "r1",
		Respondent:   "bob",
		PollID:       "p1",
		Amount:       token.NewAmount(1_000_000, 8),
		Confirmation: "Claimed 0.01 PULSE",
		ClaimedAt:    1700000000000,
	}
	require.NoError(t, store.Insert(ctx, r))

	dup := *r
	dup.ReceiptID = "r2"
	assert.ErrorIs(t, store.Insert(ctx, &dup), storage.ErrDuplicateKey)

	got, err := store.Get(ctx, "bob", "p1")
	require.NoError(t, err)
	assert.Equal(t, r.ReceiptID, got.ReceiptID)
	assert.Equal(t, "0.01", got.Amount.String())
	assert.Equal(t, r.Confirmation, got.Confirmation)

	_, err = store.Get(ctx, "bob", "p2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Insert(ctx, &domain.ClaimReceipt{
		ReceiptID: "r3", Respondent: "bob", PollID: "p0", Amount: token.NewAmount(5, 6), ClaimedAt: 1600000000000,
	}))
	list, err := store.ListByRespondent(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p0", list[0].PollID)
	assert.Equal(t, uint8(6), list[0].Amount.Decimals())
}

func TestQuestCompletionStore_InsertOnly(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewQuestCompletionStore(pool)
	ctx := context.Background()

	c := &domain.QuestCompletion{Respondent: "bob", CampaignID: "c1", QuestID: "q1", Points: 10, CompletedAt: 1000}
	require.NoError(t, store.Insert(ctx, c))
	assert.ErrorIs(t, store.Insert(ctx, c), storage.ErrDuplicateKey)

	require.NoError(t, store.Insert(ctx, &domain.QuestCompletion{Respondent: "bob", CampaignID: "c1", QuestID: "q0", Points: 5, CompletedAt: 500}))

	got, err := store.ListByUser(ctx, "bob", "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q0", got[0].QuestID)
	assert.Equal(t, uint64(10), got[1].Points)
}

func TestPoolReplicaStore_PutAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolReplicaStore(pool)
	ctx := context.Background()

	p := &domain.FundingInfo{
		PollID:            "p1",
		TokenType:         domain.TokenTypeLedger,
		TokenCanister:     ptr("ryjl3-tyaaa-aaaaa-aaaba-cai"),
		TokenSymbol:       "PULSE",
		TokenDecimals:     8,
		TotalFund:         token.NewAmount(1_000_000_000, 8),
		RewardPerResponse: token.NewAmount(1_000_000, 8),
		MaxResponses:      ptr(uint64(500)),
		CurrentResponses:  10,
		RemainingFund:     token.NewAmount(990_000_000, 8),
		FundingType:       domain.FundingCrowdfunded,
		Contributors: []domain.Contribution{
			{Principal: "alice", Amount: token.NewAmount(600_000_000, 8)},
			{Principal: "bob", Amount: token.NewAmount(400_000_000, 8)},
		},
	}
	require.NoError(t, store.Put(ctx, p))

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenTypeLedger, got.TokenType)
	assert.Equal(t, domain.FundingCrowdfunded, got.FundingType)
	assert.Equal(t, *p.TokenCanister, *got.TokenCanister)
	assert.Equal(t, uint64(500), *got.MaxResponses)
	assert.True(t, got.TotalFund.Equal(p.TotalFund))
	assert.True(t, got.RemainingFund.Equal(p.RemainingFund))
	require.Len(t, got.Contributors, 2)
	assert.True(t, got.Contributors[1].Amount.Equal(p.Contributors[1].Amount))

	// A refresh replaces the row.
	p.CurrentResponses = 11
	p.RemainingFund = token.NewAmount(989_000_000, 8)
	p.MaxResponses = nil
	require.NoError(t, store.Put(ctx, p))

	got, err = store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), got.CurrentResponses)
	assert.Nil(t, got.MaxResponses)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
