package pool

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/token"
)

func e8s(n uint64) token.Amount {
	return token.NewAmount(n, 8)
}

func ptr[T any](v T) *T {
	return &v
}

func newCrowdfunded(t *testing.T, total, reward uint64, maxResponses *uint64) *domain.FundingInfo {
	t.Helper()
	p, err := New(Params{
		PollID:            "poll-1",
		TokenType:         domain.TokenTypeNative,
		TokenSymbol:       "ICP",
		TokenDecimals:     8,
		TotalFund:         e8s(total),
		RewardPerResponse: e8s(reward),
		MaxResponses:      maxResponses,
		FundingType:       domain.FundingCrowdfunded,
		Creator:           "creator",
	})
	require.NoError(t, err)
	return p
}

func TestCanFund(t *testing.T) {
	tests := []struct {
		name    string
		total   uint64
		reward  uint64
		current uint64
		max     *uint64
		want    bool
	}{
		{"funded, no cap", 1_000_000, 100_000, 0, nil, true},
		{"exactly one left", 100_000, 100_000, 0, nil, true},
		{"below reward", 99_999, 100_000, 0, nil, false},
		{"cap reached", 1_000_000, 100_000, 2, ptr(uint64(2)), false},
		{"under cap", 1_000_000, 100_000, 1, ptr(uint64(2)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &domain.FundingInfo{
				TokenDecimals:     8,
				TotalFund:         e8s(tt.total),
				RewardPerResponse: e8s(tt.reward),
				RemainingFund:     e8s(tt.total),
				CurrentResponses:  tt.current,
				MaxResponses:      tt.max,
				FundingType:       domain.FundingSelfFunded,
			}
			if got := CanFund(p); got != tt.want {
				t.Errorf("CanFund() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReserveOneResponse_DoesNotMutate(t *testing.T) {
	p := newCrowdfunded(t, 1_000_000, 100_000, nil)

	next, err := ReserveOneResponse(p)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), p.CurrentResponses)
	assert.Equal(t, "1000000", p.RemainingFund.UnitsString())
	assert.Equal(t, uint64(1), next.CurrentResponses)
	assert.Equal(t, "900000", next.RemainingFund.UnitsString())
	require.NoError(t, CheckInvariant(next))
}

func TestReserveOneResponse_Exhausts(t *testing.T) {
	p := newCrowdfunded(t, 300_000, 100_000, nil)

	var err error
	for i := 0; i < 3; i++ {
		p, err = ReserveOneResponse(p)
		require.NoError(t, err)
	}

	_, err = ReserveOneResponse(p)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, p.RemainingFund.IsZero())
}

func TestAddContribution_EmptyPool(t *testing.T) {
	p := newCrowdfunded(t, 0, 100_000, nil)

	next, err := AddContribution(p, "P", e8s(500_000))
	require.NoError(t, err)

	assert.Equal(t, "500000", next.TotalFund.UnitsString())
	assert.Equal(t, "500000", next.RemainingFund.UnitsString())
	require.Len(t, next.Contributors, 1)
	assert.Equal(t, domain.Principal("P"), next.Contributors[0].Principal)
	assert.Equal(t, "500000", next.Contributors[0].Amount.UnitsString())
	assert.Empty(t, p.Contributors, "input pool must not change")
	require.NoError(t, CheckInvariant(next))
}

func TestAddContribution_WrongFundingType(t *testing.T) {
	for _, ft := range []domain.FundingType{domain.FundingSelfFunded, domain.FundingTreasuryFunded} {
		p := newCrowdfunded(t, 0, 100_000, nil)
		p.FundingType = ft

		_, err := AddContribution(p, "P", e8s(1))
		if !errors.Is(err, ErrInvalidFundingType) {
			t.Errorf("%s: expected ErrInvalidFundingType, got %v", ft, err)
		}
	}
}

func TestAddContribution_InvalidAmount(t *testing.T) {
	p := newCrowdfunded(t, 0, 100_000, nil)

	_, err := AddContribution(p, "P", e8s(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = AddContribution(p, "P", token.NewAmount(5, 6))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestInvariant_RandomSequences(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))

	for run := 0; run < 100; run++ {
		reward := uint64(r.IntN(50_000) + 1)
		p := newCrowdfunded(t, 0, reward, nil)
		require.NoError(t, CheckInvariant(p))

		for step := 0; step < 50; step++ {
			if r.IntN(2) == 0 {
				next, err := AddContribution(p, domain.Principal([]string{"a", "b", "c"}[r.IntN(3)]), e8s(uint64(r.IntN(200_000)+1)))
				require.NoError(t, err)
				p = next
			} else {
				next, err := ReserveOneResponse(p)
				if err != nil {
					require.ErrorIs(t, err, ErrInsufficientFunds)
					assert.False(t, CanFund(p))
					continue
				}
				p = next
			}
			require.NoError(t, CheckInvariant(p), "run %d step %d", run, step)
		}
	}
}

func TestCheckInvariant_Violations(t *testing.T) {
	p := newCrowdfunded(t, 1_000_000, 100_000, nil)
	p.RemainingFund = e8s(999_999)

	var invErr *InvariantError
	require.ErrorAs(t, CheckInvariant(p), &invErr)
	assert.Equal(t, ViolationRemainingMismatch, invErr.Violation)

	p = newCrowdfunded(t, 1_000_000, 100_000, nil)
	p.CurrentResponses = 11
	require.ErrorAs(t, CheckInvariant(p), &invErr)
	assert.Equal(t, ViolationNegativeRemaining, invErr.Violation)

	p = newCrowdfunded(t, 1_000_000, 100_000, nil)
	p.Contributors = nil
	require.ErrorAs(t, CheckInvariant(p), &invErr)
	assert.Equal(t, ViolationContributorSumMismatch, invErr.Violation)
}

func TestValidateFundingConfig(t *testing.T) {
	assert.NoError(t, ValidateFundingConfig(e8s(1_000_000), e8s(100_000)))
	assert.ErrorIs(t, ValidateFundingConfig(e8s(100), e8s(101)), ErrRewardExceedsTotal)
	assert.ErrorIs(t, ValidateFundingConfig(e8s(100), e8s(0)), ErrInvalidAmount)
}

func TestContributedBy(t *testing.T) {
	p := newCrowdfunded(t, 0, 1, nil)
	p, _ = AddContribution(p, "a", e8s(10))
	p, _ = AddContribution(p, "b", e8s(20))
	p, _ = AddContribution(p, "a", e8s(5))

	assert.Equal(t, "15", ContributedBy(p, "a").UnitsString())
}
