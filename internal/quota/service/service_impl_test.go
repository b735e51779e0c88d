package service

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/storyvoice/internal/config"
	quotadomain "github.com/smallbiznis/storyvoice/internal/quota/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockUsage struct {
	mock.Mock
}

func (m *mockUsage) TodayUsage(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func newTestService(t *testing.T, usage quotadomain.UsageReader, tiers quotadomain.TierResolver, free, paid int64) quotadomain.Service {
	t.Helper()
	cfg := config.DefaultMeteringConfig()
	cfg.Limits.Free = free
	cfg.Limits.Paid = paid
	holder, err := config.NewStaticMeteringConfigHolder(cfg)
	require.NoError(t, err)
	return NewService(ServiceParam{
		Log:      zap.NewNop(),
		Metering: holder,
		Usage:    usage,
		Tiers:    tiers,
	})
}

func TestDailyLimitByTier(t *testing.T) {
	tiers := quotadomain.NewStaticTierResolver(quotadomain.TierFree)
	tiers.Set(2, quotadomain.TierPaid)
	svc := newTestService(t, &mockUsage{}, tiers, 10000, 50000)
	ctx := context.Background()

	limit, err := svc.DailyLimit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), limit)

	limit, err = svc.DailyLimit(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), limit)

	tiers.Set(3, quotadomain.Tier("enterprise"))
	_, err = svc.DailyLimit(ctx, 3)
	assert.ErrorIs(t, err, quotadomain.ErrUnknownTier)

	_, err = svc.DailyLimit(ctx, 0)
	assert.ErrorIs(t, err, quotadomain.ErrInvalidUser)
}

func TestDefaultResolverIsFree(t *testing.T) {
	svc := newTestService(t, &mockUsage{}, nil, 10000, 50000)
	limit, err := svc.DailyLimit(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), limit)
}

func TestBoundaryDecisions(t *testing.T) {
	cases := []struct {
		name      string
		used      int64
		requested int64
		allowed   bool
		remaining int64
	}{
		{name: "exactly the remaining allowance", used: 900, requested: 100, allowed: true, remaining: 100},
		{name: "one over the remaining allowance", used: 900, requested: 101, allowed: false, remaining: 100},
		{name: "limit reached", used: 1000, requested: 1, allowed: false, remaining: 0},
		{name: "zero request at limit", used: 1000, requested: 0, allowed: true, remaining: 0},
		{name: "already over", used: 1200, requested: 1, allowed: false, remaining: 0},
		{name: "fresh day", used: 0, requested: 1000, allowed: true, remaining: 1000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			usage := &mockUsage{}
			usage.On("TodayUsage", mock.Anything, int64(1)).Return(tc.used, nil)
			svc := newTestService(t, usage, nil, 1000, 5000)

			decision, err := svc.Check(context.Background(), 1, tc.requested)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, decision.Allowed)
			assert.Equal(t, tc.used, decision.CharactersUsed)
			assert.Equal(t, int64(1000), decision.DailyLimit)
			assert.Equal(t, tc.requested, decision.RequestedCharacters)
			assert.Equal(t, tc.remaining, decision.Remaining)

			exceeded, err := svc.WouldExceed(context.Background(), 1, tc.requested)
			require.NoError(t, err)
			assert.Equal(t, !tc.allowed, exceeded)
			usage.AssertExpectations(t)
		})
	}
}

func TestEnforceReturnsStructuredDenial(t *testing.T) {
	usage := &mockUsage{}
	usage.On("TodayUsage", mock.Anything, int64(7)).Return(int64(1000), nil)
	svc := newTestService(t, usage, nil, 1000, 5000)

	_, err := svc.Enforce(context.Background(), 7, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, quotadomain.ErrQuotaExceeded)

	var exceeded *quotadomain.ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, int64(7), exceeded.UserID)
	assert.Equal(t, quotadomain.Decision{
		Allowed:             false,
		CharactersUsed:      1000,
		DailyLimit:          1000,
		RequestedCharacters: 1,
		Remaining:           0,
	}, exceeded.Decision)
}

func TestCheckPropagatesStorageErrors(t *testing.T) {
	usage := &mockUsage{}
	usage.On("TodayUsage", mock.Anything, int64(1)).Return(int64(0), errors.New("db down"))
	svc := newTestService(t, usage, nil, 1000, 5000)

	_, err := svc.Check(context.Background(), 1, 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, quotadomain.ErrQuotaExceeded)

	_, err = svc.Check(context.Background(), 1, -1)
	assert.ErrorIs(t, err, quotadomain.ErrInvalidRequested)
}
