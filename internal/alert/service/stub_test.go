package service

import (
	"context"

	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
)

// stubUsage answers aggregate queries from fixed values.
type stubUsage struct {
	usagedomain.Service

	cost   map[usagedomain.Period]pricingdomain.Amount
	top    []usagedomain.UserUsage
	models []usagedomain.ModelUsage
	err    error

	topLimit int
}

func (s *stubUsage) TotalCost(_ context.Context, p usagedomain.Period) (pricingdomain.Amount, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.cost[p], nil
}

func (s *stubUsage) Stats(_ context.Context, p usagedomain.Period) (usagedomain.PeriodStats, error) {
	if s.err != nil {
		return usagedomain.PeriodStats{}, s.err
	}
	return usagedomain.PeriodStats{Period: p, TotalCost: s.cost[p], TotalRequests: 3}, nil
}

func (s *stubUsage) TopUsers(_ context.Context, limit int, _ usagedomain.Period) ([]usagedomain.UserUsage, error) {
	s.topLimit = limit
	return s.top, nil
}

func (s *stubUsage) CostByModel(context.Context, usagedomain.Period) ([]usagedomain.ModelUsage, error) {
	return s.models, nil
}
