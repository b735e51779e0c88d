package service

import (
	"context"
	"fmt"

	"github.com/smallbiznis/storyvoice/internal/config"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/storyvoice/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Metering   *config.MeteringConfigHolder
	Usage      quotadomain.UsageReader
	Tiers      quotadomain.TierResolver `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	metering   *config.MeteringConfigHolder
	usage      quotadomain.UsageReader
	tiers      quotadomain.TierResolver
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) quotadomain.Service {
	tiers := p.Tiers
	if tiers == nil {
		tiers = quotadomain.NewStaticTierResolver(quotadomain.TierFree)
	}
	return &Service{
		log:        p.Log.Named("quota.service"),
		metering:   p.Metering,
		usage:      p.Usage,
		tiers:      tiers,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) DailyLimit(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, quotadomain.ErrInvalidUser
	}
	tier, err := s.tiers.Tier(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("resolve tier: %w", err)
	}

	limits := s.metering.Get().Limits
	switch tier {
	case quotadomain.TierPaid:
		return limits.Paid, nil
	case quotadomain.TierFree:
		return limits.Free, nil
	default:
		return 0, fmt.Errorf("%w: %q", quotadomain.ErrUnknownTier, tier)
	}
}

func (s *Service) WouldExceed(ctx context.Context, userID int64, requested int64) (bool, error) {
	decision, err := s.Check(ctx, userID, requested)
	if err != nil {
		return false, err
	}
	return !decision.Allowed, nil
}

func (s *Service) Check(ctx context.Context, userID int64, requested int64) (quotadomain.Decision, error) {
	if requested < 0 {
		return quotadomain.Decision{}, quotadomain.ErrInvalidRequested
	}
	limit, err := s.DailyLimit(ctx, userID)
	if err != nil {
		return quotadomain.Decision{}, err
	}
	used, err := s.usage.TodayUsage(ctx, userID)
	if err != nil {
		return quotadomain.Decision{}, fmt.Errorf("read today usage: %w", err)
	}

	decision := quotadomain.Decision{
		Allowed:             used+requested <= limit,
		CharactersUsed:      used,
		DailyLimit:          limit,
		RequestedCharacters: requested,
		Remaining:           max(limit-used, 0),
	}
	s.obsMetrics.RecordQuotaDecision(ctx, decision.Allowed)
	return decision, nil
}

func (s *Service) Enforce(ctx context.Context, userID int64, requested int64) (quotadomain.Decision, error) {
	decision, err := s.Check(ctx, userID, requested)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		s.log.Info("quota.denied",
			zap.Int64("user_id", userID),
			zap.Int64("characters_used", decision.CharactersUsed),
			zap.Int64("daily_limit", decision.DailyLimit),
			zap.Int64("requested_characters", requested),
		)
		return decision, &quotadomain.ExceededError{UserID: userID, Decision: decision}
	}
	return decision, nil
}
