package service

import (
	"context"
	"fmt"
	"strings"

	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/config"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type MonitorParams struct {
	fx.In

	Log        *zap.Logger
	Metering   *config.MeteringConfigHolder
	Usage      usagedomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Monitor struct {
	log        *zap.Logger
	metering   *config.MeteringConfigHolder
	usage      usagedomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewMonitor(p MonitorParams) alertdomain.Monitor {
	return &Monitor{
		log:        p.Log.Named("alert.monitor"),
		metering:   p.Metering,
		usage:      p.Usage,
		obsMetrics: p.ObsMetrics,
	}
}

func (m *Monitor) Evaluate(ctx context.Context, period usagedomain.Period) (alertdomain.Evaluation, error) {
	cfg := m.metering.Get()
	threshold, ok, err := ThresholdFor(cfg.Thresholds, period)
	if err != nil {
		return alertdomain.Evaluation{}, err
	}
	multiplier, err := pricingdomain.ParseAmount(cfg.CriticalMultiplier)
	if err != nil || multiplier <= 0 {
		return alertdomain.Evaluation{}, fmt.Errorf("%w: %q", alertdomain.ErrInvalidMultiplier, cfg.CriticalMultiplier)
	}

	total, err := m.usage.TotalCost(ctx, period)
	if err != nil {
		return alertdomain.Evaluation{}, err
	}

	eval := Evaluate(period, total, threshold, ok, multiplier)
	for _, v := range eval.Violations {
		m.obsMetrics.RecordViolation(ctx, string(period), string(v.Type))
	}
	return eval, nil
}

// Evaluate applies the threshold rules to an already computed total.
func Evaluate(period usagedomain.Period, total, threshold pricingdomain.Amount, hasThreshold bool, multiplier pricingdomain.Amount) alertdomain.Evaluation {
	eval := alertdomain.Evaluation{
		Period:       period,
		TotalCost:    total,
		Threshold:    threshold,
		HasThreshold: hasThreshold,
		Violations:   []alertdomain.Violation{},
	}
	if !hasThreshold || threshold <= 0 {
		return eval
	}

	if total > threshold {
		overage := total - threshold
		pct := overage.PercentOf(threshold)
		eval.Violations = append(eval.Violations, alertdomain.Violation{
			Type:           alertdomain.ViolationExceeded,
			Period:         period,
			TotalCost:      total,
			Threshold:      threshold,
			Overage:        overage,
			PercentageOver: pct,
			Message: fmt.Sprintf("%s cost $%s exceeds threshold $%s by $%s (%.1f%% over)",
				periodTitle(period), usd(total), usd(threshold), usd(overage), pct),
		})
	}

	if total > threshold.MulRatio(multiplier) {
		eval.Violations = append(eval.Violations, alertdomain.Violation{
			Type:           alertdomain.ViolationCriticalSpike,
			Period:         period,
			TotalCost:      total,
			Threshold:      threshold,
			Overage:        total - threshold,
			PercentageOver: (total - threshold).PercentOf(threshold),
			Message: fmt.Sprintf("CRITICAL: %s cost is more than %sx the threshold! Possible abuse or runaway usage.",
				periodTitle(period), strings.TrimRight(strings.TrimRight(multiplier.String(), "0"), ".")),
		})
	}
	return eval
}

// ThresholdFor maps a period to its configured threshold: today uses the
// daily limit, week the weekly and month the monthly. An empty value means
// the period is not monitored.
func ThresholdFor(cfg config.ThresholdConfig, period usagedomain.Period) (pricingdomain.Amount, bool, error) {
	var raw string
	switch period {
	case usagedomain.PeriodToday:
		raw = cfg.Daily
	case usagedomain.PeriodWeek:
		raw = cfg.Weekly
	case usagedomain.PeriodMonth:
		raw = cfg.Monthly
	default:
		return 0, false, usagedomain.ErrInvalidPeriod
	}
	if strings.TrimSpace(raw) == "" {
		return 0, false, nil
	}
	amount, err := pricingdomain.ParseAmount(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q", alertdomain.ErrInvalidThreshold, period, raw)
	}
	return amount, true, nil
}

func periodTitle(p usagedomain.Period) string {
	s := string(p)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
