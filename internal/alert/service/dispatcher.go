package service

import (
	"context"

	"github.com/oklog/ulid/v2"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/config"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	"github.com/smallbiznis/storyvoice/internal/providers/email"
	"github.com/smallbiznis/storyvoice/internal/providers/slack"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type DispatcherParams struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Usage      usagedomain.Service
	Admins     alertdomain.AdminDirectory
	Email      email.Provider
	Slack      slack.Provider      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	log          *zap.Logger
	usage        usagedomain.Service
	admins       alertdomain.AdminDirectory
	email        email.Provider
	slack        slack.Provider
	slackChannel string
	dashboardURL string
	obsMetrics   *obsmetrics.Metrics
}

func NewDispatcher(p DispatcherParams) alertdomain.Dispatcher {
	return &Dispatcher{
		log:          p.Log.Named("alert.dispatcher"),
		usage:        p.Usage,
		admins:       p.Admins,
		email:        p.Email,
		slack:        p.Slack,
		slackChannel: p.Config.Slack.Channel,
		dashboardURL: p.Config.DashboardURL,
		obsMetrics:   p.ObsMetrics,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, eval alertdomain.Evaluation) (alertdomain.DispatchResult, error) {
	result := alertdomain.DispatchResult{
		DispatchID: ulid.Make().String(),
		Period:     eval.Period,
		Subject:    subjectFor(eval.Period),
		Outcomes:   []alertdomain.DeliveryOutcome{},
	}
	log := d.log.With(zap.String("dispatch_id", result.DispatchID), zap.String("period", string(eval.Period)))

	admins, err := d.admins.Admins(ctx)
	if err != nil {
		return result, err
	}
	if len(admins) == 0 && d.slack == nil {
		log.Warn("alert.no_recipients")
		return result, nil
	}

	text, err := d.compose(ctx, eval)
	if err != nil {
		return result, err
	}

	for _, admin := range admins {
		outcome := alertdomain.DeliveryOutcome{Channel: alertdomain.ChannelEmail, Recipient: admin.Email}
		if err := d.email.Send(ctx, email.Message{To: []string{admin.Email}, Subject: result.Subject, Text: text}); err != nil {
			outcome.Error = err.Error()
			log.Error("alert.delivery_failed",
				zap.String("channel", string(outcome.Channel)),
				zap.String("admin_email", admin.Email),
				zap.Error(err),
			)
		} else {
			outcome.Delivered = true
			log.Info("alert.delivered", zap.String("channel", string(outcome.Channel)), zap.String("admin_email", admin.Email))
		}
		d.obsMetrics.RecordDelivery(ctx, string(outcome.Channel), outcome.Delivered)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	if d.slack != nil {
		outcome := alertdomain.DeliveryOutcome{Channel: alertdomain.ChannelSlack, Recipient: d.slackChannel}
		if err := d.slack.PostMessage(ctx, d.slackChannel, result.Subject+"\n\n"+text); err != nil {
			outcome.Error = err.Error()
			log.Error("alert.delivery_failed", zap.String("channel", string(outcome.Channel)), zap.Error(err))
		} else {
			outcome.Delivered = true
		}
		d.obsMetrics.RecordDelivery(ctx, string(outcome.Channel), outcome.Delivered)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	log.Info("alert.dispatched",
		zap.Int("delivered", result.Delivered()),
		zap.Int("failed", result.Failed()),
	)
	return result, nil
}

func (d *Dispatcher) compose(ctx context.Context, eval alertdomain.Evaluation) (string, error) {
	top, err := d.usage.TopUsers(ctx, reportTopUsers, eval.Period)
	if err != nil {
		return "", err
	}
	models, err := d.usage.CostByModel(ctx, eval.Period)
	if err != nil {
		return "", err
	}
	return report{
		Evaluation:   eval,
		TopUsers:     top,
		Models:       models,
		DashboardURL: d.dashboardURL,
	}.Text(), nil
}
