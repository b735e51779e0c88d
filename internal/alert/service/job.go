package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/clock"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type JobParams struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Usage      usagedomain.Service
	Monitor    alertdomain.Monitor
	Dispatcher alertdomain.Dispatcher
}

// Job is one monitoring cycle: stats, evaluation and optional notification.
type Job struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	usage      usagedomain.Service
	monitor    alertdomain.Monitor
	dispatcher alertdomain.Dispatcher
}

func NewJob(p JobParams) alertdomain.Job {
	return &Job{
		log:        p.Log.Named("alert.job"),
		genID:      p.GenID,
		clock:      p.Clock,
		usage:      p.Usage,
		monitor:    p.Monitor,
		dispatcher: p.Dispatcher,
	}
}

func (j *Job) Run(ctx context.Context, req alertdomain.RunRequest) (alertdomain.RunResult, error) {
	period, err := usagedomain.ParsePeriod(string(req.Period))
	if err != nil {
		return alertdomain.RunResult{}, err
	}
	result := alertdomain.RunResult{
		RunID:     j.genID.Generate().String(),
		Status:    alertdomain.RunStatusOK,
		StartedAt: j.clock.Now(),
	}
	log := j.log.With(zap.String("run_id", result.RunID), zap.String("period", string(period)))

	stats, err := j.usage.Stats(ctx, period)
	if err != nil {
		return result, err
	}
	result.Stats = stats

	eval, err := j.monitor.Evaluate(ctx, period)
	if err != nil {
		return result, err
	}
	result.Evaluation = eval

	if !eval.Violated() {
		log.Info("alert.within_threshold",
			zap.String("total_cost", eval.TotalCost.String()),
			zap.Float64("percent_used", eval.PercentUsed()),
		)
		return result, nil
	}

	messages := make([]string, 0, len(eval.Violations))
	for _, v := range eval.Violations {
		messages = append(messages, v.Message)
	}
	log.Warn("alert.threshold_exceeded",
		zap.String("total_cost", eval.TotalCost.String()),
		zap.Strings("violations", messages),
	)

	if !req.Notify {
		result.Status = alertdomain.RunStatusViolation
		return result, nil
	}

	// notification was attempted, so the run reports alerted even when dispatch fails
	result.Status = alertdomain.RunStatusAlerted
	dispatch, err := j.dispatcher.Notify(ctx, eval)
	if err != nil {
		log.Error("alert.dispatch_failed", zap.Error(err))
		result.DispatchError = err.Error()
		return result, err
	}
	result.Dispatch = &dispatch
	return result, nil
}
