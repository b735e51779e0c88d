package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/clock"
	obscontext "github.com/smallbiznis/storyvoice/internal/observability/context"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	"github.com/smallbiznis/storyvoice/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobCostMonitor  = "cost_monitor"
	costMonitorLock = "scheduler:lock:cost_monitor"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Job    alertdomain.Job
	Locker ratelimit.Locker
	Config Config `optional:"true"`
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	genID  *snowflake.Node
	clock  clock.Clock
	job    alertdomain.Job
	locker ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Job == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:    p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:    p.Config.withDefaults(),
		genID:  p.GenID,
		clock:  p.Clock,
		job:    p.Job,
		locker: p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeSystem, "scheduler")
	ctx, run := s.newJobRun(ctx, name)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		run.fail()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick retries
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs the cost monitor unless another instance holds the job lock,
// in which case the run is skipped.
func (s *Scheduler) RunOnce(parent context.Context) error {
	token, acquired, err := s.locker.TryLock(parent, costMonitorLock, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("%s: acquire lock: %w", jobCostMonitor, err)
	}
	if !acquired {
		obsmetrics.Scheduler().IncJobSkipped(jobCostMonitor, obsmetrics.SchedulerSkipReasonLockHeld)
		s.log.Info("scheduler.job.skipped",
			zap.String("job", jobCostMonitor),
			zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld),
		)
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(parent), costMonitorLock, token); err != nil {
			s.log.Warn("scheduler.lock.release_failed", zap.String("job", jobCostMonitor), zap.Error(err))
		}
	}()

	return s.runJob(parent, jobCostMonitor, s.cfg.JobTimeout, s.CostMonitorJob)
}

func (s *Scheduler) CostMonitorJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	res, err := s.job.Run(ctx, alertdomain.RunRequest{Period: s.cfg.Period, Notify: s.cfg.Notify})
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.cost_monitor.failed", err)
		return err
	}
	run.record(res)

	schedMetrics := obsmetrics.Scheduler()
	for _, v := range res.Evaluation.Violations {
		schedMetrics.IncViolation(string(v.Period), string(v.Type))
	}

	if res.Dispatch != nil {
		s.logger(ctx).Info("scheduler.cost_monitor.dispatched",
			zap.String("job", jobCostMonitor),
			zap.String("dispatch_id", res.Dispatch.DispatchID),
			zap.String("total_cost", res.Evaluation.TotalCost.String()),
			zap.Int("delivered", res.Dispatch.Delivered()),
			zap.Int("failed", res.Dispatch.Failed()),
		)
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
