package scheduler

import (
	"context"
	"time"

	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	obslogger "github.com/smallbiznis/storyvoice/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"go.uber.org/zap"
)

// jobRun is the scheduler's view of one monitor cycle. The monitor job keeps
// its own run id; both are logged so the two can be joined.
type jobRun struct {
	job       string
	runID     string
	period    usagedomain.Period
	startedAt time.Time

	monitorRunID string
	status       alertdomain.RunStatus
	violations   int
	failed       bool
}

type jobRunKey struct{}

func (r *jobRun) record(res alertdomain.RunResult) {
	if r == nil {
		return
	}
	r.monitorRunID = res.RunID
	r.status = res.Status
	r.violations = len(res.Evaluation.Violations)
}

func (r *jobRun) fail() {
	if r == nil {
		return
	}
	r.failed = true
}

func (s *Scheduler) newJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		period:    s.cfg.Period,
		startedAt: s.clock.Now(),
	}
	return context.WithValue(ctx, jobRunKey{}, run), run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("period", string(run.period)),
		zap.Bool("notify", s.cfg.Notify),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("period", string(run.period)),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
	}
	log := s.logger(ctx)
	if run.failed {
		log.Warn("scheduler.job.finish", append(fields, zap.Bool("failed", true))...)
		return
	}
	fields = append(fields,
		zap.String("monitor_run_id", run.monitorRunID),
		zap.String("status", string(run.status)),
		zap.Int("violations", run.violations),
	)
	if run.violations > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, err error) {
	if err == nil || run == nil {
		return
	}
	s.logger(ctx).Error(msg,
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("period", string(run.period)),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	)
}
