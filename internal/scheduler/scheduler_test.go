package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/clock"
	"github.com/smallbiznis/storyvoice/internal/config"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	"github.com/smallbiznis/storyvoice/internal/ratelimit"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubJob struct {
	mu    sync.Mutex
	calls []alertdomain.RunRequest
	res   alertdomain.RunResult
	err   error
}

func (j *stubJob) Run(_ context.Context, req alertdomain.RunRequest) (alertdomain.RunResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, req)
	return j.res, j.err
}

func newTestScheduler(t *testing.T, job alertdomain.Job, locker ratelimit.Locker) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s, err := New(Params{
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)),
		Job:    job,
		Locker: locker,
		Config: Config{Period: usagedomain.PeriodWeek, Notify: true},
	})
	require.NoError(t, err)
	return s
}

func setupRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "storyvoice",
		Environment: "test",
	})
	return registry
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := setupRegistry(t)
	s := newTestScheduler(t, &stubJob{}, ratelimit.NewLocalLocker())

	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "storyvoice",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "storyvoice_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "storyvoice",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "storyvoice_scheduler_job_errors_total", errorLabels))
}

func TestRunOnceRunsMonitorAndCountsViolations(t *testing.T) {
	registry := setupRegistry(t)
	job := &stubJob{res: alertdomain.RunResult{
		RunID:  "1",
		Status: alertdomain.RunStatusAlerted,
		Evaluation: alertdomain.Evaluation{
			Period: usagedomain.PeriodWeek,
			Violations: []alertdomain.Violation{
				{Type: alertdomain.ViolationExceeded, Period: usagedomain.PeriodWeek},
				{Type: alertdomain.ViolationCriticalSpike, Period: usagedomain.PeriodWeek},
			},
		},
		Dispatch: &alertdomain.DispatchResult{},
	}}
	s := newTestScheduler(t, job, ratelimit.NewLocalLocker())

	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, job.calls, 1)
	assert.Equal(t, alertdomain.RunRequest{Period: usagedomain.PeriodWeek, Notify: true}, job.calls[0])

	base := map[string]string{"service": "storyvoice", "env": "test"}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "storyvoice_scheduler_job_runs_total", with(base, "job", jobCostMonitor)))
	assert.Equal(t, 1.0, getCounterValue(t, registry, "storyvoice_scheduler_cost_violations_total",
		with(with(base, "period", "week"), "type", "critical_spike")))

	// the lock is released after the run
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, job.calls, 2)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	registry := setupRegistry(t)
	locker := ratelimit.NewLocalLocker()
	_, ok, err := locker.TryLock(context.Background(), costMonitorLock, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	job := &stubJob{}
	s := newTestScheduler(t, job, locker)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Empty(t, job.calls)

	labels := map[string]string{
		"service": "storyvoice",
		"env":     "test",
		"job":     jobCostMonitor,
		"reason":  obsmetrics.SchedulerSkipReasonLockHeld,
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "storyvoice_scheduler_job_skipped_total", labels))
}

func TestRunOnceReturnsJobErrors(t *testing.T) {
	setupRegistry(t)
	boom := errors.New("db down")
	s := newTestScheduler(t, &stubJob{err: boom}, ratelimit.NewLocalLocker())

	err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), jobCostMonitor)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProvideConfig(t *testing.T) {
	cfg, err := ProvideConfig(config.Config{Monitor: config.MonitorConfig{
		Interval: time.Hour,
		Period:   "month",
		Notify:   false,
		LockTTL:  time.Minute,
	}})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, usagedomain.PeriodMonth, cfg.Period)
	assert.False(t, cfg.Notify)
	assert.Greater(t, cfg.LockTTL, cfg.JobTimeout)

	cfg, err = ProvideConfig(config.Config{})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.PeriodToday, cfg.Period)
}

func TestProvideConfigRejectsUnknownPeriod(t *testing.T) {
	for _, period := range []string{"weekly", "year"} {
		_, err := ProvideConfig(config.Config{Monitor: config.MonitorConfig{Period: period}})
		assert.ErrorIs(t, err, ErrInvalidConfig, period)
	}
}

func with(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for key, val := range labels {
		out[key] = val
	}
	out[k] = v
	return out
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
