package scheduler

import (
	"fmt"
	"time"

	"github.com/smallbiznis/storyvoice/internal/config"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
)

// Config controls how often the cost monitor runs and for which period.
type Config struct {
	RunInterval time.Duration
	Period      usagedomain.Period
	Notify      bool
	LockTTL     time.Duration
	JobTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 24 * time.Hour,
		Period:      usagedomain.PeriodToday,
		Notify:      true,
		LockTTL:     10 * time.Minute,
		JobTimeout:  5 * time.Minute,
	}
}

// ProvideConfig fails on an unknown MONITOR_PERIOD; an empty one means today.
func ProvideConfig(cfg config.Config) (Config, error) {
	out := Config{
		RunInterval: cfg.Monitor.Interval,
		Notify:      cfg.Monitor.Notify,
		LockTTL:     cfg.Monitor.LockTTL,
	}
	if cfg.Monitor.Period != "" {
		p, err := usagedomain.ParsePeriod(cfg.Monitor.Period)
		if err != nil {
			return Config{}, fmt.Errorf("%w: MONITOR_PERIOD %q: %v", ErrInvalidConfig, cfg.Monitor.Period, err)
		}
		out.Period = p
	}
	return out.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.Period == "" {
		c.Period = defaults.Period
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	// the lease must outlive a run that hits its timeout
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout + time.Minute
	}
	return c
}
