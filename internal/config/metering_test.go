package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultMeteringConfigIsValid(t *testing.T) {
	require.NoError(t, ValidateMeteringConfig(DefaultMeteringConfig()))
}

func TestValidateMeteringConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*MeteringConfig)
		ok     bool
	}{
		{name: "missing default rate", mutate: func(c *MeteringConfig) { c.DefaultRate = "" }},
		{name: "bad model rate", mutate: func(c *MeteringConfig) { c.Rates["x"] = "abc" }},
		{name: "negative limit", mutate: func(c *MeteringConfig) { c.Limits.Free = -1 }},
		{name: "zero threshold", mutate: func(c *MeteringConfig) { c.Thresholds.Daily = "0" }},
		{name: "multiplier below one", mutate: func(c *MeteringConfig) { c.CriticalMultiplier = "0.5" }},
		{name: "rate limit without burst", mutate: func(c *MeteringConfig) {
			c.Quota.RateLimit = true
			c.Quota.Burst = 0
		}},
		{name: "empty threshold disables period", mutate: func(c *MeteringConfig) { c.Thresholds.Weekly = "" }, ok: true},
		{name: "multiplier of one", mutate: func(c *MeteringConfig) { c.CriticalMultiplier = "1" }, ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultMeteringConfig()
			tc.mutate(&cfg)
			err := ValidateMeteringConfig(cfg)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidMeteringConfig)
		})
	}
}

func TestStaticHolderRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultMeteringConfig()
	cfg.CriticalMultiplier = "abc"
	_, err := NewStaticMeteringConfigHolder(cfg)
	assert.ErrorIs(t, err, ErrInvalidMeteringConfig)
}

func TestMeteringConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metering.yml"), []byte(`metering:
  thresholds:
    daily: "25.00"
  limits:
    free: 2000
`), 0o600))
	t.Chdir(dir)

	holder, err := NewMeteringConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "25.00", cfg.Thresholds.Daily)
	assert.Equal(t, "50.00", cfg.Thresholds.Weekly)
	assert.Equal(t, int64(2000), cfg.Limits.Free)
	assert.Equal(t, int64(50000), cfg.Limits.Paid)
	assert.Equal(t, "eleven_flash_v2_5", cfg.DefaultModel)
}

func TestMeteringConfigHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metering.yml"), []byte(`metering:
  critical_multiplier: "0.5"
`), 0o600))
	t.Chdir(dir)

	_, err := NewMeteringConfigHolder(nil)
	assert.ErrorIs(t, err, ErrInvalidMeteringConfig)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ALERT_ADMIN_EMAILS", "ops@example.test, finance@example.test")
	t.Setenv("MONITOR_INTERVAL", "6h")
	t.Setenv("MONITOR_NOTIFY", "false")
	t.Setenv("REDIS_ENABLED", "yes")

	cfg := Load()
	assert.Equal(t, []string{"ops@example.test", "finance@example.test"}, cfg.Alerts.AdminEmails)
	assert.Equal(t, 6*time.Hour, cfg.Monitor.Interval)
	assert.False(t, cfg.Monitor.Notify)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}
