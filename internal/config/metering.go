package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var ErrInvalidMeteringConfig = errors.New("invalid_metering_config")

// MeteringConfig is the runtime pricing, quota and threshold configuration.
// Monetary values are kept as decimal strings and parsed into fixed-point
// amounts by the consuming packages.
type MeteringConfig struct {
	DefaultModel  string            `mapstructure:"default_model"`
	DefaultRate   string            `mapstructure:"default_rate"`
	Rates         map[string]string `mapstructure:"rates"`
	MaxTextLength int               `mapstructure:"max_text_length"`

	Limits TierLimits  `mapstructure:"limits"`
	Quota  QuotaConfig `mapstructure:"quota"`

	Thresholds         ThresholdConfig `mapstructure:"thresholds"`
	CriticalMultiplier string          `mapstructure:"critical_multiplier"`
}

type TierLimits struct {
	Free int64 `mapstructure:"free"`
	Paid int64 `mapstructure:"paid"`
}

type QuotaConfig struct {
	// HardLimit serializes same-user requests so the daily limit cannot be overshot.
	HardLimit bool    `mapstructure:"hard_limit"`
	RateLimit bool    `mapstructure:"rate_limit"`
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// ThresholdConfig holds USD ceilings per monitoring period. An empty value
// disables the threshold for that period.
type ThresholdConfig struct {
	Daily   string `mapstructure:"daily"`
	Weekly  string `mapstructure:"weekly"`
	Monthly string `mapstructure:"monthly"`
}

func DefaultMeteringConfig() MeteringConfig {
	return MeteringConfig{
		DefaultModel: "eleven_flash_v2_5",
		DefaultRate:  "0.000024",
		Rates: map[string]string{
			"eleven_multilingual_v2": "0.000030",
			"eleven_turbo_v2_5":      "0.000024",
			"eleven_flash_v2_5":      "0.000024",
			"conversation_agent":     "0.000024",
		},
		MaxTextLength: 5000,
		Limits: TierLimits{
			Free: 10000,
			Paid: 50000,
		},
		Quota: QuotaConfig{
			PerSecond: 2,
			Burst:     5,
		},
		Thresholds: ThresholdConfig{
			Daily:   "10.00",
			Weekly:  "50.00",
			Monthly: "180.00",
		},
		CriticalMultiplier: "2",
	}
}

type MeteringConfigHolder struct {
	current atomic.Value // holds MeteringConfig
}

// NewStaticMeteringConfigHolder wraps a fixed configuration, mainly for tests and CLIs.
func NewStaticMeteringConfigHolder(cfg MeteringConfig) (*MeteringConfigHolder, error) {
	if err := ValidateMeteringConfig(cfg); err != nil {
		return nil, err
	}
	holder := &MeteringConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewMeteringConfigHolder(log *zap.Logger) (*MeteringConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.metering")

	v := viper.New()

	v.SetConfigName("metering")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/storyvoice/config")
	v.AddConfigPath("/etc/storyvoice")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STORYVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setMeteringDefaults(v, DefaultMeteringConfig())

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := unmarshalMetering(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateMeteringConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MeteringConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := unmarshalMetering(v)
			if err != nil {
				log.Warn("metering config reload failed", zap.Error(err))
				return
			}
			if err := ValidateMeteringConfig(updated); err != nil {
				log.Warn("invalid metering config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("metering config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *MeteringConfigHolder) Get() MeteringConfig {
	return h.current.Load().(MeteringConfig)
}

// unmarshalMetering decodes from AllSettings so a partial file still
// inherits the defaults of keys it leaves out.
func unmarshalMetering(v *viper.Viper) (MeteringConfig, error) {
	var wrapper struct {
		Metering MeteringConfig `mapstructure:"metering"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return MeteringConfig{}, err
	}
	return wrapper.Metering, nil
}

func setMeteringDefaults(v *viper.Viper, defaults MeteringConfig) {
	v.SetDefault("metering.default_model", defaults.DefaultModel)
	v.SetDefault("metering.default_rate", defaults.DefaultRate)
	v.SetDefault("metering.rates", defaults.Rates)
	v.SetDefault("metering.max_text_length", defaults.MaxTextLength)
	v.SetDefault("metering.limits.free", defaults.Limits.Free)
	v.SetDefault("metering.limits.paid", defaults.Limits.Paid)
	v.SetDefault("metering.quota.hard_limit", defaults.Quota.HardLimit)
	v.SetDefault("metering.quota.rate_limit", defaults.Quota.RateLimit)
	v.SetDefault("metering.quota.per_second", defaults.Quota.PerSecond)
	v.SetDefault("metering.quota.burst", defaults.Quota.Burst)
	v.SetDefault("metering.thresholds.daily", defaults.Thresholds.Daily)
	v.SetDefault("metering.thresholds.weekly", defaults.Thresholds.Weekly)
	v.SetDefault("metering.thresholds.monthly", defaults.Thresholds.Monthly)
	v.SetDefault("metering.critical_multiplier", defaults.CriticalMultiplier)
}

func ValidateMeteringConfig(cfg MeteringConfig) error {
	if strings.TrimSpace(cfg.DefaultRate) == "" {
		return fmt.Errorf("%w: metering.default_rate is required", ErrInvalidMeteringConfig)
	}
	if _, err := pricingdomain.ParseRate(cfg.DefaultRate); err != nil {
		return fmt.Errorf("%w: metering.default_rate: %v", ErrInvalidMeteringConfig, err)
	}
	for model, raw := range cfg.Rates {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("%w: metering.rates has an empty model id", ErrInvalidMeteringConfig)
		}
		if _, err := pricingdomain.ParseRate(raw); err != nil {
			return fmt.Errorf("%w: metering.rates.%s: %v", ErrInvalidMeteringConfig, model, err)
		}
	}
	if cfg.Limits.Free < 0 || cfg.Limits.Paid < 0 {
		return fmt.Errorf("%w: metering.limits must not be negative", ErrInvalidMeteringConfig)
	}
	if cfg.MaxTextLength < 0 {
		return fmt.Errorf("%w: metering.max_text_length must not be negative", ErrInvalidMeteringConfig)
	}
	for key, raw := range map[string]string{
		"daily":   cfg.Thresholds.Daily,
		"weekly":  cfg.Thresholds.Weekly,
		"monthly": cfg.Thresholds.Monthly,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		amount, err := pricingdomain.ParseAmount(raw)
		if err != nil {
			return fmt.Errorf("%w: metering.thresholds.%s: %v", ErrInvalidMeteringConfig, key, err)
		}
		if amount <= 0 {
			return fmt.Errorf("%w: metering.thresholds.%s must be positive", ErrInvalidMeteringConfig, key)
		}
	}
	multiplier, err := pricingdomain.ParseAmount(cfg.CriticalMultiplier)
	if err != nil {
		return fmt.Errorf("%w: metering.critical_multiplier: %v", ErrInvalidMeteringConfig, err)
	}
	if multiplier < pricingdomain.Amount(pricingdomain.AmountScale) {
		return fmt.Errorf("%w: metering.critical_multiplier must be at least 1", ErrInvalidMeteringConfig)
	}
	if cfg.Quota.RateLimit && (cfg.Quota.PerSecond <= 0 || cfg.Quota.Burst <= 0) {
		return fmt.Errorf("%w: metering.quota rate limit must be positive", ErrInvalidMeteringConfig)
	}
	return nil
}
