package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CollectionsConfig is the operator-tunable collections policy. It hot
// reloads from collections.yml so dunning windows and the presentment FX
// rate can change without a deploy.
type CollectionsConfig struct {
	// AnchorDayDefault seeds new subscriptions; 1..28 so every month has
	// the day.
	AnchorDayDefault int `mapstructure:"anchorDayDefault"`
	// TimezoneDefault is an IANA zone name used for tenants without an
	// explicit one.
	TimezoneDefault string `mapstructure:"timezoneDefault"`
	// DirectDebitDiscountPct is the incentive applied to cycles collected
	// by mandate.
	DirectDebitDiscountPct float64 `mapstructure:"directDebitDiscountPct"`
	// RetryOffsetsDays are day deltas from the anchor at which debit
	// attempts are scheduled. First entry must be 0 (the anchor itself).
	RetryOffsetsDays []int `mapstructure:"retryOffsetsDays"`
	// SuspendAfterDays is the past-due age at which access suspension is
	// reported. Clamped to at least 1.
	SuspendAfterDays int `mapstructure:"suspendAfterDays"`
	// IntentTTLHours bounds how long a fallback payment intent stays
	// payable.
	IntentTTLHours int `mapstructure:"intentTTLHours"`
	// PlanAmountUSDCents is the monthly plan price seeded onto new
	// subscriptions, in USD cents.
	PlanAmountUSDCents int64 `mapstructure:"planAmountUSDCents"`

	FX FXConfig `mapstructure:"fx"`
}

// FXConfig is the presentment rate frozen onto cycles at materialization.
// Date empty means "use the anchor date as the rate date".
type FXConfig struct {
	Rate float64 `mapstructure:"rate"`
	Date string  `mapstructure:"date"`
}

func DefaultCollectionsConfig() CollectionsConfig {
	return CollectionsConfig{
		AnchorDayDefault:       10,
		TimezoneDefault:        "America/Argentina/Buenos_Aires",
		DirectDebitDiscountPct: 10,
		RetryOffsetsDays:       []int{0, 3, 7},
		SuspendAfterDays:       15,
		IntentTTLHours:         48,
		PlanAmountUSDCents:     25000,
		FX:                     FXConfig{Rate: 1},
	}
}

type CollectionsConfigHolder struct {
	current atomic.Value // holds CollectionsConfig
}

// NewCollectionsConfigHolderFrom wraps a fixed config; used by tests and by
// the scheduler worker when no file is mounted.
func NewCollectionsConfigHolderFrom(cfg CollectionsConfig) (*CollectionsConfigHolder, error) {
	if err := validateCollectionsConfig(cfg); err != nil {
		return nil, err
	}
	holder := &CollectionsConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewCollectionsConfigHolder() (*CollectionsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("collections")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/rumbo/config") // volume-mounted config
	v.AddConfigPath("/etc/rumbo")            // system config
	v.AddConfigPath(".")                     // current directory (dev mode)

	v.SetEnvPrefix("RUMBO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultCollectionsConfig()
		v.SetDefault("collections.anchorDayDefault", defaults.AnchorDayDefault)
		v.SetDefault("collections.timezoneDefault", defaults.TimezoneDefault)
		v.SetDefault("collections.directDebitDiscountPct", defaults.DirectDebitDiscountPct)
		v.SetDefault("collections.retryOffsetsDays", defaults.RetryOffsetsDays)
		v.SetDefault("collections.suspendAfterDays", defaults.SuspendAfterDays)
		v.SetDefault("collections.intentTTLHours", defaults.IntentTTLHours)
		v.SetDefault("collections.planAmountUSDCents", defaults.PlanAmountUSDCents)
		v.SetDefault("collections.fx.rate", defaults.FX.Rate)
	}

	var cfg CollectionsConfig
	if err := v.UnmarshalKey("collections", &cfg); err != nil {
		return nil, err
	}
	if err := validateCollectionsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &CollectionsConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CollectionsConfig
		if err := v.UnmarshalKey("collections", &updated); err != nil {
			log.Printf("[collections-config] reload failed: %v", err)
			return
		}
		if err := validateCollectionsConfig(updated); err != nil {
			log.Printf("[collections-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[collections-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CollectionsConfigHolder) Get() CollectionsConfig {
	return h.current.Load().(CollectionsConfig)
}

func validateCollectionsConfig(cfg CollectionsConfig) error {
	if cfg.AnchorDayDefault < 1 || cfg.AnchorDayDefault > 28 {
		return fmt.Errorf("collections.anchorDayDefault must be within 1..28, got %d", cfg.AnchorDayDefault)
	}
	if cfg.TimezoneDefault == "" {
		return errors.New("collections.timezoneDefault cannot be empty")
	}
	if _, err := time.LoadLocation(cfg.TimezoneDefault); err != nil {
		return fmt.Errorf("collections.timezoneDefault: %w", err)
	}
	if cfg.DirectDebitDiscountPct < 0 || cfg.DirectDebitDiscountPct >= 100 {
		return fmt.Errorf("collections.directDebitDiscountPct must be within [0,100), got %v", cfg.DirectDebitDiscountPct)
	}
	if len(cfg.RetryOffsetsDays) == 0 {
		return errors.New("collections.retryOffsetsDays cannot be empty")
	}
	if cfg.RetryOffsetsDays[0] != 0 {
		return errors.New("collections.retryOffsetsDays must start at 0")
	}
	for i := 1; i < len(cfg.RetryOffsetsDays); i++ {
		if cfg.RetryOffsetsDays[i] <= cfg.RetryOffsetsDays[i-1] {
			return errors.New("collections.retryOffsetsDays must be strictly increasing")
		}
	}
	if cfg.IntentTTLHours <= 0 {
		return fmt.Errorf("collections.intentTTLHours must be positive, got %d", cfg.IntentTTLHours)
	}
	if cfg.PlanAmountUSDCents <= 0 {
		return fmt.Errorf("collections.planAmountUSDCents must be positive, got %d", cfg.PlanAmountUSDCents)
	}
	if cfg.FX.Rate <= 0 {
		return fmt.Errorf("collections.fx.rate must be positive, got %v", cfg.FX.Rate)
	}
	if cfg.FX.Date != "" {
		if _, err := time.Parse("2006-01-02", cfg.FX.Date); err != nil {
			return fmt.Errorf("collections.fx.date: %w", err)
		}
	}
	return nil
}
