package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlanConfig maps subscription tiers to their per-period minute allowance.
type PlanConfig struct {
	ProMinutesPerPeriod int `mapstructure:"proMinutesPerPeriod"`
	PeriodDays          int `mapstructure:"periodDays"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		ProMinutesPerPeriod: 300,
		PeriodDays:          30,
	}
}

// PlanConfigHolder serves the current plan allowances and hot-reloads them
// when the mounted config file changes.
type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

func NewPlanConfigHolder() (*PlanConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tubescribe/config")
	v.AddConfigPath("/etc/tubescribe")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TUBESCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanConfig()
	v.SetDefault("plans.proMinutesPerPeriod", defaults.ProMinutesPerPeriod)
	v.SetDefault("plans.periodDays", defaults.PeriodDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg PlanConfig
	if err := v.UnmarshalKey("plans", &cfg); err != nil {
		return nil, err
	}
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanConfig
		if err := v.UnmarshalKey("plans", &updated); err != nil {
			log.Printf("[plan-config] reload failed: %v", err)
			return
		}
		if err := validatePlanConfig(updated); err != nil {
			log.Printf("[plan-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

// NewStaticPlanConfigHolder returns a holder pinned to cfg, for tests.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validatePlanConfig(cfg PlanConfig) error {
	if cfg.ProMinutesPerPeriod <= 0 {
		return errors.New("plans.proMinutesPerPeriod must be positive")
	}
	if cfg.PeriodDays <= 0 {
		return errors.New("plans.periodDays must be positive")
	}
	return nil
}
