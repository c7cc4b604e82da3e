package scheduler

import (
	"time"

	"github.com/smallbiznis/meterly/internal/config"
)

// Config controls the billing cycle runner and the usage rollup sweep.
type Config struct {
	Enabled            bool
	RunInterval        time.Duration
	RunTimeout         time.Duration
	BatchSize          int
	Concurrency        int
	UsageRollupCron    string
	UsageRollupTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		RunInterval:        time.Minute,
		RunTimeout:         5 * time.Minute,
		BatchSize:          100,
		Concurrency:        1,
		UsageRollupCron:    "15 0 * * *",
		UsageRollupTimeout: 10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:            cfg.Scheduler.Enabled,
		RunInterval:        cfg.Scheduler.RunInterval,
		RunTimeout:         cfg.Scheduler.RunTimeout,
		BatchSize:          cfg.Scheduler.BatchSize,
		Concurrency:        cfg.Scheduler.Concurrency,
		UsageRollupCron:    cfg.Scheduler.UsageRollupCron,
		UsageRollupTimeout: cfg.Scheduler.UsageRollupTimeout,
	}
}

// withDefaults fills durations and sizes; an empty rollup cron stays empty
// and disables the sweep.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.UsageRollupTimeout <= 0 {
		c.UsageRollupTimeout = defaults.UsageRollupTimeout
	}
	return c
}
