package scheduler

import (
	"time"

	"github.com/smallbiznis/bursar/internal/config"
)

// Config controls the sweep interval and how many obligations are read per page.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Hour,
		BatchSize:   200,
		JobTimeout:  10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Reconcile.Enabled,
		RunInterval: time.Duration(cfg.Reconcile.IntervalMinutes) * time.Minute,
		BatchSize:   cfg.Reconcile.BatchSize,
	}.withDefaults()
}
