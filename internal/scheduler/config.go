package scheduler

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls run-loop cadence and batch sizes.
type Config struct {
	RunInterval         time.Duration
	MaxCycleBatchSize   int
	MaxAttemptBatchSize int
	MaxIntentBatchSize  int
	MaxOutboundRows     int
	// BuildPresentments cuts presentment files from the run loop. Off by
	// default: operators build files from the admin API ahead of the
	// bank's submission window.
	BuildPresentments bool
	// EnabledJobs restricts which jobs run. Empty enables all.
	EnabledJobs []string
	// LockTTL bounds how long one replica may hold a job lease.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Minute,
		MaxCycleBatchSize:   50,
		MaxAttemptBatchSize: 50,
		MaxIntentBatchSize:  100,
		MaxOutboundRows:     500,
		LockTTL:             2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.MaxCycleBatchSize <= 0 {
		c.MaxCycleBatchSize = defaults.MaxCycleBatchSize
	}
	if c.MaxAttemptBatchSize <= 0 {
		c.MaxAttemptBatchSize = defaults.MaxAttemptBatchSize
	}
	if c.MaxIntentBatchSize <= 0 {
		c.MaxIntentBatchSize = defaults.MaxIntentBatchSize
	}
	if c.MaxOutboundRows <= 0 {
		c.MaxOutboundRows = defaults.MaxOutboundRows
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

// ProvideConfig reads scheduler tuning from the environment.
func ProvideConfig() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("SCHEDULER_RUN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RunInterval = d
		}
	}
	if v := os.Getenv("SCHEDULER_BUILD_PRESENTMENTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.BuildPresentments = b
		}
	}
	if v := os.Getenv("SCHEDULER_ENABLED_JOBS"); v != "" {
		for _, job := range strings.Split(v, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}
