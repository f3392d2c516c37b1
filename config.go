package triage

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the engine's process-lifetime settings. All fields are
// fixed at start; nothing here may change while workers are running.
type Config struct {
	// Workers is the number of concurrent job processors.
	Workers int

	// MaxAttempts is the default retry ceiling for submitted jobs.
	MaxAttempts int

	// JobTimeout is the default hard wall-clock budget per attempt.
	JobTimeout time.Duration

	// BaseDelay is the first retry delay; attempt n waits
	// BaseDelay * 2^(n-1), capped at MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the exponential retry delay.
	MaxDelay time.Duration

	// MetricsWindow is the number of recent completions kept for the
	// rolling average and p95 processing-time metrics.
	MetricsWindow int

	// PollInterval is how long an idle worker waits before rescanning
	// the lanes when no enqueue notification arrives.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		MaxAttempts:     3,
		JobTimeout:      300 * time.Second,
		BaseDelay:       1 * time.Second,
		MaxDelay:        60 * time.Second,
		MetricsWindow:   1000,
		PollInterval:    100 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate reports the first nonsensical setting.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("triage: workers must be >= 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("triage: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("triage: job timeout must be positive, got %s", c.JobTimeout)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("triage: base delay must be positive, got %s", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("triage: max delay %s below base delay %s", c.MaxDelay, c.BaseDelay)
	}
	if c.MetricsWindow < 1 {
		return fmt.Errorf("triage: metrics window must be >= 1, got %d", c.MetricsWindow)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("triage: poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// FromEnv returns DefaultConfig overridden by TRIAGE_* environment
// variables. Unset or malformed variables keep their defaults.
func FromEnv() Config {
	c := DefaultConfig()
	c.Workers = envInt("TRIAGE_WORKERS", c.Workers)
	c.MaxAttempts = envInt("TRIAGE_MAX_ATTEMPTS", c.MaxAttempts)
	c.JobTimeout = envDuration("TRIAGE_JOB_TIMEOUT", c.JobTimeout)
	c.BaseDelay = envDuration("TRIAGE_BASE_DELAY", c.BaseDelay)
	c.MaxDelay = envDuration("TRIAGE_MAX_DELAY", c.MaxDelay)
	c.MetricsWindow = envInt("TRIAGE_METRICS_WINDOW", c.MetricsWindow)
	c.PollInterval = envDuration("TRIAGE_POLL_INTERVAL", c.PollInterval)
	c.ShutdownTimeout = envDuration("TRIAGE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	return c
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
