package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *EngineConfig) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return fmt.Errorf("feed.url must be a ws:// or wss:// URL, got %q", c.Feed.URL)
	}

	if c.Backoff.MaxAttempts < 1 {
		return errors.New("backoff.max_attempts must be >= 1")
	}
	if c.Backoff.BaseDelay > c.Backoff.MaxDelay {
		return errors.New("backoff.base_delay must not exceed backoff.max_delay")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		return fmt.Errorf("backoff.jitter must be in [0, 1], got %v", c.Backoff.Jitter)
	}
	if c.Backoff.PartialMaxAttempts < 1 {
		return errors.New("backoff.partial_max_attempts must be >= 1")
	}

	if c.Health.StalenessThreshold < c.Health.Interval {
		return errors.New("health.staleness_threshold must be >= health.interval")
	}

	if c.Subscribe.SettleTimeout <= 0 {
		return errors.New("subscribe.settle_timeout must be positive")
	}

	return nil
}
