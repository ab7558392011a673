package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPingTimeout               = 60 * time.Second
	DefaultWriteTimeout              = 5 * time.Second
	DefaultRequestTimeout            = 10 * time.Second
	DefaultFrameBufferSize           = 1024
	DefaultEventBufferSize           = 4096
	DefaultBackoffBase               = 1 * time.Second
	DefaultBackoffMax                = 30 * time.Second
	DefaultBackoffMaxAttempts        = 6
	DefaultLongRetryDelay            = 5 * time.Minute
	DefaultBackoffJitter             = 0.2
	DefaultPartialRetryInterval      = 5 * time.Second
	DefaultPartialMaxAttempts        = 3
	DefaultMinReconnectInterval      = 2 * time.Second
	DefaultHealthInterval            = 30 * time.Second
	DefaultStalenessThreshold        = 2 * time.Minute
	DefaultSafetyResubscribeInterval = 5 * time.Minute
	DefaultBackgroundGrace           = 5 * time.Second
	DefaultSettleTimeout             = 10 * time.Second
	DefaultFlushDelay                = 50 * time.Millisecond
)

func (c *EngineConfig) applyDefaults() {
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.RequestTimeout == 0 {
		c.Feed.RequestTimeout = DefaultRequestTimeout
	}
	if c.Feed.FrameBufferSize == 0 {
		c.Feed.FrameBufferSize = DefaultFrameBufferSize
	}
	if c.Feed.EventBufferSize == 0 {
		c.Feed.EventBufferSize = DefaultEventBufferSize
	}

	if c.Backoff.BaseDelay == 0 {
		c.Backoff.BaseDelay = DefaultBackoffBase
	}
	if c.Backoff.MaxDelay == 0 {
		c.Backoff.MaxDelay = DefaultBackoffMax
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff.MaxAttempts = DefaultBackoffMaxAttempts
	}
	if c.Backoff.LongRetryDelay == 0 {
		c.Backoff.LongRetryDelay = DefaultLongRetryDelay
	}
	if c.Backoff.Jitter == 0 {
		c.Backoff.Jitter = DefaultBackoffJitter
	}
	if c.Backoff.PartialRetryInterval == 0 {
		c.Backoff.PartialRetryInterval = DefaultPartialRetryInterval
	}
	if c.Backoff.PartialMaxAttempts == 0 {
		c.Backoff.PartialMaxAttempts = DefaultPartialMaxAttempts
	}
	if c.Backoff.MinReconnectInterval == 0 {
		c.Backoff.MinReconnectInterval = DefaultMinReconnectInterval
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.StalenessThreshold == 0 {
		c.Health.StalenessThreshold = DefaultStalenessThreshold
	}
	if c.Health.SafetyResubscribeInterval == 0 {
		c.Health.SafetyResubscribeInterval = DefaultSafetyResubscribeInterval
	}
	if c.Health.BackgroundGrace == 0 {
		c.Health.BackgroundGrace = DefaultBackgroundGrace
	}

	if c.Subscribe.SettleTimeout == 0 {
		c.Subscribe.SettleTimeout = DefaultSettleTimeout
	}

	if c.Coalesce.FlushDelay == 0 {
		c.Coalesce.FlushDelay = DefaultFlushDelay
	}
}
