// Package config loads the engine configuration from YAML with environment
// expansion, defaulting, and validation.
package config

import "time"

// EngineConfig is the root configuration for the realtime sync engine.
type EngineConfig struct {
	Feed      FeedConfig      `yaml:"feed"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Health    HealthConfig    `yaml:"health"`
	Subscribe SubscribeConfig `yaml:"subscribe"`
	Coalesce  CoalesceConfig  `yaml:"coalesce"`
}

// FeedConfig holds realtime feed endpoint settings.
type FeedConfig struct {
	URL             string        `yaml:"url"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	FrameBufferSize int           `yaml:"frame_buffer_size"`
	EventBufferSize int           `yaml:"event_buffer_size"`
}

// BackoffConfig holds reconnect retry settings.
type BackoffConfig struct {
	BaseDelay            time.Duration `yaml:"base_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	MaxAttempts          int           `yaml:"max_attempts"`
	LongRetryDelay       time.Duration `yaml:"long_retry_delay"`
	Jitter               float64       `yaml:"jitter"`
	PartialRetryInterval time.Duration `yaml:"partial_retry_interval"`
	PartialMaxAttempts   int           `yaml:"partial_max_attempts"`
	MinReconnectInterval time.Duration `yaml:"min_reconnect_interval"`
}

// HealthConfig holds the periodic liveness check settings.
type HealthConfig struct {
	Interval                  time.Duration `yaml:"interval"`
	StalenessThreshold        time.Duration `yaml:"staleness_threshold"`
	SafetyResubscribeInterval time.Duration `yaml:"safety_resubscribe_interval"`
	BackgroundGrace           time.Duration `yaml:"background_grace"`
}

// SubscribeConfig holds channel settle settings.
type SubscribeConfig struct {
	SettleTimeout time.Duration `yaml:"settle_timeout"`
}

// CoalesceConfig holds invalidation batching settings.
type CoalesceConfig struct {
	FlushDelay time.Duration `yaml:"flush_delay"`
}
