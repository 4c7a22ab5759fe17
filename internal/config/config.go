// Package config implements the storeops credential store: TOML profile
// loading, validation, active-profile selection, credential loading, and
// platform-specific path resolution. Engine settings follow a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// It holds engine-wide sections plus the named credential profiles.
type Config struct {
	ActiveProfile string             `toml:"active_profile,omitempty"`
	Network       NetworkConfig      `toml:"network"`
	Retry         RetryConfig        `toml:"retry"`
	Concurrency   ConcurrencyConfig  `toml:"concurrency"`
	Logging       LoggingConfig      `toml:"logging"`
	Profiles      map[string]Profile `toml:"profiles"`
}

// NetworkConfig controls HTTP client behavior. timeout bounds one engine
// call across all of its retry attempts.
type NetworkConfig struct {
	Timeout           string  `toml:"timeout"`
	ConnectTimeout    string  `toml:"connect_timeout"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RetryConfig controls the execution core's retry ceilings and backoff.
type RetryConfig struct {
	MaxRetries        int    `toml:"max_retries"`
	MaxNetworkRetries int    `toml:"max_network_retries"`
	BaseDelay         string `toml:"base_delay"`
	MaxDelay          string `toml:"max_delay"`
}

// ConcurrencyConfig bounds the worker pools used for page decoding and
// multi-locale fan-out.
type ConcurrencyConfig struct {
	Workers int `toml:"workers"`
}

// LoggingConfig controls log output level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from an explicit zero.
type CLIOverrides struct {
	ConfigPath string         // --config flag (empty = use default)
	Profile    string         // --profile flag (empty = use selection chain)
	Timeout    *time.Duration // --timeout flag
	Workers    *int           // --workers flag
}

// Settings is the parsed, validated form of the engine sections, ready to be
// handed to the execution core and worker pools.
type Settings struct {
	Timeout           time.Duration
	ConnectTimeout    time.Duration
	UserAgent         string
	RequestsPerSecond float64
	MaxRetries        int
	MaxNetworkRetries int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Workers           int
	LogLevel          string
	LogFormat         string
}

// Settings parses the duration fields of cfg and applies CLI overrides.
// Call it only on a Config that passed Validate.
func (c *Config) Settings(cli CLIOverrides) (Settings, error) {
	var (
		s   Settings
		err error
	)

	if s.Timeout, err = parseDuration("network.timeout", c.Network.Timeout); err != nil {
		return Settings{}, err
	}

	if s.ConnectTimeout, err = parseDuration("network.connect_timeout", c.Network.ConnectTimeout); err != nil {
		return Settings{}, err
	}

	if s.BaseDelay, err = parseDuration("retry.base_delay", c.Retry.BaseDelay); err != nil {
		return Settings{}, err
	}

	if s.MaxDelay, err = parseDuration("retry.max_delay", c.Retry.MaxDelay); err != nil {
		return Settings{}, err
	}

	s.UserAgent = c.Network.UserAgent
	s.RequestsPerSecond = c.Network.RequestsPerSecond
	s.MaxRetries = c.Retry.MaxRetries
	s.MaxNetworkRetries = c.Retry.MaxNetworkRetries
	s.Workers = c.Concurrency.Workers
	s.LogLevel = c.Logging.LogLevel
	s.LogFormat = c.Logging.LogFormat

	if cli.Timeout != nil {
		s.Timeout = *cli.Timeout
	}

	if cli.Workers != nil {
		s.Workers = *cli.Workers
	}

	return s, nil
}
