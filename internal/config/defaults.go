package config

// Default values for configuration options. These are layer 0 of the
// override chain and apply whenever a key is absent from the config file.
const (
	defaultTimeout           = "30s"
	defaultConnectTimeout    = "10s"
	defaultMaxRetries        = 5
	defaultMaxNetworkRetries = 2
	defaultBaseDelay         = "500ms"
	defaultMaxDelay          = "30s"
	defaultWorkers           = 4
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			Timeout:        defaultTimeout,
			ConnectTimeout: defaultConnectTimeout,
		},
		Retry: RetryConfig{
			MaxRetries:        defaultMaxRetries,
			MaxNetworkRetries: defaultMaxNetworkRetries,
			BaseDelay:         defaultBaseDelay,
			MaxDelay:          defaultMaxDelay,
		},
		Concurrency: ConcurrencyConfig{Workers: defaultWorkers},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Profiles: make(map[string]Profile),
	}
}
