package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Validation range constants.
const (
	minTimeout        = 1 * time.Second
	minConnectTimeout = 1 * time.Second
	minBaseDelay      = 10 * time.Millisecond
	maxRetriesCeiling = 20
	minWorkers        = 1
	maxWorkers        = 32
)

// profileNamePattern restricts names to what is safe as a token cache file
// name and a TOML bare key.
var profileNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateConcurrency(&cfg.Concurrency)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateProfiles(cfg)...)

	return errors.Join(errs...)
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.timeout", n.Timeout, minTimeout)...)
	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)

	if n.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("network.requests_per_second: must be >= 0, got %g", n.RequestsPerSecond))
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxRetries < 0 || r.MaxRetries > maxRetriesCeiling {
		errs = append(errs, fmt.Errorf("retry.max_retries: must be between 0 and %d, got %d",
			maxRetriesCeiling, r.MaxRetries))
	}

	if r.MaxNetworkRetries < 0 || r.MaxNetworkRetries > maxRetriesCeiling {
		errs = append(errs, fmt.Errorf("retry.max_network_retries: must be between 0 and %d, got %d",
			maxRetriesCeiling, r.MaxNetworkRetries))
	}

	errs = append(errs, validateDurationMin("retry.base_delay", r.BaseDelay, minBaseDelay)...)
	errs = append(errs, validateDurationMin("retry.max_delay", r.MaxDelay, minBaseDelay)...)

	base, baseErr := time.ParseDuration(r.BaseDelay)
	maxDelay, maxErr := time.ParseDuration(r.MaxDelay)

	if baseErr == nil && maxErr == nil && maxDelay < base {
		errs = append(errs, fmt.Errorf("retry.max_delay: must be >= base_delay (%s), got %s", base, maxDelay))
	}

	return errs
}

func validateConcurrency(c *ConcurrencyConfig) []error {
	if c.Workers < minWorkers || c.Workers > maxWorkers {
		return []error{fmt.Errorf("concurrency.workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, c.Workers)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateProfiles(cfg *Config) []error {
	var (
		errs     []error
		defaults []string
	)

	for _, name := range sortedProfileNames(cfg.Profiles) {
		p := cfg.Profiles[name]
		if err := validateProfile(name, &p); err != nil {
			errs = append(errs, err)
		}

		if p.Default {
			defaults = append(defaults, name)
		}
	}

	if len(defaults) > 1 {
		errs = append(errs, fmt.Errorf("profiles: only one profile may set default = true, found %v", defaults))
	}

	if cfg.ActiveProfile != "" {
		if _, ok := cfg.Profiles[cfg.ActiveProfile]; !ok {
			errs = append(errs, fmt.Errorf("active_profile: profile %q is not defined", cfg.ActiveProfile))
		}
	}

	return errs
}

// validateProfile checks one profile's shape. Key files are not read here;
// that happens lazily in LoadCredential.
func validateProfile(name string, p *Profile) error {
	var errs []error

	if !profileNamePattern.MatchString(name) {
		errs = append(errs, fmt.Errorf("profiles.%s: invalid profile name", name))
	}

	switch p.Store {
	case StoreApple:
		required := [][2]string{{"key_id", p.KeyID}, {"issuer_id", p.IssuerID}, {"key_path", p.KeyPath}}
		for _, kv := range required {
			if kv[1] == "" {
				errs = append(errs, fmt.Errorf("profiles.%s.%s: required for store %q", name, kv[0], StoreApple))
			}
		}

		if p.ServiceAccountPath != "" {
			errs = append(errs, fmt.Errorf("profiles.%s.service_account_path: not valid for store %q", name, StoreApple))
		}
	case StoreGoogle:
		if p.ServiceAccountPath == "" {
			errs = append(errs, fmt.Errorf("profiles.%s.service_account_path: required for store %q", name, StoreGoogle))
		}

		if p.KeyID != "" || p.IssuerID != "" || p.KeyPath != "" {
			errs = append(errs, fmt.Errorf("profiles.%s: key_id, issuer_id and key_path are not valid for store %q",
				name, StoreGoogle))
		}
	default:
		errs = append(errs, fmt.Errorf("profiles.%s.store: must be %q or %q, got %q",
			name, StoreApple, StoreGoogle, p.Store))
	}

	return errors.Join(errs...)
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := parseDuration(field, value)
	if err != nil {
		return []error{err}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
