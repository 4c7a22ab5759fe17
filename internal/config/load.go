package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fbonesso/storeops/internal/apierr"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions. Every failure is a KindConfig error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConfig, err, "parsing config file %s", path)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, apierr.Wrap(apierr.KindConfig, err, "config file %s", path)
	}

	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}

	if err := Validate(cfg); err != nil {
		return nil, apierr.Wrap(apierr.KindConfig, err, "config validation failed")
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. Environment-only credentials
// therefore work without any config file.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	if err != nil {
		return nil, apierr.Wrap(apierr.KindConfig, err, "reading config file %s", path)
	}

	return Load(path)
}

// Resolve applies the override chain for one invocation: it picks the config
// path (CLI > env > default), opens the store, and computes Settings with CLI
// overrides applied.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Store, Settings, error) {
	store, err := Open(ResolveConfigPath(env, cli))
	if err != nil {
		return nil, Settings{}, err
	}

	settings, err := store.Config().Settings(cli)
	if err != nil {
		return nil, Settings{}, apierr.Wrap(apierr.KindConfig, err, "resolving settings")
	}

	if settings.Workers < 1 {
		return nil, Settings{}, apierr.New(apierr.KindUsage, "workers must be >= 1, got %d", settings.Workers)
	}

	if settings.Timeout <= 0 {
		return nil, Settings{}, apierr.New(apierr.KindUsage, "timeout must be > 0, got %s", settings.Timeout)
	}

	return store, settings, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	return d, nil
}
