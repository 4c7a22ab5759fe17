package config

import (
	"errors"
	"sort"
)

// Store tags. A profile belongs to exactly one provider.
const (
	StoreApple  = "apple"
	StoreGoogle = "google"
)

// Sentinel errors for profile lookup. They are wrapped in an apierr.Error of
// kind KindConfig before leaving the package.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrNoActiveProfile = errors.New("no active profile")
	ErrStoreMismatch   = errors.New("profile belongs to a different store")
)

// Profile is one named credential configuration. The engine treats it as
// read-only; it only changes through the auth commands.
type Profile struct {
	Store              string `toml:"store"`
	KeyID              string `toml:"key_id,omitempty"`
	IssuerID           string `toml:"issuer_id,omitempty"`
	KeyPath            string `toml:"key_path,omitempty"`
	ServiceAccountPath string `toml:"service_account_path,omitempty"`
	Default            bool   `toml:"default,omitempty"`
	CacheToken         bool   `toml:"cache_token,omitempty"`
}

// ProfileSummary is the listing form of a profile, without credential paths.
type ProfileSummary struct {
	Name    string `json:"name"`
	Store   string `json:"store"`
	Default bool   `json:"default"`
	Active  bool   `json:"active"`
}

// sortedProfileNames returns the profile names in lexical order.
func sortedProfileNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// persistedActive resolves the active profile from the file alone:
// active_profile, then the single default profile, then the only profile.
func persistedActive(cfg *Config) string {
	if cfg.ActiveProfile != "" {
		if _, ok := cfg.Profiles[cfg.ActiveProfile]; ok {
			return cfg.ActiveProfile
		}
	}

	var defaults []string

	for _, name := range sortedProfileNames(cfg.Profiles) {
		if cfg.Profiles[name].Default {
			defaults = append(defaults, name)
		}
	}

	if len(defaults) == 1 {
		return defaults[0]
	}

	if len(cfg.Profiles) == 1 {
		for name := range cfg.Profiles {
			return name
		}
	}

	return ""
}
