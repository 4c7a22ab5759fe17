package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig               = "STOREOPS_CONFIG"
	EnvProfile              = "STOREOPS_PROFILE"
	EnvAppleKeyID           = "STOREOPS_APPLE_KEY_ID"
	EnvAppleIssuerID        = "STOREOPS_APPLE_ISSUER_ID"
	EnvAppleKeyPath         = "STOREOPS_APPLE_KEY_PATH"
	EnvGoogleServiceAccount = "STOREOPS_GOOGLE_SERVICE_ACCOUNT"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath           string // STOREOPS_CONFIG: override config file path
	Profile              string // STOREOPS_PROFILE: active profile name
	AppleKeyID           string
	AppleIssuerID        string
	AppleKeyPath         string
	GoogleServiceAccount string // path to a service-account JSON file
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:           os.Getenv(EnvConfig),
		Profile:              os.Getenv(EnvProfile),
		AppleKeyID:           os.Getenv(EnvAppleKeyID),
		AppleIssuerID:        os.Getenv(EnvAppleIssuerID),
		AppleKeyPath:         os.Getenv(EnvAppleKeyPath),
		GoogleServiceAccount: os.Getenv(EnvGoogleServiceAccount),
	}
}

// hasAppleCredentials reports whether all three Apple variables are set.
// A partial set is ignored, matching how the profile path is resolved.
func (e EnvOverrides) hasAppleCredentials() bool {
	return e.AppleKeyID != "" && e.AppleIssuerID != "" && e.AppleKeyPath != ""
}
