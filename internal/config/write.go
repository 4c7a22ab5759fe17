package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is owner read/write only: profiles point at private
// key material.
const configFilePermissions = 0o600

// configDirPermissions is the permission mode for the config directory.
const configDirPermissions = 0o700

// configHeader is prepended to every saved config file.
const configHeader = `# storeops configuration
# Profiles are managed with 'storeops auth login', 'auth switch' and 'auth remove'.
# Engine settings ([network], [retry], [concurrency], [logging]) may be edited by hand.

`

// Placeholder profiles written by Init into an empty config.
var templateProfiles = map[string]Profile{
	"apple-default": {
		Store:    StoreApple,
		KeyID:    "YOUR_KEY_ID",
		IssuerID: "YOUR_ISSUER_ID",
		KeyPath:  "/path/to/AuthKey.p8",
	},
	"google-default": {
		Store:              StoreGoogle,
		ServiceAccountPath: "/path/to/service-account.json",
	},
}

// Save encodes cfg as TOML and writes it atomically to path.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer

	buf.WriteString(configHeader)

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

// Init writes placeholder profiles when the store has none and saves the
// file. It reports whether placeholders were added; an existing populated
// config is rewritten unchanged.
func (s *Store) Init() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneConfig(s.cfg)
	added := false

	if len(next.Profiles) == 0 {
		for name, p := range templateProfiles {
			next.Profiles[name] = p
		}

		added = true
	}

	if err := s.commit(next); err != nil {
		return false, err
	}

	return added, nil
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path, so a crash never leaves a
// partially written config. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
