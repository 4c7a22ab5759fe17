package config

import (
	"sync"

	"github.com/fbonesso/storeops/internal/apierr"
)

// Store is the credential store: a loaded Config bound to its file path.
// Reads take a shared lock; every mutation is written back atomically
// before it becomes visible.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewStore wraps an already loaded Config.
func NewStore(path string, cfg *Config) *Store {
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}

	return &Store{path: path, cfg: cfg}
}

// Open loads the config file at path (defaults when it does not exist) and
// returns a Store bound to it.
func Open(path string) (*Store, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	return NewStore(path, cfg), nil
}

// Path returns the config file path the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Config returns the loaded configuration. Callers must not mutate it.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg
}

// Get returns the named profile.
func (s *Store) Get(name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.cfg.Profiles[name]
	if !ok {
		return Profile{}, apierr.Wrap(apierr.KindConfig, ErrProfileNotFound,
			"profile %q not found (run 'storeops auth login')", name)
	}

	return p, nil
}

// Put validates p, stores it under name, and saves the file. A profile put
// with Default set clears the flag on every other profile.
func (s *Store) Put(name string, p Profile) error {
	if err := validateProfile(name, &p); err != nil {
		return apierr.Wrap(apierr.KindConfig, err, "invalid profile %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneConfig(s.cfg)

	if p.Default {
		for other, op := range next.Profiles {
			op.Default = false
			next.Profiles[other] = op
		}
	}

	next.Profiles[name] = p

	return s.commit(next)
}

// List returns a summary of every profile sorted by name. Active marks the
// profile selected by the file alone (no flag or env override).
func (s *Store) List() []ProfileSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := persistedActive(s.cfg)
	names := sortedProfileNames(s.cfg.Profiles)
	out := make([]ProfileSummary, 0, len(names))

	for _, name := range names {
		p := s.cfg.Profiles[name]
		out = append(out, ProfileSummary{
			Name:    name,
			Store:   p.Store,
			Default: p.Default,
			Active:  name == active,
		})
	}

	return out
}

// Active returns the name of the profile to use for this invocation.
// Precedence: the --profile flag, STOREOPS_PROFILE, the persisted
// active_profile, the single profile marked default, the only profile.
func (s *Store) Active(flag string, env EnvOverrides) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, explicit := range []string{flag, env.Profile} {
		if explicit == "" {
			continue
		}

		if _, ok := s.cfg.Profiles[explicit]; !ok {
			return "", apierr.Wrap(apierr.KindConfig, ErrProfileNotFound,
				"profile %q not found", explicit)
		}

		return explicit, nil
	}

	if name := persistedActive(s.cfg); name != "" {
		return name, nil
	}

	if len(s.cfg.Profiles) == 0 {
		return "", apierr.Wrap(apierr.KindConfig, ErrNoActiveProfile,
			"no profiles configured (run 'storeops auth login')")
	}

	return "", apierr.Wrap(apierr.KindConfig, ErrNoActiveProfile,
		"multiple profiles configured and none is active; use --profile or 'storeops auth switch'")
}

// SetActive persists name as the active profile.
func (s *Store) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cfg.Profiles[name]; !ok {
		return apierr.Wrap(apierr.KindConfig, ErrProfileNotFound, "profile %q not found", name)
	}

	next := cloneConfig(s.cfg)
	next.ActiveProfile = name

	return s.commit(next)
}

// Remove deletes the named profile. The active pointer is cleared when it
// referenced the removed profile.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cfg.Profiles[name]; !ok {
		return apierr.Wrap(apierr.KindConfig, ErrProfileNotFound, "profile %q not found", name)
	}

	next := cloneConfig(s.cfg)
	delete(next.Profiles, name)

	if next.ActiveProfile == name {
		next.ActiveProfile = ""
	}

	return s.commit(next)
}

// commit saves next and swaps it in. Caller holds the write lock.
func (s *Store) commit(next *Config) error {
	if err := Save(s.path, next); err != nil {
		return apierr.Wrap(apierr.KindConfig, err, "saving %s", s.path)
	}

	s.cfg = next

	return nil
}

func cloneConfig(cfg *Config) *Config {
	out := *cfg
	out.Profiles = make(map[string]Profile, len(cfg.Profiles))

	for name, p := range cfg.Profiles {
		out.Profiles[name] = p
	}

	return &out
}
