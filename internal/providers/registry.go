// Package providers builds authenticated provider clients for the selected
// profile and shares one authenticator per profile across them.
package providers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/fbonesso/storeops/internal/api"
	"github.com/fbonesso/storeops/internal/appstore"
	"github.com/fbonesso/storeops/internal/auth"
	"github.com/fbonesso/storeops/internal/config"
	"github.com/fbonesso/storeops/internal/play"
)

// Provider names used in errors and logs.
const (
	ProviderAppStore = "appstore"
	ProviderPlay     = "play"
)

// Registry resolves credentials and caches authenticators keyed by store and
// profile, so every client built for one profile shares a single token
// lifecycle.
type Registry struct {
	store       *config.Store
	settings    config.Settings
	env         config.EnvOverrides
	profileFlag string
	httpClient  *http.Client
	logger      *slog.Logger
	appStoreURL string
	playURL     string

	// NewAuthenticator creates an authenticator for a credential. Exported
	// for test injection; defaults to auth.New.
	NewAuthenticator func(cred config.Credential, opts ...auth.Option) (auth.Authenticator, error)

	mu        sync.Mutex
	authCache map[string]auth.Authenticator
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient sets the HTTP client used for API calls and token
// exchanges.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Registry) { r.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBaseURLs overrides the provider endpoints. Empty values keep the
// defaults.
func WithBaseURLs(appStoreURL, playURL string) Option {
	return func(r *Registry) {
		if appStoreURL != "" {
			r.appStoreURL = appStoreURL
		}

		if playURL != "" {
			r.playURL = playURL
		}
	}
}

// NewRegistry creates a Registry. profileFlag is the --profile value, empty
// when not given.
func NewRegistry(store *config.Store, settings config.Settings, env config.EnvOverrides,
	profileFlag string, opts ...Option,
) *Registry {
	r := &Registry{
		store:            store,
		settings:         settings,
		env:              env,
		profileFlag:      profileFlag,
		logger:           slog.Default(),
		appStoreURL:      appstore.DefaultBaseURL,
		playURL:          play.DefaultBaseURL,
		NewAuthenticator: auth.New,
		authCache:        make(map[string]auth.Authenticator),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.httpClient == nil {
		r.httpClient = api.NewHTTPClient(settings.ConnectTimeout)
	}

	return r
}

// AppStore returns an App Store Connect client for the selected profile.
func (r *Registry) AppStore() (*appstore.Client, error) {
	c, _, err := r.Client(config.StoreApple)
	if err != nil {
		return nil, err
	}

	return appstore.New(c), nil
}

// Play returns a Google Play client for the selected profile.
func (r *Registry) Play() (*play.Client, error) {
	c, _, err := r.Client(config.StoreGoogle)
	if err != nil {
		return nil, err
	}

	return play.New(c, play.WithWorkers(r.settings.Workers), play.WithLogger(r.logger)), nil
}

// Client builds the execution-core client for store.
func (r *Registry) Client(store string) (*api.Client, *config.ResolvedCredential, error) {
	rc, authn, err := r.Authenticator(store)
	if err != nil {
		return nil, nil, err
	}

	name, base := ProviderAppStore, r.appStoreURL
	if store == config.StoreGoogle {
		name, base = ProviderPlay, r.playURL
	}

	c := api.NewClient(name, base, authn,
		api.WithHTTPClient(r.httpClient),
		api.WithTimeout(r.settings.Timeout),
		api.WithRetryPolicy(api.RetryPolicy{
			MaxRetries:        r.settings.MaxRetries,
			MaxNetworkRetries: r.settings.MaxNetworkRetries,
			BaseDelay:         r.settings.BaseDelay,
			MaxDelay:          r.settings.MaxDelay,
		}),
		api.WithRateLimit(r.settings.RequestsPerSecond),
		api.WithUserAgent(r.settings.UserAgent),
		api.WithLogger(r.logger.With(slog.String("provider", name))),
	)

	return c, rc, nil
}

// Authenticator resolves the credential for store and returns its cached
// authenticator, creating it on first use.
func (r *Registry) Authenticator(store string) (*config.ResolvedCredential, auth.Authenticator, error) {
	rc, err := r.store.ResolveCredential(store, r.profileFlag, r.env)
	if err != nil {
		return nil, nil, err
	}

	key := store + "/" + rc.ProfileName

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.authCache[key]; ok {
		return rc, a, nil
	}

	opts := []auth.Option{
		auth.WithHTTPClient(r.httpClient),
		auth.WithLogger(r.logger),
	}

	if rc.Profile.CacheToken && !rc.FromEnv() {
		if path := config.ProfileTokenPath(rc.ProfileName); path != "" {
			opts = append(opts, auth.WithTokenCache(path))
		}
	}

	a, err := r.NewAuthenticator(rc.Credential, opts...)
	if err != nil {
		return nil, nil, err
	}

	r.authCache[key] = a

	r.logger.Debug("authenticator created",
		slog.String("store", store),
		slog.String("profile", rc.ProfileName),
	)

	return rc, a, nil
}

// Verify obtains a token for store, proving the selected credential works.
func (r *Registry) Verify(ctx context.Context, store string) (*config.ResolvedCredential, auth.Token, error) {
	rc, a, err := r.Authenticator(store)
	if err != nil {
		return nil, auth.Token{}, err
	}

	tok, err := a.EnsureValid(ctx)
	if err != nil {
		return rc, auth.Token{}, err
	}

	return rc, tok, nil
}
