// Package auth produces bearer tokens for the two providers. Both
// authenticators share one caching core: a token is reused while its
// remaining lifetime exceeds a threshold, and refreshes are single-flight so
// concurrent requests never trigger duplicate mints or exchanges.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/config"
)

// Defaults for the shared token cache.
const (
	DefaultThreshold      = 60 * time.Second
	DefaultRefreshTimeout = 30 * time.Second
)

// Token is a bearer credential with its validity window.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsZero reports whether t holds no credential.
func (t Token) IsZero() bool {
	return t.Value == ""
}

// Authenticator yields a token that is valid for the next request.
// Implementations are safe for concurrent use.
type Authenticator interface {
	EnsureValid(ctx context.Context) (Token, error)
	Expiry() time.Time
}

// TokenSourceFunc adapts a function to Authenticator for tests and for
// providers that need no token at all.
type TokenSourceFunc func(ctx context.Context) (Token, error)

// EnsureValid calls f.
func (f TokenSourceFunc) EnsureValid(ctx context.Context) (Token, error) {
	return f(ctx)
}

// Expiry is unknown for a plain function.
func (f TokenSourceFunc) Expiry() time.Time {
	return time.Time{}
}

type options struct {
	threshold      time.Duration
	refreshTimeout time.Duration
	lifetime       time.Duration
	now            func() time.Time
	logger         *slog.Logger
	httpClient     *http.Client
	cachePath      string
}

// Option configures an authenticator.
type Option func(*options)

// WithThreshold sets the remaining lifetime below which a token is refreshed.
func WithThreshold(d time.Duration) Option {
	return func(o *options) { o.threshold = d }
}

// WithRefreshTimeout bounds one shared refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) { o.refreshTimeout = d }
}

// WithLifetime sets the lifetime of locally minted tokens. Values above the
// provider maximum are clamped.
func WithLifetime(d time.Duration) Option {
	return func(o *options) { o.lifetime = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger. nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the client used for token exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenCache persists exchanged tokens at path between invocations.
// Locally minted tokens are never cached.
func WithTokenCache(path string) Option {
	return func(o *options) { o.cachePath = path }
}

func buildOptions(opts []Option) options {
	o := options{
		threshold:      DefaultThreshold,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		httpClient:     http.DefaultClient,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	return o
}

// New builds the authenticator for cred.
func New(cred config.Credential, opts ...Option) (Authenticator, error) {
	switch c := cred.(type) {
	case config.SignedKey:
		return NewSignedKey(c, opts...)
	case config.ServiceAccount:
		return NewServiceAccount(c, opts...)
	default:
		return nil, apierr.New(apierr.KindConfig, "auth: unsupported credential %T", cred)
	}
}
