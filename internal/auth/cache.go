package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fbonesso/storeops/internal/apierr"
)

type refreshFunc func(ctx context.Context) (Token, error)

// tokenCache holds the current token and coordinates refreshes. One refresh
// is in flight at a time; every caller waiting on it receives the same Token.
type tokenCache struct {
	mu    sync.Mutex
	token Token

	group          singleflight.Group
	refresh        refreshFunc
	threshold      time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
	name           string
}

func newTokenCache(name string, refresh refreshFunc, o options) *tokenCache {
	return &tokenCache{
		refresh:        refresh,
		threshold:      o.threshold,
		refreshTimeout: o.refreshTimeout,
		now:            o.now,
		logger:         o.logger,
		name:           name,
	}
}

// current returns the cached token if it is still fresh.
func (c *tokenCache) current() (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.IsZero() || c.token.ExpiresAt.Sub(c.now()) <= c.threshold {
		return Token{}, false
	}

	return c.token, true
}

func (c *tokenCache) seed(t Token) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *tokenCache) expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.token.ExpiresAt
}

// get returns a fresh token, refreshing through the single-flight group when
// needed. The refresh itself runs detached from ctx so one caller giving up
// never fails the others; ctx only bounds this caller's wait.
func (c *tokenCache) get(ctx context.Context) (Token, error) {
	if t, ok := c.current(); ok {
		return t, nil
	}

	ch := c.group.DoChan(c.name, func() (any, error) {
		if t, ok := c.current(); ok {
			return t, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		start := c.now()

		t, err := c.refresh(rctx)
		if err != nil {
			c.logger.Warn("token refresh failed",
				slog.String("authenticator", c.name),
				slog.String("error", err.Error()),
			)

			return Token{}, err
		}

		c.seed(t)
		c.logger.Debug("token refreshed",
			slog.String("authenticator", c.name),
			slog.Duration("took", c.now().Sub(start)),
			slog.Time("expires_at", t.ExpiresAt),
		)

		return t, nil
	})

	select {
	case <-ctx.Done():
		return Token{}, apierr.FromContext(ctx.Err(), "auth: waiting for token refresh")
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}

		return res.Val.(Token), nil
	}
}
