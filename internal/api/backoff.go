package api

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Retry defaults. The providers document neither backoff constants nor
// ceilings, so these are conservative and configurable.
const (
	DefaultMaxRetries        = 5
	DefaultMaxNetworkRetries = 2
	DefaultBaseDelay         = 500 * time.Millisecond
	DefaultMaxDelay          = 30 * time.Second
	DefaultTimeout           = 30 * time.Second
)

// RetryPolicy bounds retries. MaxRetries applies to rate-limit and server
// failures; MaxNetworkRetries to transport failures.
type RetryPolicy struct {
	MaxRetries        int
	MaxNetworkRetries int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// DefaultRetryPolicy returns the built-in retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        DefaultMaxRetries,
		MaxNetworkRetries: DefaultMaxNetworkRetries,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
	}
}

// backoff returns min(BaseDelay·2^retry, MaxDelay) plus jitter in
// [0, BaseDelay).
func (p RetryPolicy) backoff(retry int, jitter func(time.Duration) time.Duration) time.Duration {
	d := p.MaxDelay

	// Shifting past 30 bits overflows long before any sane MaxDelay.
	if retry < 30 {
		if exp := p.BaseDelay << retry; exp > 0 && exp < p.MaxDelay {
			d = exp
		}
	}

	if p.BaseDelay > 0 {
		d += jitter(p.BaseDelay)
	}

	return d
}

// randomJitter is uniform in [0, n).
func randomJitter(n time.Duration) time.Duration {
	return time.Duration(rand.Int64N(int64(n))) //nolint:gosec // jitter does not need crypto rand
}

// parseRetryAfter reads a Retry-After header as delta-seconds or an
// HTTP-date. It returns 0 when absent or unparsable.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds <= 0 {
			return 0
		}

		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
