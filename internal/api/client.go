package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/auth"
)

// defaultUserAgent is sent when no user agent is configured.
const defaultUserAgent = "storeops/1.0"

// AttachFunc places a token on an outgoing request.
type AttachFunc func(req *http.Request, tok auth.Token)

// BearerAuth attaches the token as "Authorization: Bearer <token>".
func BearerAuth(req *http.Request, tok auth.Token) {
	req.Header.Set("Authorization", "Bearer "+tok.Value)
}

// Client executes requests against one provider. It is safe for concurrent
// use; each Execute call tracks its own attempts and time budget.
type Client struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	auth       auth.Authenticator
	attach     AttachFunc
	policy     RetryPolicy
	timeout    time.Duration
	limiter    *rate.Limiter
	userAgent  string
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid real
	// delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
	jitter    func(time.Duration) time.Duration
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithTimeout sets the default time budget for one Execute call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit enables a client-side limiter. rps <= 0 disables it.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}

		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithAttach replaces the token attachment convention.
func WithAttach(fn AttachFunc) Option {
	return func(c *Client) { c.attach = fn }
}

// WithLogger sets the logger. nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for provider rooted at baseURL that obtains
// tokens from authn.
func NewClient(provider, baseURL string, authn auth.Authenticator, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		auth:       authn,
		attach:     BearerAuth,
		policy:     DefaultRetryPolicy(),
		timeout:    DefaultTimeout,
		userAgent:  defaultUserAgent,
		sleepFunc:  timeSleep,
		jitter:     randomJitter,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}

	return c
}

// Provider returns the provider label used in errors and logs.
func (c *Client) Provider() string {
	return c.provider
}

// BaseURL returns the URL relative paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Execute sends req, retrying transient failures within the request's time
// budget. On success the response status is 2xx and the body is fully read.
// Every failure is an *apierr.Error with Attempts set.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	target, err := c.resolveURL(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		attempts       int
		serverRetries  int
		networkRetries int
	)

	for {
		attempts++

		resp, err := c.doOnce(ctx, req, target)
		if err == nil {
			resp.Attempts = attempts
			c.logger.Debug("request succeeded",
				slog.String("provider", c.provider),
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempts),
			)

			return resp, nil
		}

		err.Attempts = attempts

		if !apierr.Retryable(err.Kind) || !req.retryable() {
			return nil, c.failed(req, err)
		}

		if err.Kind == apierr.KindNetwork {
			if networkRetries >= c.policy.MaxNetworkRetries {
				return nil, c.failed(req, err)
			}

			networkRetries++
		} else {
			if serverRetries >= c.policy.MaxRetries {
				return nil, c.failed(req, err)
			}

			serverRetries++
		}

		delay := err.RetryAfter
		if delay <= 0 {
			delay = c.policy.backoff(attempts-1, c.jitter)
		}

		if deadline, ok := ctx.Deadline(); ok && c.now().Add(delay).After(deadline) {
			c.logger.Warn("retry budget exhausted",
				slog.String("provider", c.provider),
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Duration("backoff", delay),
				slog.Int("attempts", attempts),
			)

			return nil, c.failed(req, err)
		}

		c.logger.Warn("retrying request",
			slog.String("provider", c.provider),
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("kind", err.Kind.String()),
			slog.Int("status", err.StatusCode),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", delay),
		)

		if sleepErr := c.sleepFunc(ctx, delay); sleepErr != nil {
			ctxErr := apierr.FromContext(sleepErr, "api: %s %s interrupted during backoff", req.Method, req.Path)
			ctxErr.Attempts = attempts

			return nil, errors.Join(ctxErr, err)
		}
	}
}

func (c *Client) failed(req Request, err *apierr.Error) error {
	if err.Attempts > 1 {
		c.logger.Error("request failed after retries",
			slog.String("provider", c.provider),
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("kind", err.Kind.String()),
			slog.Int("status", err.StatusCode),
			slog.Int("attempts", err.Attempts),
		)
	}

	return err
}

// doOnce performs a single attempt and classifies its outcome.
func (c *Client) doOnce(ctx context.Context, req Request, target string) (*Response, *apierr.Error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// Wait fails early when the next slot lies past the deadline.
			if ctx.Err() == nil {
				err = context.DeadlineExceeded
			}

			return nil, c.contextError(err, req)
		}
	}

	tok, err := c.auth.EnsureValid(ctx)
	if err != nil {
		var typed *apierr.Error
		if errors.As(err, &typed) {
			// The error may be shared with other waiters on the same refresh.
			cp := *typed

			return nil, &cp
		}

		return nil, apierr.Wrap(apierr.KindAuth, err, "%s: obtaining token", c.provider)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUsage, err, "%s: building request", c.provider)
	}

	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	httpReq.Header.Set("User-Agent", c.userAgent)

	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	if req.Body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = "application/json"
		}

		httpReq.Header.Set("Content-Type", ct)
	}

	c.attach(httpReq, tok)

	c.logger.Debug("sending request",
		slog.String("provider", c.provider),
		slog.String("method", req.Method),
		slog.String("url", target),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.contextError(ctx.Err(), req)
		}

		return nil, &apierr.Error{
			Kind:     apierr.KindNetwork,
			Provider: c.provider,
			Message:  req.Method + " " + req.Path + " failed",
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.contextError(ctx.Err(), req)
		}

		return nil, &apierr.Error{
			Kind:       apierr.KindNetwork,
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Message:    "reading response body",
			Cause:      err,
		}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
	}

	apiErr := statusError(c.provider, resp, data)
	if apiErr.Kind == apierr.KindRateLimited || apiErr.Kind == apierr.KindServer {
		apiErr.RetryAfter = parseRetryAfter(resp.Header, c.now())
	}

	return nil, apiErr
}

func (c *Client) contextError(err error, req Request) *apierr.Error {
	e := apierr.FromContext(err, "%s %s", req.Method, req.Path)
	e.Provider = c.provider

	return e
}

// resolveURL joins a relative path to the base URL and merges req.Query.
// Absolute URLs are used as given, with req.Query merged on top, but only
// when they stay under the base URL; the bearer token is never sent
// elsewhere.
func (c *Client) resolveURL(req Request) (string, error) {
	raw := req.Path
	absolute := strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")

	if !absolute {
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}

		raw = c.baseURL + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apierr.Wrap(apierr.KindUsage, err, "%s: invalid request path %q", c.provider, req.Path)
	}

	if absolute {
		if err := c.checkSameOrigin(u); err != nil {
			return "", err
		}
	}

	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			q.Del(k)

			for _, v := range vs {
				q.Add(k, v)
			}
		}

		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// checkSameOrigin reports a protocol error when u is outside the base URL.
func (c *Client) checkSameOrigin(u *url.URL) error {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return apierr.Wrap(apierr.KindConfig, err, "%s: invalid base URL %q", c.provider, c.baseURL)
	}

	prefix := strings.TrimSuffix(base.Path, "/") + "/"

	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) ||
		u.User != nil || !strings.HasPrefix(u.Path, prefix) {
		e := apierr.New(apierr.KindProtocol, "refusing to send credentials to %s://%s%s",
			u.Scheme, u.Host, u.Path)
		e.Provider = c.provider

		return e
	}

	return nil
}
