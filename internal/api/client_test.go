package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/auth"
)

// recordingSleep records requested backoffs and returns immediately.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, d)

	return r.err
}

func (r *recordingSleep) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.delays...)
}

// staticAuth is an authenticator that always returns the same token.
func staticAuth(value string) auth.Authenticator {
	return auth.TokenSourceFunc(func(context.Context) (auth.Token, error) {
		return auth.Token{Value: value, ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
}

// newTestClient creates a Client pointing at url with recorded, instant
// retry sleeps and no jitter.
func newTestClient(t *testing.T, url string, opts ...Option) (*Client, *recordingSleep) {
	t.Helper()

	rec := &recordingSleep{}
	c := NewClient("test", url, staticAuth("test-token"), opts...)
	c.sleepFunc = rec.sleep
	c.jitter = func(time.Duration) time.Duration { return 0 }

	return c, rec
}

// sequenceServer replies with the given statuses in order, then 200.
func sequenceServer(t *testing.T, calls *atomic.Int32, statuses []int, header http.Header) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1))

		for k, vs := range header {
			w.Header()[k] = vs
		}

		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"try later"}}`))

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestExecute_Success(t *testing.T) {
	var got *http.Request

	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"42"}}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL+"/v1", WithUserAgent("storeops-test"))

	req, err := JSONRequest(http.MethodPost, "apps", map[string]string{"name": "demo"})
	require.NoError(t, err)

	req.Query = url.Values{"limit": {"5"}}

	resp, err := c.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "42", resp.Get("data.id").String())

	assert.Equal(t, "/v1/apps", got.URL.Path)
	assert.Equal(t, "5", got.URL.Query().Get("limit"))
	assert.Equal(t, "Bearer test-token", got.Header.Get("Authorization"))
	assert.Equal(t, "storeops-test", got.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"name":"demo"}`, string(gotBody))

	var decoded struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, resp.Decode(&decoded))
	assert.Equal(t, "42", decoded.Data.ID)
}

func TestExecute_RetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	srv := sequenceServer(t, &calls, []int{http.StatusTooManyRequests, http.StatusTooManyRequests}, nil)
	c, rec := newTestClient(t, srv.URL)

	resp, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/apps"})
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, rec.recorded())
}

func TestExecute_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	srv := sequenceServer(t, &calls, []int{http.StatusServiceUnavailable},
		http.Header{"Retry-After": {"7"}})
	c, rec := newTestClient(t, srv.URL)

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/apps"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, rec.recorded())
}

func TestExecute_ServerErrorsExhausted(t *testing.T) {
	var calls atomic.Int32

	statuses := []int{500, 502, 503, 504, 500, 500, 500}
	srv := sequenceServer(t, &calls, statuses, nil)
	c, rec := newTestClient(t, srv.URL)

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/apps"})
	require.Error(t, err)

	var e *apierr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apierr.KindServer, e.Kind)
	assert.Equal(t, 6, e.Attempts, "one attempt plus five retries")
	assert.Equal(t, int32(6), calls.Load())
	assert.Len(t, rec.recorded(), 5)
	assert.Equal(t, "try later", e.Message)
	assert.Equal(t, apierr.ExitRemote, apierr.ExitCode(err))
}

func TestExecute_NonIdempotentNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := sequenceServer(t, &calls, []int{http.StatusServiceUnavailable}, nil)
	c, rec := newTestClient(t, srv.URL)

	_, err := c.Execute(context.Background(), Request{Method: http.MethodPost, Path: "/uploads", Body: []byte("{}")})
	require.Error(t, err)

	assert.Equal(t, apierr.KindServer, apierr.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.recorded())
}

func TestExecute_IdempotentPostRetried(t *testing.T) {
	var calls atomic.Int32

	srv := sequenceServer(t, &calls, []int{http.StatusServiceUnavailable}, nil)
	c, _ := newTestClient(t, srv.URL)

	_, err := c.Execute(context.Background(), Request{Method: http.MethodPost, Path: "/edits/1:validate", Idempotent: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   apierr.Kind
		exit   int
	}{
		{"bad request", http.StatusBadRequest, apierr.KindValidation, apierr.ExitRemote},
		{"unauthorized", http.StatusUnauthorized, apierr.KindAuth, apierr.ExitAuth},
		{"forbidden", http.StatusForbidden, apierr.KindAuth, apierr.ExitAuth},
		{"not found", http.StatusNotFound, apierr.KindNotFound, apierr.ExitRemote},
		{"conflict", http.StatusConflict, apierr.KindValidation, apierr.ExitRemote},
		{"unprocessable", http.StatusUnprocessableEntity, apierr.KindValidation, apierr.ExitRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			srv := sequenceServer(t, &calls, []int{tt.status}, nil)
			c, _ := newTestClient(t, srv.URL)

			_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
			require.Error(t, err)

			var e *apierr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, "test", e.Provider)
			assert.Equal(t, tt.exit, apierr.ExitCode(err))
			assert.Equal(t, int32(1), calls.Load(), "non-retryable status is not retried")
		})
	}
}

func TestExecute_NetworkErrorsRetriedTwice(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, rec := newTestClient(t, addr)

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/apps"})
	require.Error(t, err)

	var e *apierr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apierr.KindNetwork, e.Kind)
	assert.Equal(t, 3, e.Attempts)
	assert.Len(t, rec.recorded(), 2)
	assert.Equal(t, apierr.ExitNetwork, apierr.ExitCode(err))
}

func TestExecute_BackoffBeyondDeadlineNotSlept(t *testing.T) {
	var calls atomic.Int32

	srv := sequenceServer(t, &calls, []int{http.StatusTooManyRequests},
		http.Header{"Retry-After": {"120"}})
	c, rec := newTestClient(t, srv.URL, WithTimeout(2*time.Second))

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/apps"})
	require.Error(t, err)

	var e *apierr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apierr.KindRateLimited, e.Kind)
	assert.Equal(t, 120*time.Second, e.RetryAfter)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.recorded())
}

func TestExecute_RequestTimeoutOverridesDefault(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/slow", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, apierr.KindNetwork, apierr.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_CanceledDuringBackoff(t *testing.T) {
	var calls atomic.Int32

	srv := sequenceServer(t, &calls, []int{http.StatusServiceUnavailable}, nil)
	c, rec := newTestClient(t, srv.URL)
	rec.err = context.Canceled

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/apps"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindCanceled, apierr.KindOf(err))
	assert.ErrorIs(t, err, apierr.ErrServer, "the last response error is preserved")
	assert.Equal(t, apierr.ExitUser, apierr.ExitCode(err))
}

func TestExecute_AuthFailureSkipsRequest(t *testing.T) {
	var calls atomic.Int32

	srv := sequenceServer(t, &calls, nil, nil)

	failing := auth.TokenSourceFunc(func(context.Context) (auth.Token, error) {
		return auth.Token{}, apierr.New(apierr.KindAuth, "invalid key material")
	})
	c := NewClient("test", srv.URL, failing)

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/apps"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindAuth, apierr.KindOf(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestExecute_AbsoluteURLUsedVerbatim(t *testing.T) {
	var gotURL string

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL+"/v1")

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: srv.URL + "/v1/apps?cursor=abc&limit=2"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/apps?cursor=abc&limit=2", gotURL)
}

func TestExecute_AbsoluteURLOutsideBaseRefused(t *testing.T) {
	var leaked atomic.Int32

	foreign := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			leaked.Add(1)
		}
	}))
	defer foreign.Close()

	var calls atomic.Int32

	srv := sequenceServer(t, &calls, nil, nil)
	c, _ := newTestClient(t, srv.URL+"/v1")

	for _, target := range []string{
		foreign.URL + "/v1/apps",
		strings.Replace(srv.URL, "http://", "https://", 1) + "/v1/apps",
		srv.URL + "/other/apps",
		strings.Replace(srv.URL, "http://", "http://user:pw@", 1) + "/v1/apps",
	} {
		t.Run(target, func(t *testing.T) {
			_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: target})
			require.Error(t, err)
			assert.Equal(t, apierr.KindProtocol, apierr.KindOf(err))
		})
	}

	assert.Equal(t, int32(0), leaked.Load(), "bearer token sent to a foreign host")
	assert.Equal(t, int32(0), calls.Load())
}

func TestExecute_RateLimiterRespectsDeadline(t *testing.T) {
	var calls atomic.Int32

	srv := sequenceServer(t, &calls, nil, nil)
	c, _ := newTestClient(t, srv.URL, WithRateLimit(0.001), WithTimeout(time.Second))

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/a"})
	require.NoError(t, err, "burst allows the first request")

	_, err = c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/b"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindNetwork, apierr.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_CustomAttach(t *testing.T) {
	var gotHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, WithAttach(func(req *http.Request, tok auth.Token) {
		req.Header.Set("X-Api-Key", tok.Value)
	}))

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, "test-token", gotHeader)
}
