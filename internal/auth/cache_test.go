package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache_SingleFlight(t *testing.T) {
	var calls atomic.Int32

	release := make(chan struct{})
	started := make(chan struct{}, 1)

	refresh := func(context.Context) (Token, error) {
		n := calls.Add(1)
		started <- struct{}{}
		<-release

		return Token{Value: "tok", IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour + time.Duration(n))}, nil
	}

	c := newTokenCache("test", refresh, buildOptions(nil))

	const callers = 16

	var wg sync.WaitGroup

	got := make([]Token, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tok, err := c.get(context.Background())
			assert.NoError(t, err)
			got[i] = tok
		}()
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for i := range callers {
		assert.Equal(t, got[0], got[i])
	}
}

func TestTokenCache_FailureNotCached(t *testing.T) {
	var calls atomic.Int32

	refresh := func(context.Context) (Token, error) {
		if calls.Add(1) == 1 {
			return Token{}, errors.New("boom")
		}

		return Token{Value: "ok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	c := newTokenCache("test", refresh, buildOptions(nil))

	_, err := c.get(context.Background())
	require.Error(t, err)

	tok, err := c.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", tok.Value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenCache_RefreshTimeout(t *testing.T) {
	refresh := func(ctx context.Context) (Token, error) {
		<-ctx.Done()
		return Token{}, ctx.Err()
	}

	c := newTokenCache("test", refresh, buildOptions([]Option{WithRefreshTimeout(10 * time.Millisecond)}))

	_, err := c.get(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
