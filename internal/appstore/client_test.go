package appstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbonesso/storeops/internal/api"
	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/auth"
	"github.com/fbonesso/storeops/internal/paging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	authn := auth.TokenSourceFunc(func(context.Context) (auth.Token, error) {
		return auth.Token{Value: "jwt", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	return New(api.NewClient("appstore", srv.URL, authn))
}

func TestApps_FollowsLinksNext(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.RawQuery)
		mu.Unlock()

		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))

		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprintf(w, `{"data":[{"type":"apps","id":"1"}],"links":{"next":"http://%s/apps?cursor=Mg&limit=1"}}`, r.Host)
		case "Mg":
			fmt.Fprint(w, `{"data":[{"type":"apps","id":"2"}],"links":{}}`)
		}
	})

	apps, err := c.Apps(1, paging.Cursor{}).CollectAll(t.Context())
	require.NoError(t, err)

	require.Len(t, apps, 2)
	assert.Equal(t, "1", apps[0].ID)
	assert.Equal(t, "2", apps[1].ID)
	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"limit=1", "cursor=Mg&limit=1"}, seen)
}

func TestApps_NextPageExposesCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":[{"type":"apps","id":"1"}],"links":{"next":"http://%s/apps?cursor=Mg"}}`, r.Host)
	})

	page, ok, err := c.Apps(0, paging.Cursor{}).NextPage(t.Context())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Len(t, page.Items, 1)
	assert.False(t, page.Next.IsZero())

	decoded, err := paging.DecodeCursor(page.Next.Encode())
	require.NoError(t, err)
	assert.Equal(t, page.Next.Encode(), decoded.Encode())
}

func TestReviews_FilterAndSort(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apps/123/customerReviews", r.URL.Path)
		assert.Equal(t, "-rating", r.URL.Query().Get("sort"))
		assert.Equal(t, "5", r.URL.Query().Get("filter[rating]"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"data":[],"links":{}}`)
	})

	p, err := c.Reviews("123", ReviewFilter{Rating: 5, Sort: "helpful"}, 0, paging.Cursor{})
	require.NoError(t, err)

	items, err := p.CollectAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestReviews_InvalidFilter(t *testing.T) {
	c := New(nil)

	_, err := c.Reviews("123", ReviewFilter{Rating: 9}, 0, paging.Cursor{})
	assert.Equal(t, apierr.KindUsage, apierr.KindOf(err))

	_, err = c.Reviews("123", ReviewFilter{Sort: "oldest"}, 0, paging.Cursor{})
	assert.Equal(t, apierr.KindUsage, apierr.KindOf(err))
}

func TestRespondReview(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/customerReviewResponses", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"data":{"type":"customerReviewResponses","attributes":{"responseBody":"Thanks!"},
			"relationships":{"review":{"data":{"type":"customerReviews","id":"rev-1"}}}}}`, string(body))

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"type":"customerReviewResponses","id":"resp-1"}}`)
	})

	res, err := c.RespondReview(t.Context(), "rev-1", "Thanks!")
	require.NoError(t, err)
	assert.Equal(t, "resp-1", res.ID)
}

func TestApp_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":[{"status":"404","code":"NOT_FOUND","title":"not found","detail":"no app 9"}]}`)
	})

	_, err := c.App(t.Context(), "9")
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
	assert.Equal(t, apierr.ExitRemote, apierr.ExitCode(err))
}

func TestApp_MissingData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"errors":[]}`)
	})

	_, err := c.App(t.Context(), "9")
	assert.Equal(t, apierr.KindProtocol, apierr.KindOf(err))
}

func TestCreateVersion_DefaultsPlatform(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"platform":"IOS"`)
		assert.Contains(t, string(body), `"versionString":"1.2.0"`)

		fmt.Fprint(w, `{"data":{"type":"appStoreVersions","id":"v1"}}`)
	})

	res, err := c.CreateVersion(t.Context(), "123", "1.2.0", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", res.ID)
}
