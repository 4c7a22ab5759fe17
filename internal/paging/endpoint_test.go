package paging

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbonesso/storeops/internal/api"
	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/auth"
)

type app struct {
	ID string `json:"id"`
}

func testClient(url string) *api.Client {
	authn := auth.TokenSourceFunc(func(context.Context) (auth.Token, error) {
		return auth.Token{Value: "t", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	return api.NewClient("test", url, authn)
}

func TestFromEndpoint_LinkConvention(t *testing.T) {
	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprintf(w, `{"data":[{"id":"a"},{"id":"b"}],"links":{"next":"%s/apps?limit=2&cursor=c1"}}`, srv.URL)
		case "c1":
			fmt.Fprint(w, `{"data":[{"id":"c"}],"links":{}}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	req := api.Request{Method: http.MethodGet, Path: "/apps", Query: map[string][]string{"limit": {"2"}}}
	p := FromEndpoint(testClient(srv.URL), req, LinkCursor{Param: "cursor"}, DecodeField[app]("data"), Cursor{})

	items, err := p.CollectAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []app{{"a"}, {"b"}, {"c"}}, items)
}

func TestFromEndpoint_TokenConvention(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			fmt.Fprint(w, `{"reviews":[{"id":"r1"}],"nextPageToken":"p2"}`)
		default:
			fmt.Fprint(w, `{"reviews":[{"id":"r2"}]}`)
		}
	}))
	defer srv.Close()

	req := api.Request{Method: http.MethodGet, Path: "/reviews"}
	conv := TokenCursor{Param: "pageToken", Field: "nextPageToken"}
	p := FromEndpoint(testClient(srv.URL), req, conv, DecodeField[app]("reviews"), Cursor{})

	items, err := p.CollectAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []app{{"r1"}, {"r2"}}, items)
}

func TestDecodeField(t *testing.T) {
	items, err := DecodeField[app]("data")([]byte(`{"links":{}}`))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = DecodeField[app]("data")([]byte(`{"data":"nope"}`))
	assert.Equal(t, apierr.KindProtocol, apierr.KindOf(err))
}

func TestFromEndpoint_ForeignStartCursorNeverLeavesBase(t *testing.T) {
	var stolen atomic.Int32

	evil := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			stolen.Add(1)
		}
	}))
	defer evil.Close()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"data":[],"links":{}}`)
	}))
	defer srv.Close()

	req := api.Request{Method: http.MethodGet, Path: "/apps"}

	for name, link := range map[string]string{
		"foreign host":   evil.URL + "/steal",
		"other endpoint": srv.URL + "/builds?cursor=c1",
	} {
		t.Run(name, func(t *testing.T) {
			start, err := DecodeCursor(base64.RawURLEncoding.EncodeToString([]byte(link)))
			require.NoError(t, err)

			p := FromEndpoint(testClient(srv.URL), req, LinkCursor{Param: "cursor"}, DecodeField[app]("data"), start)

			_, err = p.CollectAll(t.Context())
			require.Error(t, err)
			assert.Equal(t, apierr.KindUsage, apierr.KindOf(err))
		})
	}

	assert.Equal(t, int32(0), stolen.Load(), "bearer token sent to a foreign host")
	assert.Equal(t, int32(0), calls.Load())
}

func TestFromEndpoint_ForeignNextLinkIsProtocolError(t *testing.T) {
	var stolen atomic.Int32

	evil := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			stolen.Add(1)
		}
	}))
	defer evil.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":[{"id":"a"}],"links":{"next":"%s/apps?cursor=c1"}}`, evil.URL)
	}))
	defer srv.Close()

	req := api.Request{Method: http.MethodGet, Path: "/apps"}
	p := FromEndpoint(testClient(srv.URL), req, LinkCursor{Param: "cursor"}, DecodeField[app]("data"), Cursor{})

	_, err := p.CollectAll(t.Context())
	require.Error(t, err)
	assert.Equal(t, apierr.KindProtocol, apierr.KindOf(err))
	assert.Equal(t, int32(0), stolen.Load())
}
