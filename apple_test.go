package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/appstore"
)

// newAppleServer serves two pages of apps linked by links.next, a 404 for
// app "missing", and a 401 for app "denied".
func newAppleServer(t *testing.T) *httptest.Server {
	t.Helper()

	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case r.URL.Path == "/apps" && r.URL.Query().Get("cursor") == "":
			fmt.Fprintf(w, `{"data":[{"type":"apps","id":"1"}],"links":{"next":"%s/apps?cursor=p2&limit=1"}}`, srv.URL)
		case r.URL.Path == "/apps":
			fmt.Fprint(w, `{"data":[{"type":"apps","id":"2"}],"links":{}}`)
		case r.URL.Path == "/apps/missing":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errors":[{"status":"404","code":"NOT_FOUND","title":"not found","detail":"no such app"}]}`)
		case r.URL.Path == "/apps/denied":
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"errors":[{"status":"401","code":"NOT_AUTHORIZED","title":"unauthorized"}]}`)
		case r.URL.Path == "/apps/1":
			fmt.Fprint(w, `{"data":{"type":"apps","id":"1","attributes":{"name":"One"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestAppleAppsList_FirstPageWithCursor(t *testing.T) {
	env := newCLIEnv(t)
	env.loginApple(t)
	srv := newAppleServer(t)

	res := env.run(t, "-q", "--appstore-url", srv.URL, "--limit", "1", "apple", "apps", "list")
	require.Equal(t, apierr.ExitOK, res.code, res.stderr)

	var out listResult[appstore.Resource]
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "1", out.Data[0].ID)
	require.NotEmpty(t, out.Next)

	// The printed cursor resumes at page two.
	res = env.run(t, "-q", "--appstore-url", srv.URL, "--next", out.Next, "apple", "apps", "list")
	require.Equal(t, apierr.ExitOK, res.code, res.stderr)

	out = listResult[appstore.Resource]{}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "2", out.Data[0].ID)
	assert.Empty(t, out.Next)
}

func TestAppleAppsList_Paginate(t *testing.T) {
	env := newCLIEnv(t)
	env.loginApple(t)
	srv := newAppleServer(t)

	res := env.run(t, "-q", "--appstore-url", srv.URL, "--paginate", "apple", "apps", "list")
	require.Equal(t, apierr.ExitOK, res.code, res.stderr)

	var out listResult[appstore.Resource]
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Data, 2)
	assert.Equal(t, "1", out.Data[0].ID)
	assert.Equal(t, "2", out.Data[1].ID)
	assert.Empty(t, out.Next)
}

func TestAppleAppsInfo(t *testing.T) {
	env := newCLIEnv(t)
	env.loginApple(t)
	srv := newAppleServer(t)

	res := env.run(t, "-q", "--appstore-url", srv.URL, "apple", "apps", "info", "1")
	require.Equal(t, apierr.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"name":"One"`)
}

func TestAppleAppsInfo_ExitCodes(t *testing.T) {
	env := newCLIEnv(t)
	env.loginApple(t)
	srv := newAppleServer(t)

	tests := []struct {
		id   string
		code int
		kind string
	}{
		{"missing", apierr.ExitRemote, "not_found"},
		{"denied", apierr.ExitAuth, "auth_error"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			res := env.run(t, "-q", "--appstore-url", srv.URL, "apple", "apps", "info", tt.id)

			assert.Equal(t, tt.code, res.code)

			detail := res.lastErrorLine(t)
			assert.Equal(t, tt.kind, detail.Kind)
			assert.Equal(t, 1, detail.Attempts)
		})
	}
}

func TestAppleReviewsList_RejectsBadRating(t *testing.T) {
	env := newCLIEnv(t)
	env.loginApple(t)
	srv := newAppleServer(t)

	res := env.run(t, "-q", "--appstore-url", srv.URL, "apple", "reviews", "list", "1", "--rating", "9")

	assert.Equal(t, apierr.ExitUser, res.code)
	assert.Equal(t, "usage_error", res.lastErrorLine(t).Kind)
}

func TestAppleCommands_RefuseGoogleProfile(t *testing.T) {
	env := newCLIEnv(t)
	env.loginGoogle(t, "http://127.0.0.1:1/token")

	res := env.run(t, "apple", "apps", "list")

	assert.Equal(t, apierr.ExitUser, res.code)
	assert.Equal(t, "config_error", res.lastErrorLine(t).Kind)
}
