// Package paging turns a "fetch one page" operation into a lazy,
// non-restartable item sequence and hides the providers' two pagination
// conventions behind one opaque Cursor.
package paging

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fbonesso/storeops/internal/apierr"
)

// Cursor is an opaque continuation token. Callers pass it back verbatim.
// The zero Cursor means "start" when passed to a fetch and "no more pages"
// when returned in Page.Next.
type Cursor struct {
	value string
	user  bool // decoded from --next rather than read from a response
}

// IsZero reports whether c is the empty cursor.
func (c Cursor) IsZero() bool {
	return c.value == ""
}

// Encode returns a printable form suitable for --next.
func (c Cursor) Encode() string {
	if c.value == "" {
		return ""
	}

	return base64.RawURLEncoding.EncodeToString([]byte(c.value))
}

// DecodeCursor parses the output of Encode. The empty string is the start
// cursor.
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return Cursor{}, apierr.New(apierr.KindUsage, "invalid page cursor %q", s)
	}

	return Cursor{value: string(raw), user: true}, nil
}

// Page is one fetched page. A zero Next is the only termination signal.
type Page[T any] struct {
	Items []T
	Next  Cursor
}

// RawPage is a fetched page whose items have not been decoded yet.
type RawPage struct {
	Body []byte
	Next Cursor
}

// Convention extracts the next cursor from a response body and applies a
// cursor to the next request.
type Convention interface {
	// NextCursor reads the continuation from a page body.
	NextCursor(body []byte) Cursor
	// Apply returns the path and query for fetching the page at c, given
	// the client base URL and the path and query of the first page.
	Apply(c Cursor, base, path string, query url.Values) (string, url.Values, error)
}

// LinkCursor is the JSON:API convention: the response carries a full
// links.next URL that already encodes the cursor parameter. The whole URL is
// stored as the cursor and requested verbatim, but only when it points at the
// same scheme, host and path as the first page under base. A bare token (for
// example one typed by a user) is sent as query parameter Param instead.
type LinkCursor struct {
	Param string // e.g. "cursor"
}

// NextCursor implements Convention.
func (l LinkCursor) NextCursor(body []byte) Cursor {
	return Cursor{value: gjson.GetBytes(body, "links.next").String()}
}

// Apply implements Convention.
func (l LinkCursor) Apply(c Cursor, base, path string, query url.Values) (string, url.Values, error) {
	if c.IsZero() {
		return path, query, nil
	}

	if strings.HasPrefix(c.value, "https://") || strings.HasPrefix(c.value, "http://") {
		if err := checkLink(c, base, path); err != nil {
			return "", nil, err
		}

		return c.value, nil, nil
	}

	return path, withParam(query, l.Param, c.value), nil
}

// checkLink rejects a link cursor that leaves the first page's endpoint.
// A foreign link typed by the user is a usage error; one sent by the
// provider is a protocol error.
func checkLink(c Cursor, base, path string) error {
	kind, origin := apierr.KindProtocol, "provider returned"
	if c.user {
		kind, origin = apierr.KindUsage, "--next holds"
	}

	link, err := url.Parse(c.value)
	if err != nil {
		return apierr.Wrap(kind, err, "%s an unparseable page link", origin)
	}

	if base == "" {
		return apierr.New(kind, "%s a page link %s but the endpoint base is unknown", origin, link.Redacted())
	}

	b, err := url.Parse(base)
	if err != nil {
		return apierr.Wrap(apierr.KindConfig, err, "invalid base URL %q", base)
	}

	want := strings.TrimSuffix(b.Path, "/") + "/" + strings.TrimPrefix(path, "/")

	switch {
	case !strings.EqualFold(link.Scheme, b.Scheme) || !strings.EqualFold(link.Host, b.Host):
		return apierr.New(kind, "%s a page link to %s://%s, expected %s://%s",
			origin, link.Scheme, link.Host, b.Scheme, b.Host)
	case link.User != nil:
		return apierr.New(kind, "%s a page link with credentials", origin)
	case link.Path != want:
		return apierr.New(kind, "%s a page link for %s, expected %s", origin, link.Path, want)
	}

	return nil
}

// TokenCursor is the page-token convention: the body carries a token at
// Field (a gjson path) that is sent back as query parameter Param.
type TokenCursor struct {
	Param string // e.g. "token" or "pageToken"
	Field string // e.g. "nextPageToken" or "tokenPagination.nextPageToken"
}

// NextCursor implements Convention.
func (t TokenCursor) NextCursor(body []byte) Cursor {
	return Cursor{value: gjson.GetBytes(body, t.Field).String()}
}

// Apply implements Convention.
func (t TokenCursor) Apply(c Cursor, _, path string, query url.Values) (string, url.Values, error) {
	if c.IsZero() {
		return path, query, nil
	}

	return path, withParam(query, t.Param, c.value), nil
}

// withParam copies query and sets key to value.
func withParam(query url.Values, key, value string) url.Values {
	next := make(url.Values, len(query)+1)
	for k, vs := range query {
		next[k] = append([]string(nil), vs...)
	}

	next.Set(key, value)

	return next
}

// Explicit builds a cursor from a raw provider value, for fetch functions
// that parse continuations themselves.
func Explicit(value string) Cursor {
	return Cursor{value: value}
}
