package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fbonesso/storeops/internal/apierr"
)

// Request describes one logical call. Path is either relative to the
// client's base URL or an absolute URL, which is used verbatim (provider
// "next" links).
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string // defaults to application/json when Body is set
	Header      http.Header
	Timeout     time.Duration // zero = client default
	Idempotent  bool          // allows retrying POST/PATCH
}

// idempotentMethods may be retried without the caller opting in.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// retryable reports whether the request's side effects may be repeated.
func (r *Request) retryable() bool {
	return r.Idempotent || idempotentMethods[r.Method]
}

// JSONRequest builds a request whose body is v encoded as JSON.
func JSONRequest(method, path string, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, apierr.Wrap(apierr.KindUsage, err, "api: encoding %s %s body", method, path)
	}

	return Request{Method: method, Path: path, Body: body, ContentType: "application/json"}, nil
}

// Response is a successful (2xx) outcome with the fully read body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}

	if err := json.Unmarshal(r.Body, v); err != nil {
		return apierr.Wrap(apierr.KindProtocol, err, "api: decoding response body")
	}

	return nil
}

// Get extracts a value from the JSON body by gjson path.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

func (r *Response) String() string {
	return fmt.Sprintf("HTTP %d (%d bytes, %d attempts)", r.StatusCode, len(r.Body), r.Attempts)
}
