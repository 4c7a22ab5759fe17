// Package api is the execution core: it sends request descriptors through a
// bound authenticator with uniform retry, backoff, time budget, client-side
// rate limiting, and error classification for both providers.
package api

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/fbonesso/storeops/internal/apierr"
)

// maxMessageBytes bounds the raw body quoted in an error message when the
// body has no recognizable structure.
const maxMessageBytes = 512

// requestIDHeaders are checked in order for a provider request identifier.
var requestIDHeaders = []string{"X-Request-Id", "X-Apple-Request-Uuid", "X-Goog-Request-Id", "X-Guploader-Uploadid"}

// classifyStatus maps a non-2xx HTTP status to an error kind.
func classifyStatus(code int) apierr.Kind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return apierr.KindAuth
	case code == http.StatusTooManyRequests:
		return apierr.KindRateLimited
	case code == http.StatusRequestTimeout, code >= http.StatusInternalServerError:
		return apierr.KindServer
	case code == http.StatusNotFound:
		return apierr.KindNotFound
	default:
		return apierr.KindValidation
	}
}

// statusError builds the typed error for a non-2xx response.
func statusError(provider string, resp *http.Response, body []byte) *apierr.Error {
	msg, fields := parseErrorBody(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &apierr.Error{
		Kind:       classifyStatus(resp.StatusCode),
		Provider:   provider,
		StatusCode: resp.StatusCode,
		RequestID:  requestID(resp.Header),
		Message:    msg,
		Fields:     fields,
	}
}

func requestID(h http.Header) string {
	for _, name := range requestIDHeaders {
		if v := h.Get(name); v != "" {
			return v
		}
	}

	return ""
}

// parseErrorBody extracts a message and field-level detail from either
// provider's structured error body. Detail strings are kept verbatim.
//
// App Store Connect:
//
//	{"errors":[{"code":"…","title":"…","detail":"…","source":{"pointer":"/data/attributes/name"}}]}
//
// Google:
//
//	{"error":{"code":400,"message":"…","status":"INVALID_ARGUMENT",
//	  "details":[{"fieldViolations":[{"field":"…","description":"…"}]}]}}
func parseErrorBody(body []byte) (string, []apierr.FieldError) {
	if len(body) == 0 {
		return "", nil
	}

	if !gjson.ValidBytes(body) {
		return truncate(strings.TrimSpace(string(body)), maxMessageBytes), nil
	}

	root := gjson.ParseBytes(body)

	if errs := root.Get("errors"); errs.IsArray() {
		return parseAppStoreErrors(errs)
	}

	if e := root.Get("error"); e.IsObject() {
		return parseGoogleError(e)
	}

	// OAuth-style {"error":"invalid_grant","error_description":"…"}.
	if e := root.Get("error"); e.Type == gjson.String {
		return firstNonEmpty(root.Get("error_description").String(), e.String()), nil
	}

	return truncate(root.Raw, maxMessageBytes), nil
}

func parseAppStoreErrors(errs gjson.Result) (string, []apierr.FieldError) {
	var (
		fields []apierr.FieldError
		msgs   []string
	)

	errs.ForEach(func(_, e gjson.Result) bool {
		detail := firstNonEmpty(e.Get("detail").String(), e.Get("title").String())
		msgs = append(msgs, detail)
		fields = append(fields, apierr.FieldError{
			Field:   firstNonEmpty(e.Get("source.pointer").String(), e.Get("source.parameter").String()),
			Code:    e.Get("code").String(),
			Message: detail,
		})

		return true
	})

	return strings.Join(msgs, "; "), fields
}

func parseGoogleError(e gjson.Result) (string, []apierr.FieldError) {
	var fields []apierr.FieldError

	e.Get("details.#.fieldViolations|@flatten").ForEach(func(_, v gjson.Result) bool {
		fields = append(fields, apierr.FieldError{
			Field:   v.Get("field").String(),
			Message: v.Get("description").String(),
		})

		return true
	})

	if len(fields) == 0 {
		e.Get("errors").ForEach(func(_, v gjson.Result) bool {
			fields = append(fields, apierr.FieldError{
				Field:   v.Get("location").String(),
				Code:    v.Get("reason").String(),
				Message: v.Get("message").String(),
			})

			return true
		})
	}

	return e.Get("message").String(), fields
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + "…"
}
