// Package apierr defines the error taxonomy shared by every layer of the
// provider execution engine and its mapping onto process exit codes.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure. The set is closed; every error that leaves the
// engine carries exactly one Kind.
type Kind int

// Error kinds. KindUnknown is reserved for errors that never passed through
// the engine (for example a bare I/O error in the CLI layer).
const (
	KindUnknown Kind = iota
	KindConfig
	KindUsage
	KindAuth
	KindValidation
	KindNotFound
	KindRateLimited
	KindServer
	KindNetwork
	KindProtocol
	KindTransaction
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindConfig:      "config_error",
	KindUsage:       "usage_error",
	KindAuth:        "auth_error",
	KindValidation:  "validation_error",
	KindNotFound:    "not_found",
	KindRateLimited: "rate_limited",
	KindServer:      "server_error",
	KindNetwork:     "network_error",
	KindProtocol:    "protocol_error",
	KindTransaction: "transaction_error",
	KindCanceled:    "canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors, one per kind. Use errors.Is(err, apierr.ErrNotFound).
var (
	ErrConfig      = errors.New("configuration error")
	ErrUsage       = errors.New("usage error")
	ErrAuth        = errors.New("authentication failed")
	ErrValidation  = errors.New("request rejected")
	ErrNotFound    = errors.New("resource not found")
	ErrRateLimited = errors.New("rate limited")
	ErrServer      = errors.New("server error")
	ErrNetwork     = errors.New("network error")
	ErrProtocol    = errors.New("provider protocol violation")
	ErrTransaction = errors.New("edit session failed")
	ErrCanceled    = errors.New("canceled")
)

var sentinels = map[Kind]error{
	KindConfig:      ErrConfig,
	KindUsage:       ErrUsage,
	KindAuth:        ErrAuth,
	KindValidation:  ErrValidation,
	KindNotFound:    ErrNotFound,
	KindRateLimited: ErrRateLimited,
	KindServer:      ErrServer,
	KindNetwork:     ErrNetwork,
	KindProtocol:    ErrProtocol,
	KindTransaction: ErrTransaction,
	KindCanceled:    ErrCanceled,
}

// Sentinel returns the sentinel error for k, or nil for KindUnknown.
func Sentinel(k Kind) error {
	return sentinels[k]
}

// FieldError is one field-level complaint from a provider's structured error
// body, preserved verbatim.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Error is the typed failure returned by the engine. It wraps the sentinel
// for its Kind (for errors.Is) and an optional underlying cause.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	RequestID  string
	Message    string
	Fields     []FieldError
	RetryAfter time.Duration
	Attempts   int
	Cause      error
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "HTTP %d: ", e.StatusCode)
	}

	msg := e.Message
	if msg == "" {
		if s := sentinels[e.Kind]; s != nil {
			msg = s.Error()
		} else {
			msg = e.Kind.String()
		}
	}

	b.WriteString(msg)

	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request-id: %s)", e.RequestID)
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := sentinels[e.Kind]; s != nil {
		errs = append(errs, s)
	}

	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}

	return errs
}

// KindOf returns the Kind of the first *Error found in err's chain.
// errors.As walks joined errors in order, so a cleanup failure joined after
// the primary error never changes the classification.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// Retryable reports whether failures of kind k may be retried by the
// execution core.
func Retryable(k Kind) bool {
	switch k {
	case KindRateLimited, KindServer, KindNetwork:
		return true
	default:
		return false
	}
}

// FromContext classifies a context error. An expired deadline is a timeout
// and maps to KindNetwork; explicit cancellation maps to KindCanceled.
func FromContext(err error, format string, args ...any) *Error {
	kind := KindCanceled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindNetwork
	}

	return Wrap(kind, err, format, args...)
}
