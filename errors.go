package figrnet

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies every failure the client can surface. The set is closed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidURL
	KindInvalidResponse
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindBadRequest
	KindServerError
	KindDecodingError
	KindNoConnection
	KindTimeout
	KindRateLimited
	KindMaintenance
	KindCircuitOpen
	KindHalfOpenLimitExceeded
)

var kindNames = map[Kind]string{
	KindUnknown:               "Unknown",
	KindInvalidURL:            "InvalidURL",
	KindInvalidResponse:       "InvalidResponse",
	KindUnauthorized:          "Unauthorized",
	KindForbidden:             "Forbidden",
	KindNotFound:              "NotFound",
	KindBadRequest:            "BadRequest",
	KindServerError:           "ServerError",
	KindDecodingError:         "DecodingError",
	KindNoConnection:          "NoConnection",
	KindTimeout:               "Timeout",
	KindRateLimited:           "RateLimited",
	KindMaintenance:           "Maintenance",
	KindCircuitOpen:           "CircuitOpen",
	KindHalfOpenLimitExceeded: "HalfOpenLimitExceeded",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Transient reports whether failures of this kind are retried locally.
func (k Kind) Transient() bool {
	switch k {
	case KindTimeout, KindNoConnection, KindServerError, KindRateLimited, KindMaintenance, KindUnknown:
		return true
	default:
		return false
	}
}

// Sentinel errors for errors.Is comparisons. Matching is by Kind only.
var (
	ErrInvalidURL            = &Error{Kind: KindInvalidURL, Message: "invalid URL"}
	ErrInvalidResponse       = &Error{Kind: KindInvalidResponse, Message: "invalid response"}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden             = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrBadRequest            = &Error{Kind: KindBadRequest, Message: "bad request"}
	ErrServerError           = &Error{Kind: KindServerError, Message: "server error"}
	ErrDecoding              = &Error{Kind: KindDecodingError, Message: "decoding failed"}
	ErrNoConnection          = &Error{Kind: KindNoConnection, Message: "no connection"}
	ErrTimeout               = &Error{Kind: KindTimeout, Message: "timeout"}
	ErrRateLimited           = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrMaintenance           = &Error{Kind: KindMaintenance, Message: "service under maintenance"}
	ErrCircuitOpen           = &Error{Kind: KindCircuitOpen, Message: "circuit open"}
	ErrHalfOpenLimitExceeded = &Error{Kind: KindHalfOpenLimitExceeded, Message: "probe limit exceeded"}
	ErrUnknown               = &Error{Kind: KindUnknown, Message: "unknown error"}
)

// Error is the single error type returned by the client.
type Error struct {
	Kind       Kind
	Message    string
	Detail     string
	StatusCode int
	Endpoint   string
	RequestID  string
	Method     string
	URL        string
	Attempt    int
	RetryAfter time.Duration
	Timestamp  time.Time
	Duration   time.Duration
	Cause      error
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Kind: %s\n", e.Kind)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Detail != "" {
		info += fmt.Sprintf("Detail: %s\n", e.Detail)
	}
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d\n", e.Attempt)
	}
	if e.RetryAfter > 0 {
		info += fmt.Sprintf("Retry After: %v\n", e.RetryAfter)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// KindOf extracts the Kind of err. Non-client errors map to KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient determines if an error represents a transient failure that
// might succeed on retry. Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err).Transient()
}

// RetryAfter returns the server or breaker cool-down hint carried by err.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
