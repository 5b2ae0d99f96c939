package figrnet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindTimeout, Message: "connection timeout"}

	expected := "Timeout: connection timeout"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}

	withContext := &Error{
		Kind:      KindServerError,
		Message:   "server error 502",
		Detail:    "E42: upstream down",
		Cause:     errors.New("bad gateway"),
		RequestID: "req-1",
		Attempt:   3,
	}
	expected = "[req-1] ServerError: server error 502: E42: upstream down (bad gateway) (attempt 3)"
	if withContext.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, withContext.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("original error")
	err := &Error{Kind: KindUnknown, Message: "test message", Cause: cause}

	if err.Unwrap() != cause {
		t.Errorf("Expected unwrapped error to be %v, got %v", cause, err.Unwrap())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}

	var nilErr *Error
	if nilErr.Unwrap() != nil {
		t.Error("Expected nil unwrap on nil error")
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := &Error{Kind: KindNotFound, Message: "item 7 missing", StatusCode: 404}

	if !errors.Is(err, ErrNotFound) {
		t.Error("Expected error to match ErrNotFound")
	}
	if errors.Is(err, ErrBadRequest) {
		t.Error("Expected error not to match ErrBadRequest")
	}

	wrapped := fmt.Errorf("loading items: %w", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("Expected wrapped error to match ErrNotFound")
	}
}

func TestKindTransient(t *testing.T) {
	transient := []Kind{KindTimeout, KindNoConnection, KindServerError, KindRateLimited, KindMaintenance, KindUnknown}
	permanent := []Kind{KindInvalidURL, KindInvalidResponse, KindUnauthorized, KindForbidden, KindNotFound,
		KindBadRequest, KindDecodingError, KindCircuitOpen, KindHalfOpenLimitExceeded}

	for _, k := range transient {
		if !k.Transient() {
			t.Errorf("Expected %s to be transient", k)
		}
	}
	for _, k := range permanent {
		if k.Transient() {
			t.Errorf("Expected %s not to be transient", k)
		}
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(&Error{Kind: KindTimeout}))
	assert.True(t, IsTransient(errors.New("plain")), "unclassified errors are unknown and transient")
	assert.False(t, IsTransient(&Error{Kind: KindForbidden}))
	assert.False(t, IsTransient(&Error{Kind: KindUnknown, Cause: context.Canceled}), "cancellation is never retried")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindOf(&Error{Kind: KindRateLimited}))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindDecodingError, KindOf(fmt.Errorf("wrap: %w", ErrDecoding)))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "HalfOpenLimitExceeded", KindHalfOpenLimitExceeded.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}

func TestRetryAfterHint(t *testing.T) {
	d, ok := RetryAfter(&Error{Kind: KindRateLimited, RetryAfter: 3 * time.Second})
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = RetryAfter(&Error{Kind: KindRateLimited})
	assert.False(t, ok)
	_, ok = RetryAfter(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorDebugInfo(t *testing.T) {
	err := &Error{
		Kind:       KindServerError,
		Message:    "server error 500",
		RequestID:  "req-123",
		Method:     "GET",
		URL:        "https://api.example.com/items",
		Endpoint:   "GET /items",
		StatusCode: 500,
		Attempt:    2,
		RetryAfter: time.Second,
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:   150 * time.Millisecond,
		Cause:      errors.New("boom"),
	}

	info := err.DebugInfo()
	for _, want := range []string{
		"Error Kind: ServerError",
		"Request ID: req-123",
		"Method: GET",
		"URL: https://api.example.com/items",
		"Endpoint: GET /items",
		"Status Code: 500",
		"Attempt: 2",
		"Retry After: 1s",
		"Timestamp: 2024-01-02T03:04:05Z",
		"Duration: 150ms",
		"Cause: boom",
	} {
		if !strings.Contains(info, want) {
			t.Errorf("Expected DebugInfo to contain %q, got:\n%s", want, info)
		}
	}

	var nilErr *Error
	if nilErr.DebugInfo() != "Error: <nil>" {
		t.Errorf("Expected nil DebugInfo, got %q", nilErr.DebugInfo())
	}
}
