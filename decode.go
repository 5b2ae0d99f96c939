package figrnet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Timestamp accepts the backend's epoch-seconds, epoch-milliseconds or
// RFC 3339 timestamp forms.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	switch r.Type {
	case gjson.Null:
		t.Time = time.Time{}
		return nil
	case gjson.Number:
		t.Time = epochTime(r.Int())
		return nil
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = epochTime(n)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	return fmt.Errorf("unsupported timestamp %s", r.Raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// epochTime treats values past year 2286 in seconds as milliseconds.
func epochTime(n int64) time.Time {
	if n > 1e10 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// Envelope is the wrapped success shape {message, data, status, timestamp}.
type Envelope[T any] struct {
	Message   string    `json:"message"`
	Data      *T        `json:"data"`
	Status    int       `json:"status,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// ErrorEnvelope is the backend error shape {message, code, timestamp, details}.
type ErrorEnvelope struct {
	Message   string            `json:"message"`
	Code      string            `json:"code"`
	Timestamp Timestamp         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

func isEnvelope(r gjson.Result) bool {
	return r.IsObject() && r.Get("data").Exists() && r.Get("message").Exists()
}

func isErrorEnvelope(r gjson.Result) bool {
	return r.IsObject() && !r.Get("data").Exists() && r.Get("message").Exists() && r.Get("code").Exists()
}

// parseErrorEnvelope extracts the error envelope from body, if it is one.
// code may be a string or a number on the wire.
func parseErrorEnvelope(body []byte) (ErrorEnvelope, bool) {
	if !gjson.ValidBytes(body) {
		return ErrorEnvelope{}, false
	}
	r := gjson.ParseBytes(body)
	if !isErrorEnvelope(r) {
		return ErrorEnvelope{}, false
	}
	env := ErrorEnvelope{
		Message: r.Get("message").String(),
		Code:    r.Get("code").String(),
	}
	if ts := r.Get("timestamp"); ts.Exists() {
		_ = env.Timestamp.UnmarshalJSON([]byte(ts.Raw))
	}
	if d := r.Get("details"); d.IsObject() {
		env.Details = make(map[string]string)
		d.ForEach(func(k, v gjson.Result) bool {
			env.Details[k.String()] = v.String()
			return true
		})
	}
	return env, true
}

// errorDetail summarises an error body for Error.Detail.
func errorDetail(body []byte) string {
	if env, ok := parseErrorEnvelope(body); ok {
		if env.Code != "" {
			return env.Code + ": " + env.Message
		}
		return env.Message
	}
	if gjson.ValidBytes(body) {
		if m := gjson.GetBytes(body, "message"); m.Type == gjson.String {
			return m.Str
		}
	}
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// Decode turns a response body into T. Raw targets ([]byte, string,
// json.RawMessage) receive the body untouched. Otherwise it tries, in order:
// a strict direct decode (skipped for map and interface targets), the
// wrapped envelope, the error envelope and a lenient direct decode.
func Decode[T any](body []byte) (T, error) {
	var v T
	switch p := any(&v).(type) {
	case *[]byte:
		*p = append([]byte(nil), body...)
		return v, nil
	case *json.RawMessage:
		*p = append(json.RawMessage(nil), body...)
		return v, nil
	case *string:
		*p = string(body)
		return v, nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return v, nil
	}
	if !gjson.ValidBytes(body) {
		return v, &Error{Kind: KindDecodingError, Message: "response is not valid JSON", Detail: errorDetail(body)}
	}

	root := gjson.ParseBytes(body)
	if !acceptsAnyObject[T]() {
		if err := strictUnmarshal(body, &v); err == nil {
			return v, nil
		}
		v = *new(T)
	}

	if isEnvelope(root) {
		var env Envelope[T]
		if err := json.Unmarshal(body, &env); err != nil {
			return v, newError(KindDecodingError, "decode envelope", err)
		}
		if env.Data != nil {
			return *env.Data, nil
		}
		var zero T
		return zero, nil
	}

	if env, ok := parseErrorEnvelope(body); ok {
		return v, &Error{
			Kind:    KindInvalidResponse,
			Message: "server returned an error envelope",
			Detail:  errorDetail(body),
			Cause:   &envelopeError{env: env},
		}
	}

	var lenient T
	if err := json.Unmarshal(body, &lenient); err != nil {
		return v, newError(KindDecodingError, "decode response", err)
	}
	return lenient, nil
}

// acceptsAnyObject reports whether T is a map or interface type, possibly
// behind pointers. Those decode any object strictly, so the envelope is
// checked before them.
func acceptsAnyObject[T any]() bool {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Map || t.Kind() == reflect.Interface
}

func strictUnmarshal(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// envelopeError carries a decoded ErrorEnvelope through Error.Cause.
type envelopeError struct {
	env ErrorEnvelope
}

func (e *envelopeError) Error() string {
	if e.env.Code == "" {
		return e.env.Message
	}
	return e.env.Code + ": " + e.env.Message
}

// ErrorEnvelopeOf returns the backend error envelope carried by err.
func ErrorEnvelopeOf(err error) (ErrorEnvelope, bool) {
	var ee *envelopeError
	if errors.As(err, &ee) {
		return ee.env, true
	}
	return ErrorEnvelope{}, false
}
