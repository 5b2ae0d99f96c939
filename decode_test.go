package figrnet

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestDecodeDirect(t *testing.T) {
	v, err := Decode[item]([]byte(`{"id":1,"name":"pen"}`))
	require.NoError(t, err)
	assert.Equal(t, item{ID: 1, Name: "pen"}, v)

	list, err := Decode[[]item]([]byte(`[{"id":1},{"id":2}]`))
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDecodeEnvelope(t *testing.T) {
	body := []byte(`{"message":"ok","data":{"id":7,"name":"cup"},"status":200,"timestamp":1700000000}`)

	v, err := Decode[item](body)
	require.NoError(t, err)
	assert.Equal(t, item{ID: 7, Name: "cup"}, v)

	env, err := Decode[Envelope[item]](body)
	require.NoError(t, err)
	assert.Equal(t, "ok", env.Message)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), env.Timestamp.Time)
}

func TestDecodeDirectWinsForMatchingShape(t *testing.T) {
	type page struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	v, err := Decode[page]([]byte(`{"message":"ok","data":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", v.Message)
	assert.JSONEq(t, `[1,2]`, string(v.Data))

	var anyV any
	anyV, err = Decode[any]([]byte(`{"message":"ok","data":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, anyV)
}

func TestDecodeEnvelopeIntoMap(t *testing.T) {
	v, err := Decode[map[string]any]([]byte(`{"message":"ok","data":{"a":1},"timestamp":"2024-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)
}

func TestDecodeEnvelopeNullData(t *testing.T) {
	v, err := Decode[*item]([]byte(`{"message":"deleted","data":null,"timestamp":"1700000000"}`))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDecodeErrorEnvelope(t *testing.T) {
	body := []byte(`{"message":"quota exceeded","code":4021,"timestamp":1700000000000,"details":{"limit":"10"}}`)

	_, err := Decode[item](body)
	require.Error(t, err)
	assert.Equal(t, KindInvalidResponse, KindOf(err))

	env, ok := ErrorEnvelopeOf(err)
	require.True(t, ok)
	assert.Equal(t, "4021", env.Code)
	assert.Equal(t, "quota exceeded", env.Message)
	assert.Equal(t, "10", env.Details["limit"])
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), env.Timestamp.Time)
}

func TestDecodeLenientFallback(t *testing.T) {
	v, err := Decode[item]([]byte(`{"id":3,"name":"box","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, item{ID: 3, Name: "box"}, v)
}

func TestDecodeFailures(t *testing.T) {
	_, err := Decode[item]([]byte(`<html>oops</html>`))
	assert.Equal(t, KindDecodingError, KindOf(err))

	_, err = Decode[item]([]byte(`{"id":"not-a-number"}`))
	assert.Equal(t, KindDecodingError, KindOf(err))

	_, err = Decode[item]([]byte(`{"message":"ok","data":{"id":"x"}}`))
	assert.Equal(t, KindDecodingError, KindOf(err))
}

func TestDecodeRawTargets(t *testing.T) {
	body := []byte(`{"message":"ok","data":1}`)

	raw, err := Decode[[]byte](body)
	require.NoError(t, err)
	assert.Equal(t, body, raw)

	s, err := Decode[string](body)
	require.NoError(t, err)
	assert.Equal(t, string(body), s)

	rm, err := Decode[json.RawMessage](body)
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(rm))
}

func TestDecodeEmptyBody(t *testing.T) {
	v, err := Decode[item](nil)
	require.NoError(t, err)
	assert.Equal(t, item{}, v)
}

func TestErrorDetail(t *testing.T) {
	assert.Equal(t, "E1: bad input", errorDetail([]byte(`{"message":"bad input","code":"E1"}`)))
	assert.Equal(t, "nope", errorDetail([]byte(`{"message":"nope"}`)))
	assert.Equal(t, "plain text", errorDetail([]byte("  plain text \n")))
}

func TestTimestampMarshalRoundTrip(t *testing.T) {
	ts := Timestamp{Time: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)}
	b, err := json.Marshal(ts)
	require.NoError(t, err)

	var back Timestamp
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, ts.Equal(back.Time))

	b, err = json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
