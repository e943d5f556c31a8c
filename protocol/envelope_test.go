package protocol

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWrapped(t *testing.T) {
	data, err := Encode(map[string]string{"to": "bob"}, map[string]string{"traceparent": "00-abc"}, map[string]any{"source": "api"})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)

	var pld map[string]string
	require.NoError(t, env.Decode(&pld))
	assert.Equal(t, map[string]string{"to": "bob"}, pld)
	assert.Equal(t, map[string]string{"traceparent": "00-abc"}, env.Headers)
	require.Contains(t, env.Meta, "source")
	assert.JSONEq(t, `"api"`, string(env.Meta["source"]))
}

func TestEncodeWithoutHeaders(t *testing.T) {
	data, err := Encode(map[string]int{"n": 1}, nil, map[string]any{"headers": "shadowed"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"payload":{"n":1}}`, string(data))
}

func TestDecodeBare(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "object without payload key", body: `{"a":"b","c":1}`, want: `{"a":"b","c":1}`},
		{name: "array", body: `[1,2,3]`, want: `[1,2,3]`},
		{name: "string", body: `"hello"`, want: `"hello"`},
		{name: "null payload", body: `{"payload":null,"x":1}`, want: `{"payload":null,"x":1}`},
	}

	for i := range tests {
		t.Run(tests[i].name, func(t *testing.T) {
			env, err := Decode([]byte(tests[i].body))
			require.NoError(t, err)
			assert.JSONEq(t, tests[i].want, string(env.Payload))
			assert.Nil(t, env.Headers)
			assert.Nil(t, env.Meta)
		})
	}
}

func TestDecodeKeepsMalformedHeadersAsMeta(t *testing.T) {
	env, err := Decode([]byte(`{"payload":{},"headers":[1,2]}`))
	require.NoError(t, err)
	assert.Nil(t, env.Headers)
	assert.JSONEq(t, `[1,2]`, string(env.Meta["headers"]))
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)

	_, err = Decode([]byte(`{"payload":`))
	assert.Error(t, err)
}

func TestLargePayloadRoundTrip(t *testing.T) {
	values := make(map[string]string, 10_000)
	for i := 0; i < 10_000; i++ {
		values[strconv.Itoa(i)+"-key"] = strconv.Itoa(i * 7)
	}

	data, err := Encode(values, nil, nil)
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)

	out := make(map[string]string)
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, values, out)
}
