package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendPayload struct {
	Body    string         `json:"body"`
	TTLDays int            `json:"ttlDays"`
	Meta    map[string]any `json:"meta"`
}

func TestDecodeMap(t *testing.T) {
	out, err := DecodeMap[sendPayload](map[string]any{
		"body":    "hello",
		"ttlDays": float64(3),
		"meta":    `{"k":"v"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Body)
	assert.Equal(t, 3, out.TTLDays)
	assert.Equal(t, "v", out.Meta["k"])
}

func TestDecodeMapNil(t *testing.T) {
	out, err := DecodeMap[sendPayload](nil)
	require.NoError(t, err)
	assert.Empty(t, out.Body)
}

func TestDecodeMapRejects(t *testing.T) {
	t.Run("number for string", func(t *testing.T) {
		_, err := DecodeMap[sendPayload](map[string]any{"body": float64(12)})
		assert.Error(t, err)
	})
	t.Run("fractional int", func(t *testing.T) {
		_, err := DecodeMap[sendPayload](map[string]any{"ttlDays": 1.5})
		assert.Error(t, err)
	})
	t.Run("weak typing on request", func(t *testing.T) {
		out, err := DecodeMap[sendPayload](map[string]any{"body": float64(12)}, Options{WeaklyTypedInput: true})
		require.NoError(t, err)
		assert.Equal(t, "12", out.Body)
	})
}

func TestReadString(t *testing.T) {
	m := map[string]any{"a": "x", "b": 1}
	v, err := ReadString(m, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	_, err = ReadString(m, "b")
	assert.Error(t, err)
	_, err = ReadString(m, "c")
	assert.Error(t, err)
}
