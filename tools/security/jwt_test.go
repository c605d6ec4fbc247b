package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("unit-test-secret"))

	tok, exp, err := Generate(opts, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, time.Minute)

	claims, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UID)
	assert.Equal(t, "alice", claims.Subject)
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("unit-test-secret"))
	tok, _, err := Generate(opts, "alice")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := Verify(DefaultOptions([]byte("other")), tok)
		assert.Error(t, err)
	})
	t.Run("expired", func(t *testing.T) {
		short := opts
		short.TTL = time.Nanosecond
		expired, _, err := Generate(short, "alice")
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
		_, err = Verify(opts, expired)
		assert.Error(t, err)
	})
	t.Run("issuer mismatch", func(t *testing.T) {
		withIss := opts
		withIss.Issuer = "linkwave-auth"
		_, err := Verify(withIss, tok)
		assert.Error(t, err)
	})
	t.Run("unsupported alg", func(t *testing.T) {
		bad := opts
		bad.Alg = "RS256"
		_, err := Verify(bad, tok)
		assert.Error(t, err)
	})
}
