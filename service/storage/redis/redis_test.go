package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := Open(context.Background(), Config{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	defer rdb.Close()

	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	v, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestOpenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), Config{Addrs: []string{addr}})
	assert.Error(t, err)
}

func TestConfigNorm(t *testing.T) {
	var c Config
	c.norm()
	assert.Equal(t, []string{"127.0.0.1:6379"}, c.Addrs)
	assert.Equal(t, 50, c.PoolSize)
}
