package rediscache

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestOpenRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.ErrorContains(t, err, "redis.addr is required")
}

func TestNewDefaultsPrefix(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	c := New(client, 0, "")
	require.Equal(t, "harvester:", c.prefix)
	require.NoError(t, c.Close(), "borrowed clients are left open")
	require.Panics(t, func() { New(nil, 0, "") })
}
