package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterUnlimitedNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://findecnu.libsp.cn/find/unify/search"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://findecnu.libsp.cn/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://findecnu.libsp.cn/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// A different host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://findpku.libsp.cn/a"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://findecnu.libsp.cn"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://findecnu.libsp.cn")
	require.ErrorContains(t, err, "rate limit wait")
}
