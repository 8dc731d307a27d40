package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	// Consume initial token
	require.NoError(t, l.Wait(ctx, "https://oauth.reddit.com/api/comment"))

	// 10 RPS means the next token arrives in ~100ms.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://oauth.reddit.com/api/submit"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCancel(t *testing.T) {
	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})

	require.NoError(t, l.Wait(context.Background(), "https://test.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://test.com"))
}

func TestLimiter_HostOverride(t *testing.T) {
	l := New(Config{
		DefaultRPS:   0.1,
		DefaultBurst: 1,
		Hosts:        map[string]Rule{"www.googleapis.com": {RPS: 0, Burst: 0}},
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "https://www.googleapis.com/customsearch/v1"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(Config{})
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background(), "not a url"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}
