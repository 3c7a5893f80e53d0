package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_WaitPacesSameHost(t *testing.T) {
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://img.example.com/a.png"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://img.example.com/b.png"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/x"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/x"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example.com/")
	require.Error(t, err)
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "https://fast.example.com/"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "example.com", hostOf("https://example.com:8443/path"))
	assert.Equal(t, "unknown", hostOf("not a url"))
	assert.Equal(t, "unknown", hostOf("http://%"))
}
