package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestSixthCallInWindowIsDenied(t *testing.T) {
	server, client := newRedis(t)
	limiter := New(client)
	ctx := context.Background()

	for i := 0; i < DefaultLimit; i++ {
		assert.Equal(t, Allowed, limiter.Admit(ctx, "10.0.0.1"), "call %d", i+1)
	}
	assert.Equal(t, Denied, limiter.Admit(ctx, "10.0.0.1"))

	ttl := server.TTL(DefaultKeyPrefix + "10.0.0.1")
	assert.Equal(t, DefaultWindow, ttl)

	// other clients have their own counters
	assert.Equal(t, Allowed, limiter.Admit(ctx, "10.0.0.2"))
}

func TestWindowExpiryReadmits(t *testing.T) {
	server, client := newRedis(t)
	limiter := New(client)
	ctx := context.Background()

	for i := 0; i < DefaultLimit+1; i++ {
		limiter.Admit(ctx, "client")
	}
	require.Equal(t, Denied, limiter.Admit(ctx, "client"))

	server.FastForward(61 * time.Second)
	assert.Equal(t, Allowed, limiter.Admit(ctx, "client"))
}

func TestExpirySetOnlyOnFirstHit(t *testing.T) {
	server, client := newRedis(t)
	limiter := New(client)
	ctx := context.Background()

	limiter.Admit(ctx, "k")
	server.FastForward(40 * time.Second)
	limiter.Admit(ctx, "k")

	assert.Equal(t, 20*time.Second, server.TTL(DefaultKeyPrefix+"k"))
}

func TestCustomLimitAndPrefix(t *testing.T) {
	server, client := newRedis(t)
	limiter := New(client, WithLimit(2, 10*time.Second), WithKeyPrefix("test:"))
	ctx := context.Background()

	assert.Equal(t, Allowed, limiter.Admit(ctx, "a"))
	assert.Equal(t, Allowed, limiter.Admit(ctx, "a"))
	assert.Equal(t, Denied, limiter.Admit(ctx, "a"))
	assert.True(t, server.Exists("test:a"))
	assert.Equal(t, 10*time.Second, server.TTL("test:a"))
}

func TestConcurrentAdmitsAreCountedAtomically(t *testing.T) {
	_, client := newRedis(t)
	limiter := New(client)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit(ctx, "burst") == Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, DefaultLimit, allowed.Load())
}

func TestStoreUnavailableFailsOpen(t *testing.T) {
	server, client := newRedis(t)
	var failures atomic.Int32
	limiter := New(client, OnStoreError(func(error) { failures.Add(1) }))
	server.Close()

	ctx := context.Background()
	for i := 0; i < DefaultLimit+3; i++ {
		assert.Equal(t, Allowed, limiter.Admit(ctx, "10.0.0.1"))
	}
	assert.EqualValues(t, DefaultLimit+3, failures.Load())
}
