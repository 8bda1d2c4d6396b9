package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sahilchouksey/search-gateway/utils/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	c, err := cache.NewRedisCache(url)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	channel := "test:" + t.Name()
	require.NoError(t, c.Subscribe(ctx, channel, func(payload string) { got <- payload }))
	require.NoError(t, c.Publish(ctx, channel, "abc123"))

	select {
	case payload := <-got:
		assert.Equal(t, "abc123", payload)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := cache.NewRedisCache("not a url")
	assert.Error(t, err)
}

func TestIncrementStartsWindow(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	c, err := cache.NewRedisCache(url)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := "test:" + t.Name()
	require.NoError(t, c.Delete(ctx, key))

	n, err := c.Increment(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.Increment(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ttl, err := c.TTL(ctx, key)
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "window kept from the first hit, got %s", ttl)

	require.NoError(t, c.Delete(ctx, key))
	ttl, err = c.TTL(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, ttl)
}
