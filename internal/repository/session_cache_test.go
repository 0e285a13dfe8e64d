//go:build integration

package repository_test

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/antigravity-gateway/gateway/internal/repository"
)

func TestRedisSessionCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addrWithoutScheme(addr)})
	t.Cleanup(func() { _ = client.Close() })

	cache := repository.NewRedisSessionCache(client)

	_, ok := cache.Get(ctx, "anthropic:missing")
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, "anthropic:session-1", "acc-42"))
	got, ok := cache.Get(ctx, "anthropic:session-1")
	require.True(t, ok)
	require.Equal(t, "acc-42", got)
}

func addrWithoutScheme(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return s[i+1:]
		}
	}
	return s
}
