//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/auth-gateway/internal/testutil/containers"
	"github.com/StricklySoft/auth-gateway/pkg/clients/redis"
)

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	addr := containers.Redis(ctx, t)

	client, err := redis.NewClient(ctx, redis.Config{URI: "redis://" + addr + "/0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Health(ctx))

	t.Run("SetNX claims once", func(t *testing.T) {
		ok, err := client.SetNX(ctx, "it:replay:a", "1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = client.SetNX(ctx, "it:replay:a", "1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := client.Del(ctx, "it:replay:a")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		ok, err = client.SetNX(ctx, "it:replay:a", "1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "claim available again after release")
	})

	t.Run("Get reports missing keys", func(t *testing.T) {
		_, found, err := client.Get(ctx, "it:flags:absent")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, client.Set(ctx, "it:flags:present", "true", 0))
		v, found, err := client.Get(ctx, "it:flags:present")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "true", v)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := redis.NewClient(ctx, redis.Config{Host: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond})
		require.Error(t, err)
	})
}
