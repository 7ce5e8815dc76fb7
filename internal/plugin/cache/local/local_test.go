package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-mirror/internal/config"
	"github.com/chirino/chat-mirror/internal/model"
	_ "github.com/chirino/chat-mirror/internal/plugin/cache/local"
	_ "github.com/chirino/chat-mirror/internal/plugin/cache/noop"
	registrycache "github.com/chirino/chat-mirror/internal/registry/cache"
	"github.com/stretchr/testify/require"
)

func loadCache(t *testing.T, name string) registrycache.MessageCache {
	t.Helper()
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), &cfg)
	loader, err := registrycache.Select(name)
	require.NoError(t, err)
	c, err := loader(ctx)
	require.NoError(t, err)
	return c
}

func TestLocalCache_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	c := loadCache(t, "local")
	require.True(t, c.Available())

	got, err := c.Get(ctx, "s1", "m1")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, c.Set(ctx, model.Message{SessionID: "s1", ID: "m1", Body: "hello"}, time.Minute))
	got, err = c.Get(ctx, "s1", "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "hello", got.Body)

	// Same id in another session is a different entry.
	got, err = c.Get(ctx, "s2", "m1")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, c.Remove(ctx, "s1", "m1"))
	got, err = c.Get(ctx, "s1", "m1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	c := loadCache(t, "none")
	require.False(t, c.Available())
	require.NoError(t, c.Set(ctx, model.Message{SessionID: "s1", ID: "m1"}, 0))
	got, err := c.Get(ctx, "s1", "m1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSelect_UnknownCache(t *testing.T) {
	_, err := registrycache.Select("memcached")
	require.ErrorContains(t, err, `unknown cache "memcached"`)
}
