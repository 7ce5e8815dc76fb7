package infinispan_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chirino/chat-mirror/internal/model"
	"github.com/chirino/chat-mirror/internal/plugin/cache/infinispan"
	"github.com/chirino/chat-mirror/internal/plugin/cache/redis"
	"github.com/chirino/chat-mirror/internal/testutil/testinfinispan"
	"github.com/stretchr/testify/require"
)

func TestOptionsUseRESP2(t *testing.T) {
	opts := infinispan.Options("localhost:11222", "admin", "secret")
	require.Equal(t, 2, opts.Protocol)
	require.Equal(t, "localhost:11222", opts.Addr)
	require.Equal(t, "admin", opts.Username)
}

func TestInfinispanMessageCache(t *testing.T) {
	if os.Getenv("CHAT_MIRROR_TEST_INFINISPAN") != "1" {
		t.Skip("set CHAT_MIRROR_TEST_INFINISPAN=1 to run against an infinispan container")
	}
	ctx := context.Background()
	ispn := testinfinispan.StartInfinispan(t)
	c, err := redis.LoadFromOptionsWithTTL(ctx, infinispan.Options(ispn.Host, ispn.Username, ispn.Password), time.Minute)
	require.NoError(t, err)

	msg := model.Message{SessionID: "s1", ID: "m1", Body: "hello"}
	require.NoError(t, c.Set(ctx, msg, 0))
	got, err := c.Get(ctx, "s1", "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "hello", got.Body)

	require.NoError(t, c.Remove(ctx, "s1", "m1"))
	got, err = c.Get(ctx, "s1", "m1")
	require.NoError(t, err)
	require.Nil(t, got)
}
