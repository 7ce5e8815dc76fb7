// Package infinispan registers a message cache backed by Infinispan's RESP
// endpoint, reusing the redis cache implementation.
package infinispan

import (
	"context"
	"fmt"

	"github.com/chirino/chat-mirror/internal/config"
	"github.com/chirino/chat-mirror/internal/plugin/cache/redis"
	registrycache "github.com/chirino/chat-mirror/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "infinispan",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.MessageCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.InfinispanHost == "" {
		return nil, fmt.Errorf("infinispan cache: CHAT_MIRROR_INFINISPAN_HOST is required")
	}
	timeout := cfg.InfinispanStartupTimeout
	if timeout <= 0 {
		timeout = config.DefaultConfig().InfinispanStartupTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return redis.LoadFromOptionsWithTTL(timeoutCtx, Options(cfg.InfinispanHost, cfg.InfinispanUsername, cfg.InfinispanPassword), cfg.CacheMessageTTL)
}

// Options returns client options for an Infinispan RESP endpoint. The
// endpoint rejects the RESP3 HELLO handshake, so the client stays on RESP2.
func Options(host, username, password string) *goredis.Options {
	return &goredis.Options{
		Addr:     host,
		Username: username,
		Password: password,
		Protocol: 2,
	}
}
