package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/chat-mirror/internal/config"
	"github.com/chirino/chat-mirror/internal/model"
	registrycache "github.com/chirino/chat-mirror/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.MessageCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHAT_MIRROR_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheMessageTTL)
}

// LoadFromURLWithTTL creates a MessageCache from a Redis-compatible URL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.MessageCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptionsWithTTL(ctx, opts, ttl)
}

// LoadFromOptionsWithTTL creates a MessageCache from explicit client options,
// for servers that speak RESP but not the redis:// URL conventions.
func LoadFromOptionsWithTTL(ctx context.Context, opts *goredis.Options, ttl time.Duration) (registrycache.MessageCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisMessageCache{client: client, ttl: ttl}, nil
}

type redisMessageCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func messageKey(sessionID, id string) string {
	return fmt.Sprintf("mirror-msg:%s:%s", sessionID, id)
}

func (c *redisMessageCache) Available() bool {
	return true
}

func (c *redisMessageCache) Get(ctx context.Context, sessionID, id string) (*model.Message, error) {
	data, err := c.client.Get(ctx, messageKey(sessionID, id)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	// SessionID is not part of the JSON form.
	msg.SessionID = sessionID
	return &msg, nil
}

func (c *redisMessageCache) Set(ctx context.Context, msg model.Message, ttl time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, messageKey(msg.SessionID, msg.ID), data, ttl).Err()
}

func (c *redisMessageCache) Remove(ctx context.Context, sessionID, id string) error {
	return c.client.Del(ctx, messageKey(sessionID, id)).Err()
}

var _ registrycache.MessageCache = (*redisMessageCache)(nil)
