// Package local provides an in-process message cache backed by ristretto.
package local

import (
	"context"
	"time"

	"github.com/chirino/chat-mirror/internal/config"
	"github.com/chirino/chat-mirror/internal/model"
	registrycache "github.com/chirino/chat-mirror/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const (
	defaultTTL     = 10 * time.Minute
	defaultMaxCost = 64 << 20
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.MessageCache, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				return New(defaultMaxCost, defaultTTL)
			}
			return New(cfg.LocalCacheMaxCost, cfg.CacheMessageTTL)
		},
	})
}

// New creates a cache bounded to roughly maxCost bytes of message payload.
func New(maxCost int64, ttl time.Duration) (registrycache.MessageCache, error) {
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, model.Message]{
		NumCounters: max(maxCost/100, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &localMessageCache{cache: c, ttl: ttl}, nil
}

type localMessageCache struct {
	cache *ristretto.Cache[string, model.Message]
	ttl   time.Duration
}

func messageKey(sessionID, id string) string {
	return sessionID + "\x00" + id
}

func cost(msg model.Message) int64 {
	return int64(len(msg.ID) + len(msg.Body) + len(msg.RawEnvelope) + len(msg.ConversationAddress) + len(msg.SenderAddress) + 64)
}

func (c *localMessageCache) Available() bool { return true }

func (c *localMessageCache) Get(_ context.Context, sessionID, id string) (*model.Message, error) {
	msg, ok := c.cache.Get(messageKey(sessionID, id))
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (c *localMessageCache) Set(_ context.Context, msg model.Message, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(messageKey(msg.SessionID, msg.ID), msg, cost(msg), ttl)
	// Make the write visible to the next Get.
	c.cache.Wait()
	return nil
}

func (c *localMessageCache) Remove(_ context.Context, sessionID, id string) error {
	c.cache.Del(messageKey(sessionID, id))
	return nil
}

var _ registrycache.MessageCache = (*localMessageCache)(nil)
