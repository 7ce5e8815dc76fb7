package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-mirror/internal/model"
)

type messageCacheKey struct{}

// WithMessageCacheContext returns a new context carrying the given MessageCache.
func WithMessageCacheContext(ctx context.Context, c MessageCache) context.Context {
	return context.WithValue(ctx, messageCacheKey{}, c)
}

// MessageCacheFromContext retrieves the MessageCache from the context.
// Returns nil if none was set.
func MessageCacheFromContext(ctx context.Context) MessageCache {
	c, _ := ctx.Value(messageCacheKey{}).(MessageCache)
	return c
}

// MessageCache caches durable message rows read by the query surface.
// Get returns (nil, nil) on a miss.
type MessageCache interface {
	Available() bool
	Get(ctx context.Context, sessionID, id string) (*model.Message, error)
	Set(ctx context.Context, msg model.Message, ttl time.Duration) error
	Remove(ctx context.Context, sessionID, id string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (MessageCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
