package noop

import (
	"context"
	"time"

	"github.com/chirino/chat-mirror/internal/model"
	"github.com/chirino/chat-mirror/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.MessageCache, error) {
			return &noopMessageCache{}, nil
		},
	})
}

type noopMessageCache struct{}

func (n *noopMessageCache) Available() bool { return false }
func (n *noopMessageCache) Get(_ context.Context, _, _ string) (*model.Message, error) {
	return nil, nil
}
func (n *noopMessageCache) Set(_ context.Context, _ model.Message, _ time.Duration) error {
	return nil
}
func (n *noopMessageCache) Remove(_ context.Context, _, _ string) error { return nil }

var _ cache.MessageCache = (*noopMessageCache)(nil)
