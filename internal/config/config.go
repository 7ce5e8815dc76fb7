package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the chat mirror.
type Config struct {
	// SessionID scopes every durable row. One process mirrors one session.
	SessionID string

	// SelfAddress is the canonical address of the session owner, if known at startup.
	SelfAddress string

	// DefaultCountryCode is prefixed to local numbers starting with 0 or 8.
	DefaultCountryCode string

	// Database
	DBURL string

	// Datastore backend type
	DatastoreType string // "sqlite" or "postgres"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache backend type
	CacheType string // "none", "redis" or "local"

	// Redis
	RedisURL string

	// Infinispan RESP endpoint, used by the "infinispan" cache.
	InfinispanHost           string
	InfinispanUsername       string
	InfinispanPassword       string
	InfinispanStartupTimeout time.Duration

	// Durable message read cache TTL.
	CacheMessageTTL time.Duration

	// Ristretto budget for the local cache, in bytes.
	LocalCacheMaxCost int64

	// Flush scheduling
	FlushDebounce time.Duration
	FlushInterval time.Duration

	// PurgeInterval is how often rows of unmirrored addresses are removed.
	// Zero disables the purge loop.
	PurgeInterval time.Duration

	// Rows per statement when flushing.
	IdentityBatchSize     int
	ConversationBatchSize int
	MessageBatchSize      int

	// Server
	Listener ListenerConfig
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool
	// MaxBodySize caps request bodies on the mutation routes, in bytes.
	MaxBodySize int64
	CORSEnabled bool
	// CORSOrigins is a comma-separated allow list; empty allows any origin.
	CORSOrigins string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// ReplayFile is a JSONL event log to ingest at startup; "-" reads stdin.
	ReplayFile string

	LogLevel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionID:                "default",
		DefaultCountryCode:       "62",
		DatastoreType:            "sqlite",
		DBURL:                    "chat-mirror.db",
		DatastoreMigrateAtStart:  true,
		DBMaxOpenConns:           25,
		DBMaxIdleConns:           5,
		CacheType:                "none",
		CacheMessageTTL:          10 * time.Minute,
		InfinispanStartupTimeout: 30 * time.Second,
		LocalCacheMaxCost:        64 << 20,
		FlushDebounce:            800 * time.Millisecond,
		FlushInterval:            15 * time.Second,
		PurgeInterval:            time.Hour,
		IdentityBatchSize:        500,
		ConversationBatchSize:    500,
		MessageBatchSize:         400,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:   1 << 20,
		MetricsLabels: "service=chat-mirror",
		DrainTimeout:  30,
		LogLevel:      "info",
	}
}
