package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/config"
	registrycache "github.com/chirino/chat-mirror/internal/registry/cache"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/chat-mirror/internal/plugin/cache/infinispan"
	_ "github.com/chirino/chat-mirror/internal/plugin/cache/local"
	_ "github.com/chirino/chat-mirror/internal/plugin/cache/noop"
	_ "github.com/chirino/chat-mirror/internal/plugin/cache/redis"
	_ "github.com/chirino/chat-mirror/internal/plugin/route/conversations"
	_ "github.com/chirino/chat-mirror/internal/plugin/route/system"
	_ "github.com/chirino/chat-mirror/internal/plugin/store/gormstore"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Mirror a messaging session into the database and serve the query API",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log.SetLevel(telemetry.ParseLogLevel(cfg.LogLevel))
			if err := cfg.ApplyEnvOverrides(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Session ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "session-id",
			Category:    "Session:",
			Sources:     cli.EnvVars("CHAT_MIRROR_SESSION_ID"),
			Destination: &cfg.SessionID,
			Value:       cfg.SessionID,
			Usage:       "Session id that scopes every stored row",
		},
		&cli.StringFlag{
			Name:        "self-address",
			Category:    "Session:",
			Sources:     cli.EnvVars("CHAT_MIRROR_SELF_ADDRESS"),
			Destination: &cfg.SelfAddress,
			Usage:       "Address of the session owner, when known before the first event",
		},
		&cli.StringFlag{
			Name:        "default-country-code",
			Category:    "Session:",
			Sources:     cli.EnvVars("CHAT_MIRROR_DEFAULT_COUNTRY_CODE"),
			Destination: &cfg.DefaultCountryCode,
			Value:       cfg.DefaultCountryCode,
			Usage:       "Country code applied to local numbers starting with 0 or 8",
		},
		&cli.StringFlag{
			Name:        "replay-file",
			Category:    "Session:",
			Sources:     cli.EnvVars("CHAT_MIRROR_REPLAY_FILE"),
			Destination: &cfg.ReplayFile,
			Usage:       "JSONL event log to ingest at startup (- for stdin)",
		},

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_MIRROR_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_MIRROR_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_MIRROR_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_MIRROR_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Answer CORS preflight requests and set allow headers",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_MIRROR_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; empty allows any",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_MIRROR_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_MIRROR_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Time allowed for the final flush and HTTP shutdown",
		},
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_MIRROR_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level (debug|info|warn|error)",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_MIRROR_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_MIRROR_DB_URL"),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "Database connection URL, or a file path for sqlite",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_MIRROR_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations before serving",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_MIRROR_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_MIRROR_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_MIRROR_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-hosts",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_MIRROR_REDIS_URL", "CHAT_MIRROR_REDIS_HOSTS"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.StringFlag{
			Name:        "infinispan-host",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_MIRROR_INFINISPAN_HOST"),
			Destination: &cfg.InfinispanHost,
			Usage:       "Infinispan RESP host:port (e.g. localhost:11222)",
		},
		&cli.StringFlag{
			Name:        "infinispan-username",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_MIRROR_INFINISPAN_USERNAME"),
			Destination: &cfg.InfinispanUsername,
			Usage:       "Infinispan username",
		},
		&cli.StringFlag{
			Name:        "infinispan-password",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_MIRROR_INFINISPAN_PASSWORD"),
			Destination: &cfg.InfinispanPassword,
			Usage:       "Infinispan password",
		},

		// ── Flush ─────────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "flush-debounce",
			Category:    "Flush:",
			Sources:     cli.EnvVars("CHAT_MIRROR_FLUSH_DEBOUNCE"),
			Destination: &cfg.FlushDebounce,
			Value:       cfg.FlushDebounce,
			Usage:       "Quiet period after a change before flushing",
		},
		&cli.DurationFlag{
			Name:        "flush-interval",
			Category:    "Flush:",
			Sources:     cli.EnvVars("CHAT_MIRROR_FLUSH_INTERVAL"),
			Destination: &cfg.FlushInterval,
			Value:       cfg.FlushInterval,
			Usage:       "Periodic flush interval",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CHAT_MIRROR_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize <= 0 || c.Request.Body == nil || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
