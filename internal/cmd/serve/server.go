package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/config"
	"github.com/chirino/chat-mirror/internal/mirror"
	"github.com/chirino/chat-mirror/internal/plugin/route/conversations"
	routesystem "github.com/chirino/chat-mirror/internal/plugin/route/system"
	storemetrics "github.com/chirino/chat-mirror/internal/plugin/store/metrics"
	registrycache "github.com/chirino/chat-mirror/internal/registry/cache"
	registrymigrate "github.com/chirino/chat-mirror/internal/registry/migrate"
	registryroute "github.com/chirino/chat-mirror/internal/registry/route"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/service"
	"github.com/chirino/chat-mirror/internal/telemetry"
	"github.com/chirino/chat-mirror/internal/transport"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config  *config.Config
	Store   registrystore.MirrorStore
	Engine  *mirror.Engine
	Router  *gin.Engine
	Running *RunningServer
	// Ingested closes once the bound event source is drained.
	Ingested <-chan struct{}
	cancel   context.CancelFunc
}

// Shutdown stops ingestion, writes the remaining state and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkDraining()
	s.cancel()

	flushErr := s.Engine.Flush(ctx)
	if flushErr != nil {
		log.Error("Final flush failed", "err", flushErr)
	}
	s.Engine.Dispose()
	return errors.Join(flushErr, s.Running.Close(ctx))
}

// StartServer initializes all subsystems, binds the event source and starts
// the HTTP listener. Use cfg.Listener.Port=0 for a random port; the actual
// port is Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat mirror",
		"session", cfg.SessionID,
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
	)

	metricsLabels, err := telemetry.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	telemetry.InitMetrics(metricsLabels)

	if cfg.DatastoreMigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// The read cache is optional; a broken cache degrades to store reads.
	var cache registrycache.MessageCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if cache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		cache = nil
	}

	engine, err := mirror.New(mirror.OptionsFromConfig(cfg, store, cache))
	if err != nil {
		return nil, err
	}

	ingestCtx, cancel := context.WithCancel(ctx)
	src, closeSrc, err := openSource(ingestCtx, cfg.ReplayFile)
	if err != nil {
		cancel()
		return nil, err
	}
	ingested := engine.Bind(ingestCtx, src)
	go func() {
		<-ingested
		closeSrc()
		if cfg.ReplayFile == "" || ingestCtx.Err() != nil {
			return
		}
		if err := engine.Flush(ingestCtx); err != nil {
			log.Error("Replay: flush failed", "err", err)
			return
		}
		log.Info("Replay: completed", "file", cfg.ReplayFile, "pendingPatches", engine.PendingPatches())
	}()

	if cfg.PurgeInterval > 0 {
		purge := service.NewPurgeService(engine, cfg.PurgeInterval)
		go purge.Start(ingestCtx)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(telemetry.AccessLogMiddleware())
	} else {
		router.Use(telemetry.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(telemetry.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	if err := registryroute.MountAll(router); err != nil {
		cancel()
		return nil, err
	}
	conversations.MountRoutes(router, engine)

	running, err := StartHTTP(cfg.Listener, router)
	if err != nil {
		cancel()
		engine.Dispose()
		return nil, err
	}

	log.Info("Server listening", "port", running.Port)

	routesystem.MarkReady()
	return &Server{
		Config:   cfg,
		Store:    store,
		Engine:   engine,
		Router:   router,
		Running:  running,
		Ingested: ingested,
		cancel:   cancel,
	}, nil
}

// openSource returns the replay source for path. Without a path the engine
// is bound to an idle source so the periodic flush still runs.
func openSource(ctx context.Context, path string) (transport.Source, func(), error) {
	var r io.ReadCloser
	switch path {
	case "":
		return transport.ChannelSource(make(chan transport.Event)), func() {}, nil
	case "-":
		r = io.NopCloser(os.Stdin)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open replay file: %w", err)
		}
		r = f
	}
	return transport.NewJSONLSource(ctx, r), func() { _ = r.Close() }, nil
}
