package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/config"
)

// RunningServer is a bound HTTP listener.
type RunningServer struct {
	Addr       net.Addr
	Port       int
	HTTPServer *http.Server
	Close      func(ctx context.Context) error
}

// StartHTTP binds cfg.Port (0 picks a free port) and serves handler in the
// background.
func StartHTTP(cfg config.ListenerConfig, handler http.Handler) (*RunningServer, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
		}
	}()

	port := 0
	if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	var closeOnce sync.Once
	closeFn := func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
				shutdownErr = err
			}
			_ = lis.Close()
		})
		return shutdownErr
	}

	return &RunningServer{
		Addr:       lis.Addr(),
		Port:       port,
		HTTPServer: server,
		Close:      closeFn,
	}, nil
}
