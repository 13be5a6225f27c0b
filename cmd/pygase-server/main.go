// Command pygase-server runs a PyGaSe UDP game server alongside its
// admin/observability HTTP surface (§4.13) and, when enabled, a
// read-only WebSocket state mirror (§4.15).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	configpkg "pygase/internal/config"
	"pygase/internal/httpapi"
	"pygase/internal/logging"
	"pygase/internal/snapshot"
	"pygase/internal/wsmirror"

	"pygase/gamestate"
	"pygase/server"
)

func main() {
	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	store := gamestate.NewStore(gamestate.New(), cfg.GameCacheSize)

	srv, err := server.New(cfg.UDPAddr, store, server.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to start UDP server", logging.Error(err))
	}
	logger.Info("pygase server listening", logging.String("address", srv.Addr().String()))
	go srv.Run()
	defer srv.Shutdown(5 * time.Second)

	exporter := snapshot.NewExporter(store, cfg.SnapshotDir)
	rateLimiter := httpapi.NewSlidingWindowLimiter(cfg.SnapshotRateWindow, cfg.SnapshotRateBurst, nil)

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   srv,
		Stats:       func() []httpapi.ConnectionStats { return convertConnectionStats(srv.ConnectionStats()) },
		Store:       store,
		Exporter:    exporter,
		AdminToken:  cfg.AdminToken,
		RateLimiter: rateLimiter,
	})

	mux := http.NewServeMux()
	handlers.Register(mux)

	var mirror *wsmirror.Mirror
	if cfg.WSMirrorEnabled {
		mirror = wsmirror.New(store, wsmirror.WithLogger(logger))
		go mirror.Run()
		mux.Handle(cfg.WSMirrorPath, mirror)
		logger.Info("websocket state mirror enabled", logging.String("path", cfg.WSMirrorPath))
	}

	adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: mux}
	go func() {
		logger.Info("admin HTTP surface listening", logging.String("address", cfg.AdminAddr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("admin HTTP server terminated", logging.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = adminServer.Shutdown(shutdownCtx)
	if mirror != nil {
		mirror.Shutdown()
	}
}

// convertConnectionStats adapts server.ConnectionStats (the value the
// UDP multiplexer actually tracks) to httpapi's decoupled view, so the
// admin package never needs to import server, metrics, or netconn.
func convertConnectionStats(in []server.ConnectionStats) []httpapi.ConnectionStats {
	out := make([]httpapi.ConnectionStats, 0, len(in))
	for _, c := range in {
		out = append(out, httpapi.ConnectionStats{
			RemoteAddr:    c.RemoteAddr,
			Status:        c.Status,
			BytesSent:     c.Metrics.BytesSent,
			BytesReceived: c.Metrics.BytesReceived,
			Drops:         c.Metrics.Drops,
		})
	}
	return out
}
