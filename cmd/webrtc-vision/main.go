package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/faris-sait/webrtc-vision/internal/config"
	"github.com/faris-sait/webrtc-vision/internal/detection"
	"github.com/faris-sait/webrtc-vision/internal/httpserver"
	"github.com/faris-sait/webrtc-vision/internal/metrics"
	"github.com/faris-sait/webrtc-vision/internal/metricstore"
	"github.com/faris-sait/webrtc-vision/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting webrtc-vision",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"max_pending_messages", cfg.MaxPendingMessages,
		"detection_confidence_threshold", cfg.DetectionConfidence,
		"detection_max_detections", cfg.DetectionMaxDetections,
		"ice_servers", len(cfg.ICEServers),
		"allowed_origins", cfg.AllowedOrigins,
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	counters := metrics.New()
	relay := signaling.NewRelay(logger, counters, cfg.MaxPendingMessages)
	pipeline := detection.NewPipeline(detection.Config{
		Logger:                     logger,
		Metrics:                    counters,
		DefaultConfidenceThreshold: cfg.DetectionConfidence,
		DefaultMaxDetections:       cfg.DetectionMaxDetections,
	})

	wsServer := signaling.NewWebSocketServer(cfg, logger, counters, relay, pipeline)
	srv.Mux().HandleFunc("GET /api/ws/{room}", wsServer.HandleWebSocket)

	signaling.NewHTTPAPI(cfg, logger, relay).RegisterRoutes(srv.Mux(), srv.WithOriginPolicy)
	detection.NewHandler(logger, pipeline, cfg.MaxSignalingMessageBytes).RegisterRoutes(srv.Mux(), srv.WithOriginPolicy)
	metricstore.New(logger, nil).RegisterRoutes(srv.Mux(), srv.WithOriginPolicy)

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(counters))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
