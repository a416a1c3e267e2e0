package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
	httphandlers "framelink/internal/handlers/http"
	"framelink/internal/infrastructure/capture"
	"framelink/internal/infrastructure/middleware"
	"framelink/internal/infrastructure/monitoring"
	"framelink/internal/peer"
	"framelink/pkg/config"
	"framelink/pkg/logger"
	"framelink/pkg/tracing"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/framelink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.Default()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	var metrics *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	defaults := streamSettings(cfg)
	registry := peer.NewRegistry()
	server := peer.NewServer(peer.Options{
		Registry: registry,
		Sources: func(settings domain.StreamSettings) (ports.FrameSource, error) {
			return capture.NewSyntheticSource(settings), nil
		},
		Defaults: defaults,
		Capabilities: domain.Capabilities{
			MaxWidth:  1920,
			MaxHeight: 1080,
			MaxFPS:    60,
		},
		Metrics:      metrics,
		Logger:       log,
		PingInterval: cfg.Server.PingInterval,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.ErrorHandlerMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	httphandlers.NewStatsHandler(registry).SetupRoutes(router)
	router.GET("/video", gin.WrapF(server.HandleVideo))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
		// No global timeouts: the video endpoint holds long-lived
		// websocket connections with their own deadlines.
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting framelink peer daemon on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down framelink peer daemon...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	tracingCtx, tracingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tracingCancel()
	if err := tracerProvider.Shutdown(tracingCtx); err != nil {
		log.Errorw("Error shutting down tracing", "error", err)
	}
}

func streamSettings(cfg *config.Config) domain.StreamSettings {
	return domain.StreamSettings{
		CaptureIndex:    cfg.Stream.CaptureIndex,
		Width:           cfg.Stream.Width,
		Height:          cfg.Stream.Height,
		TargetFPS:       cfg.Stream.TargetFPS,
		Quality:         cfg.Stream.Quality,
		ChunkingEnabled: cfg.Stream.ChunkingEnabled,
		ChunkSizeBytes:  cfg.Stream.ChunkSizeBytes,
		MaxBitrateKbps:  cfg.Stream.MaxBitrateKbps,
		EncodingMode:    domain.EncodingMode(cfg.Stream.EncodingMode),
	}
}
