package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"framelink/internal/client"
	"framelink/internal/core/domain"
	"framelink/internal/infrastructure/transport"
	"framelink/pkg/config"
	"framelink/pkg/logger"
)

// logRenderer is a headless display layer: it counts frames and logs
// them at debug level. A real viewer plugs a decoder/UI in here.
type logRenderer struct {
	log    *zap.SugaredLogger
	frames uint64
}

func (r *logRenderer) Render(payload []byte, meta domain.FrameMetadata) {
	r.frames++
	r.log.Debugw("frame rendered",
		"frame_id", meta.FrameID,
		"size", len(payload),
		"chunked", meta.Chunked,
	)
}

type logStatus struct {
	log *zap.SugaredLogger
}

func (s *logStatus) Status(msg string) {
	s.log.Infow("connection status", "status", msg)
}

func (s *logStatus) StreamError(code, msg string) {
	s.log.Warnw("stream error from peer", "code", code, "error", msg)
}

func main() {
	url := flag.String("url", "ws://localhost:8080/video", "peer video endpoint")
	configPath := flag.String("config", "", "optional config file")
	statsEvery := flag.Duration("stats", 5*time.Second, "telemetry print interval")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.New("info").Sugar().Fatalw("failed to load config", "path", *configPath, "error", err)
		}
		cfg = loaded
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	renderer := &logRenderer{log: log}
	c, err := client.New(client.Options{
		Dialer:   transport.NewWebSocketDialer(*url),
		Renderer: renderer,
		Status:   &logStatus{log: log},
		Logger:   log,
		Settings: domain.StreamSettings{
			CaptureIndex:    cfg.Stream.CaptureIndex,
			Width:           cfg.Stream.Width,
			Height:          cfg.Stream.Height,
			TargetFPS:       cfg.Stream.TargetFPS,
			Quality:         cfg.Stream.Quality,
			ChunkingEnabled: cfg.Stream.ChunkingEnabled,
			ChunkSizeBytes:  cfg.Stream.ChunkSizeBytes,
			MaxBitrateKbps:  cfg.Stream.MaxBitrateKbps,
			EncodingMode:    domain.EncodingMode(cfg.Stream.EncodingMode),
		},
		Reconnect: client.ReconnectPolicy{
			MaxRetries: cfg.Reconnect.MaxRetries,
			BaseDelay:  cfg.Reconnect.BaseDelay,
		},
		Reassembly: client.ReassemblyConfig{
			ChunkWaitTime:  cfg.Reassembly.ChunkWaitTime,
			SweepInterval:  cfg.Reassembly.SweepInterval,
			MaxPendingAge:  cfg.Reassembly.MaxPendingAge,
			AckSampleEvery: cfg.Reassembly.AckSampleEvery,
		},
		Telemetry: client.TelemetryConfig{
			BitrateWindow: cfg.Telemetry.BitrateWindow,
			FPSInterval:   cfg.Telemetry.FPSInterval,
		},
	})
	if err != nil {
		log.Fatalw("failed to create client", "error", err)
	}
	defer c.Close()

	if err := c.Connect(); err != nil {
		log.Fatalw("failed to connect", "error", err)
	}

	// Give the dial a moment, then ask for frames. The client keeps
	// retrying the transport on its own if the peer goes away.
	time.Sleep(500 * time.Millisecond)
	if err := c.StartStream(); err != nil {
		log.Warnw("failed to start stream", "error", err)
	}

	statsTicker := time.NewTicker(*statsEvery)
	defer statsTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-statsTicker.C:
			snap := c.Telemetry()
			log.Infow("telemetry",
				"fps", snap.FPS,
				"bitrate_bps", snap.BitrateBPS,
				"latency", snap.LastLatency,
				"frames", snap.FramesRendered,
				"chunks_received", snap.ChunksReceived,
				"chunks_lost", snap.ChunksLost,
				"delivery_rate", snap.DeliveryRate,
				"anomalies", snap.Anomalies,
			)

		case sig := <-sigChan:
			log.Infow("shutting down", "signal", sig)
			if err := c.StopStream(); err != nil {
				log.Debugw("stop stream on shutdown", "error", err)
			}
			if err := c.Disconnect(); err != nil {
				log.Debugw("disconnect on shutdown", "error", err)
			}
			return
		}
	}
}
