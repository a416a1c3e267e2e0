package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Stream struct {
		CaptureIndex    int    `yaml:"capture_index"`
		Width           int    `yaml:"width"`
		Height          int    `yaml:"height"`
		TargetFPS       int    `yaml:"target_fps"`
		Quality         int    `yaml:"quality"`
		ChunkingEnabled bool   `yaml:"chunking_enabled"`
		ChunkSizeBytes  int    `yaml:"chunk_size_bytes"`
		MaxBitrateKbps  int    `yaml:"max_bitrate_kbps"`
		EncodingMode    string `yaml:"encoding_mode"`
	} `yaml:"stream"`

	Reconnect struct {
		MaxRetries int           `yaml:"max_retries"`
		BaseDelay  time.Duration `yaml:"base_delay"`
	} `yaml:"reconnect"`

	Reassembly struct {
		ChunkWaitTime  time.Duration `yaml:"chunk_wait_time"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
		MaxPendingAge  time.Duration `yaml:"max_pending_age"`
		AckSampleEvery int           `yaml:"ack_sample_every"`
	} `yaml:"reassembly"`

	Telemetry struct {
		BitrateWindow time.Duration `yaml:"bitrate_window"`
		FPSInterval   time.Duration `yaml:"fps_interval"`
	} `yaml:"telemetry"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Default returns a configuration with the documented protocol defaults.
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 60 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.PingInterval = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Stream.CaptureIndex = 0
	cfg.Stream.Width = 1280
	cfg.Stream.Height = 720
	cfg.Stream.TargetFPS = 30
	cfg.Stream.Quality = 85
	cfg.Stream.ChunkingEnabled = true
	cfg.Stream.ChunkSizeBytes = 32768
	cfg.Stream.MaxBitrateKbps = 0
	cfg.Stream.EncodingMode = "binary"

	cfg.Reconnect.MaxRetries = 5
	cfg.Reconnect.BaseDelay = time.Second

	cfg.Reassembly.ChunkWaitTime = time.Second
	cfg.Reassembly.SweepInterval = 2 * time.Second
	cfg.Reassembly.MaxPendingAge = 5 * time.Second
	cfg.Reassembly.AckSampleEvery = 10

	cfg.Telemetry.BitrateWindow = 5 * time.Second
	cfg.Telemetry.FPSInterval = time.Second

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 10
	cfg.RateLimiting.Burst = 20

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "framelink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

// Load reads a YAML config file and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("server.ping_interval must be > 0")
	}

	if c.Stream.CaptureIndex < 0 {
		return fmt.Errorf("stream.capture_index must be >= 0")
	}
	if c.Stream.Width <= 0 || c.Stream.Height <= 0 {
		return fmt.Errorf("stream resolution must be positive")
	}
	if c.Stream.TargetFPS <= 0 {
		return fmt.Errorf("stream.target_fps must be > 0")
	}
	if c.Stream.Quality < 0 || c.Stream.Quality > 100 {
		return fmt.Errorf("stream.quality must be between 0 and 100")
	}
	if c.Stream.ChunkSizeBytes <= 0 {
		return fmt.Errorf("stream.chunk_size_bytes must be > 0")
	}
	if c.Stream.MaxBitrateKbps < 0 {
		return fmt.Errorf("stream.max_bitrate_kbps must be >= 0")
	}
	switch c.Stream.EncodingMode {
	case "binary", "base64", "compressed":
	default:
		return fmt.Errorf("stream.encoding_mode must be one of binary, base64, compressed")
	}

	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect.max_retries must be >= 0")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be > 0")
	}

	if c.Reassembly.ChunkWaitTime <= 0 {
		return fmt.Errorf("reassembly.chunk_wait_time must be > 0")
	}
	if c.Reassembly.SweepInterval <= 0 {
		return fmt.Errorf("reassembly.sweep_interval must be > 0")
	}
	if c.Reassembly.MaxPendingAge < c.Reassembly.ChunkWaitTime {
		return fmt.Errorf("reassembly.max_pending_age must be >= reassembly.chunk_wait_time")
	}
	if c.Reassembly.AckSampleEvery <= 0 {
		return fmt.Errorf("reassembly.ack_sample_every must be > 0")
	}

	if c.Telemetry.BitrateWindow <= 0 {
		return fmt.Errorf("telemetry.bitrate_window must be > 0")
	}
	if c.Telemetry.FPSInterval <= 0 {
		return fmt.Errorf("telemetry.fps_interval must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name must not be empty")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
		}
	}

	return nil
}
