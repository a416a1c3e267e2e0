package domain

import "time"

// TelemetrySample is one rendered frame's contribution to the
// trailing-window bitrate estimate.
type TelemetrySample struct {
	Timestamp time.Time
	ByteSize  int
}

// TelemetrySnapshot is the externally visible view of stream health.
type TelemetrySnapshot struct {
	FramesRendered uint64        `json:"frames_rendered"`
	ChunksReceived uint64        `json:"chunks_received"`
	ChunksLost     uint64        `json:"chunks_lost"`
	Anomalies      uint64        `json:"anomalies"`
	FPS            int           `json:"fps"`
	LastLatency    time.Duration `json:"last_latency"`
	BitrateBPS     float64       `json:"bitrate_bps"`
	// DeliveryRate is (chunks received - chunks lost) / chunks
	// received; 1.0 when no chunks have been received yet.
	DeliveryRate float64 `json:"delivery_rate"`
}
