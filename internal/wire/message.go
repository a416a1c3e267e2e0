package wire

import (
	"encoding/json"
	"fmt"

	"framelink/internal/core/domain"
)

// Message types. Every metadata message (frame_meta, chunk_meta) is
// immediately followed on the same connection, before any other
// metadata message, by exactly one binary payload message. The
// dispatcher on both ends relies on this pairing.
const (
	// peer -> client
	TypeConnectionStatus = "connection_status"
	TypeStreamStarted    = "stream_started"
	TypeStreamStopped    = "stream_stopped"
	TypeFrameMeta        = "frame_meta"
	TypeChunkedFrameMeta = "chunked_frame_meta"
	TypeChunkMeta        = "chunk_meta"
	TypeStreamStats      = "stream_stats"
	TypeStreamError      = "stream_error"

	// peer -> client acknowledgements
	TypeResolutionUpdated   = "resolution_updated"
	TypeQualityUpdated      = "quality_updated"
	TypeFPSUpdated          = "fps_updated"
	TypeEncodingModeChanged = "encoding_mode_changed"
	TypeMaxBitrateUpdated   = "max_bitrate_updated"

	// client -> peer
	TypeStartStream      = "start_stream"
	TypeStopStream       = "stop_stream"
	TypeChunkReceived    = "chunk_received"
	TypeUpdateResolution = "update_resolution"
	TypeUpdateQuality    = "update_quality"
	TypeUpdateFPS        = "update_fps"
	TypeSetEncodingMode  = "set_encoding_mode"
	TypeSetMaxBitrate    = "set_max_bitrate"
	TypeGetStats         = "get_stats"
)

// Envelope is the JSON frame for every non-binary message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals an envelope with the given payload.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a text message into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}

// Unmarshal decodes the envelope payload into v.
func (e Envelope) Unmarshal(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}

type ConnectionStatusPayload struct {
	ClientID     string              `json:"client_id"`
	ServerTime   float64             `json:"server_time"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

type StreamStartedPayload struct {
	Settings  domain.StreamSettings `json:"settings"`
	Timestamp float64               `json:"timestamp"`
}

type StreamStoppedPayload struct {
	Timestamp float64 `json:"timestamp"`
}

// ChunkRef identifies one chunk of one frame. Used both for the
// chunk_meta announcement and the sampled chunk_received ack.
type ChunkRef struct {
	FrameID    domain.FrameID `json:"frame_id"`
	ChunkIndex int            `json:"chunk_index"`
}

type UpdateResolutionPayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type UpdateQualityPayload struct {
	Quality int `json:"quality"`
}

type UpdateFPSPayload struct {
	FPS int `json:"fps"`
}

type SetEncodingModePayload struct {
	Mode domain.EncodingMode `json:"mode"`
}

type SetMaxBitratePayload struct {
	MaxBitrateKbps int `json:"max_bitrate_kbps"`
}

type StreamErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StreamStatsPayload is the peer's answer to get_stats.
type StreamStatsPayload struct {
	ClientID       string  `json:"client_id"`
	Streaming      bool    `json:"streaming"`
	FramesSent     uint64  `json:"frames_sent"`
	ChunksSent     uint64  `json:"chunks_sent"`
	BytesSent      uint64  `json:"bytes_sent"`
	ConnectionTime float64 `json:"connection_time"`
	Timestamp      float64 `json:"timestamp"`
}
