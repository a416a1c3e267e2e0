package domain

import "fmt"

// EncodingMode is the wire representation of frame payload bytes,
// independent of the image codec that produced them.
type EncodingMode string

const (
	// EncodingBinary sends payload bytes as-is.
	EncodingBinary EncodingMode = "binary"
	// EncodingBase64 re-encodes payloads into a text-safe alphabet
	// for transports that cannot carry raw binary.
	EncodingBase64 EncodingMode = "base64"
	// EncodingCompressed passes payloads through a lossless byte
	// compressor, trading CPU for bandwidth.
	EncodingCompressed EncodingMode = "compressed"
)

// Valid reports whether m is a known encoding mode.
func (m EncodingMode) Valid() bool {
	switch m {
	case EncodingBinary, EncodingBase64, EncodingCompressed:
		return true
	}
	return false
}

// StreamSettings describes one video stream. The authoritative copy
// lives with the peer; the client holds a best-effort mirror updated
// by *_updated acknowledgements.
type StreamSettings struct {
	CaptureIndex    int          `json:"capture_index"`
	Width           int          `json:"width"`
	Height          int          `json:"height"`
	TargetFPS       int          `json:"target_fps"`
	Quality         int          `json:"quality"`
	ChunkingEnabled bool         `json:"chunking_enabled"`
	ChunkSizeBytes  int          `json:"chunk_size_bytes"`
	MaxBitrateKbps  int          `json:"max_bitrate_kbps"`
	EncodingMode    EncodingMode `json:"encoding_mode"`
}

// Validate checks settings against the documented ranges.
func (s StreamSettings) Validate() error {
	if s.CaptureIndex < 0 {
		return fmt.Errorf("capture_index must be >= 0")
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", s.Width, s.Height)
	}
	if s.TargetFPS <= 0 {
		return fmt.Errorf("target_fps must be > 0")
	}
	if s.Quality < 0 || s.Quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100, got %d", s.Quality)
	}
	if s.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk_size_bytes must be > 0")
	}
	if s.MaxBitrateKbps < 0 {
		return fmt.Errorf("max_bitrate_kbps must be >= 0")
	}
	if !s.EncodingMode.Valid() {
		return fmt.Errorf("unknown encoding mode %q", s.EncodingMode)
	}
	return nil
}

// Capabilities is the peer's capability summary announced on connect.
type Capabilities struct {
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
	MaxFPS    int `json:"max_fps"`
}
