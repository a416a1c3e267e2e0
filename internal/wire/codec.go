package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"framelink/internal/core/domain"
)

// Stateless zstd coders shared by all streams. EncodeAll/DecodeAll
// are safe for concurrent use on a nil-stream coder.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodePayload applies the wire encoding for the given mode.
func EncodePayload(mode domain.EncodingMode, data []byte) ([]byte, error) {
	switch mode {
	case domain.EncodingBinary:
		return data, nil
	case domain.EncodingBase64:
		out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
		base64.StdEncoding.Encode(out, data)
		return out, nil
	case domain.EncodingCompressed:
		return zstdEncoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unknown encoding mode %q", mode)
	}
}

// DecodePayload reverses EncodePayload. The mode comes from the
// frame's own metadata tag, never from client-local state, so frames
// in flight across a mode switch decode correctly.
func DecodePayload(mode domain.EncodingMode, data []byte) ([]byte, error) {
	switch mode {
	case domain.EncodingBinary:
		return data, nil
	case domain.EncodingBase64:
		out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(out, data)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return out[:n], nil
	case domain.EncodingCompressed:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode failed: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown encoding mode %q", mode)
	}
}
