package domain

import (
	"fmt"
	"time"
)

// FrameID identifies one in-flight frame. Peer-assigned, unique per
// frame while the frame is in flight.
type FrameID uint64

// FrameMetadata announces a frame before its payload bytes arrive.
// Encoding is carried per frame so that frames already in flight
// across an encoding-mode switch decode with the mode they were sent
// in, not the mode the client most recently requested.
type FrameMetadata struct {
	FrameID     FrameID      `json:"frame_id"`
	CaptureTime float64      `json:"capture_timestamp"` // seconds since epoch, peer clock
	TotalSize   int          `json:"total_size_bytes"`  // decoded frame size
	Quality     int          `json:"quality"`
	Encoding    EncodingMode `json:"encoding"`
	Chunked     bool         `json:"chunked"`
	TotalChunks int          `json:"total_chunks,omitempty"`
}

// CaptureTimestamp converts the peer-clock capture time to time.Time.
func (m FrameMetadata) CaptureTimestamp() time.Time {
	sec := int64(m.CaptureTime)
	nsec := int64((m.CaptureTime - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// FrameAssembly tracks a chunked frame being reassembled. Chunks may
// arrive in any order; placement is by index, never by arrival order.
type FrameAssembly struct {
	Meta      FrameMetadata
	ArrivedAt time.Time

	chunks   map[int][]byte
	received int
}

// NewFrameAssembly creates the assembly state for chunked metadata.
func NewFrameAssembly(meta FrameMetadata, now time.Time) *FrameAssembly {
	return &FrameAssembly{
		Meta:      meta,
		ArrivedAt: now,
		chunks:    make(map[int][]byte, meta.TotalChunks),
	}
}

// AddChunk stores chunk bytes at the given index and reports whether
// the index was seen for the first time. Duplicate indices overwrite
// without double-counting; out-of-range indices are rejected.
func (a *FrameAssembly) AddChunk(index int, data []byte) (first bool, err error) {
	if index < 0 || index >= a.Meta.TotalChunks {
		return false, fmt.Errorf("chunk index %d out of range [0,%d)", index, a.Meta.TotalChunks)
	}
	_, seen := a.chunks[index]
	a.chunks[index] = data
	if !seen {
		a.received++
	}
	return !seen, nil
}

// Received returns the count of distinct chunk indices present.
func (a *FrameAssembly) Received() int {
	return a.received
}

// Complete reports whether every expected chunk has arrived.
func (a *FrameAssembly) Complete() bool {
	return a.received == a.Meta.TotalChunks
}

// Assemble concatenates chunk payloads strictly in index order and
// fails if any expected index is missing. The result is still in its
// wire encoding; the size check against TotalSize happens after the
// payload is decoded.
func (a *FrameAssembly) Assemble() ([]byte, error) {
	total := 0
	for i := 0; i < a.Meta.TotalChunks; i++ {
		chunk, ok := a.chunks[i]
		if !ok {
			return nil, fmt.Errorf("frame %d: missing chunk %d of %d", a.Meta.FrameID, i, a.Meta.TotalChunks)
		}
		total += len(chunk)
	}

	buf := make([]byte, 0, total)
	for i := 0; i < a.Meta.TotalChunks; i++ {
		buf = append(buf, a.chunks[i]...)
	}
	return buf, nil
}
