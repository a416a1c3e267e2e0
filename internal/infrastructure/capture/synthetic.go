// Package capture provides frame sources for the peer daemon. The
// real capture/encode pipeline is an external collaborator; the
// synthetic source stands in for it when the daemon runs without one.
package capture

import (
	"context"
	"time"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
)

// SyntheticSource produces deterministic pattern frames sized roughly
// like encoded camera frames at the configured resolution and
// quality. Pacing is left to the sender; NextFrame never blocks.
type SyntheticSource struct {
	width   int
	height  int
	quality int
	counter uint64
}

func NewSyntheticSource(settings domain.StreamSettings) *SyntheticSource {
	return &SyntheticSource{
		width:   settings.Width,
		height:  settings.Height,
		quality: settings.Quality,
	}
}

func (s *SyntheticSource) NextFrame(ctx context.Context) (ports.SourceFrame, error) {
	if err := ctx.Err(); err != nil {
		return ports.SourceFrame{}, err
	}

	data := make([]byte, s.frameSize())
	seed := s.counter
	s.counter++
	for i := range data {
		data[i] = byte(seed + uint64(i)*31)
	}

	return ports.SourceFrame{
		Data:        data,
		CaptureTime: time.Now(),
		Quality:     s.quality,
	}, nil
}

// frameSize approximates an encoded frame: raw pixel count divided by
// a compression factor that shrinks as quality drops.
func (s *SyntheticSource) frameSize() int {
	size := s.width * s.height / 10
	size = size * (s.quality + 20) / 120
	if size < 1024 {
		size = 1024
	}
	return size
}
