package peer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
	"framelink/internal/wire"
	apperrors "framelink/pkg/errors"
	"framelink/pkg/utils"
)

// sender is the per-session frame loop. It pulls frames from the
// source, paces them to the target fps, applies the wire encoding,
// and splits oversized payloads into chunks. Frame IDs are assigned
// here, monotonically per session.
type sender struct {
	session *Session
	source  ports.FrameSource

	cancel context.CancelFunc
	done   chan struct{}

	nextFrameID domain.FrameID
}

func newSender(s *Session, source ports.FrameSource) *sender {
	return &sender{
		session: s,
		source:  source,
		done:    make(chan struct{}),
	}
}

func (sd *sender) start() {
	ctx, cancel := context.WithCancel(context.Background())
	sd.cancel = cancel
	go sd.run(ctx)
}

// stop cancels the loop and waits for it to drain.
func (sd *sender) stop() {
	sd.cancel()
	<-sd.done
}

func (sd *sender) run(ctx context.Context) {
	defer close(sd.done)
	defer sd.session.senderStopped(sd)

	settings := sd.session.Settings()
	fpsLimiter := rate.NewLimiter(rate.Limit(settings.TargetFPS), 1)
	byteLimiter := newByteLimiter(settings.MaxBitrateKbps)

	for {
		if err := fpsLimiter.Wait(ctx); err != nil {
			return
		}

		// Settings may change mid-stream through control messages;
		// re-read them every iteration and retune the limiters.
		settings = sd.session.Settings()
		if lim := rate.Limit(settings.TargetFPS); fpsLimiter.Limit() != lim {
			fpsLimiter.SetLimit(lim)
		}
		byteLimiter.retune(settings.MaxBitrateKbps)

		frame, err := sd.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sd.session.log.Warnw("frame source failed",
				"client_id", sd.session.ID, "error", err)
			sd.session.sendEnvelope(wire.TypeStreamError, wire.StreamErrorPayload{
				Error: fmt.Sprintf("frame capture failed: %v", err),
				Code:  string(apperrors.ErrCodeStreamError),
			})
			if sd.session.metrics != nil {
				sd.session.metrics.StreamError(string(apperrors.ErrCodeStreamError))
			}
			continue
		}

		if err := sd.sendFrame(ctx, settings, frame, byteLimiter); err != nil {
			if ctx.Err() != nil {
				return
			}
			sd.session.log.Infow("frame send failed, stopping stream",
				"client_id", sd.session.ID, "error", err)
			return
		}
	}
}

func (sd *sender) sendFrame(ctx context.Context, settings domain.StreamSettings, frame ports.SourceFrame, bl *byteLimiter) error {
	encoded, err := wire.EncodePayload(settings.EncodingMode, frame.Data)
	if err != nil {
		return err
	}

	if err := bl.waitBytes(ctx, len(encoded)); err != nil {
		return err
	}

	quality := frame.Quality
	if quality == 0 {
		quality = settings.Quality
	}

	meta := domain.FrameMetadata{
		FrameID:     sd.nextFrameID,
		CaptureTime: utils.UnixSeconds(frame.CaptureTime),
		TotalSize:   len(frame.Data),
		Quality:     quality,
		Encoding:    settings.EncodingMode,
	}
	sd.nextFrameID++

	if !settings.ChunkingEnabled || len(encoded) <= settings.ChunkSizeBytes {
		env, err := wire.Encode(wire.TypeFrameMeta, meta)
		if err != nil {
			return err
		}
		if err := sd.session.sendPaired(env, encoded); err != nil {
			return err
		}
		sd.session.recordFrame(len(encoded), 0)
		return nil
	}

	chunks := splitPayload(encoded, settings.ChunkSizeBytes)
	meta.Chunked = true
	meta.TotalChunks = len(chunks)

	if err := sd.session.sendEnvelope(wire.TypeChunkedFrameMeta, meta); err != nil {
		return err
	}
	for i, chunk := range chunks {
		env, err := wire.Encode(wire.TypeChunkMeta, wire.ChunkRef{
			FrameID:    meta.FrameID,
			ChunkIndex: i,
		})
		if err != nil {
			return err
		}
		if err := sd.session.sendPaired(env, chunk); err != nil {
			return err
		}
	}
	sd.session.recordFrame(len(encoded), len(chunks))
	return nil
}

// splitPayload cuts an encoded payload into size-byte chunks; the
// last chunk carries the remainder.
func splitPayload(data []byte, size int) [][]byte {
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// byteLimiter caps the wire byte rate when a max bitrate is set.
// 1 kbit/s of budget is 125 bytes/s.
type byteLimiter struct {
	kbps int
	lim  *rate.Limiter
}

func newByteLimiter(kbps int) *byteLimiter {
	bl := &byteLimiter{}
	bl.retune(kbps)
	return bl
}

func (bl *byteLimiter) retune(kbps int) {
	if kbps == bl.kbps && (kbps == 0 || bl.lim != nil) {
		return
	}
	bl.kbps = kbps
	if kbps <= 0 {
		bl.lim = nil
		return
	}
	bytesPerSec := kbps * 125
	// Burst of one second's budget; larger frames wait in pieces.
	bl.lim = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

func (bl *byteLimiter) waitBytes(ctx context.Context, n int) error {
	if bl.lim == nil {
		return nil
	}
	burst := bl.lim.Burst()
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := bl.lim.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}
