package client

import (
	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
	"framelink/internal/wire"
)

// handleInbound routes one transport message. Binary messages pair
// with the immediately preceding metadata message; text messages are
// typed envelopes.
func (c *Client) handleInbound(gen int, msg ports.Message) {
	if gen != c.connGen {
		return // message from a superseded connection
	}

	if msg.Binary {
		c.handlePayload(msg.Data)
		return
	}

	env, err := wire.Decode(msg.Data)
	if err != nil {
		c.telemetry.anomaly()
		c.log.Warnw("malformed inbound message", "error", err)
		return
	}
	c.handleEnvelope(env)
}

func (c *Client) handlePayload(data []byte) {
	switch c.expect {
	case expectSinglePayload:
		c.expect = expectNone
		c.single.handlePayload(data)
	case expectChunkPayload:
		c.expect = expectNone
		c.reasm.handleChunkPayload(c.pendingChunk, data)
	default:
		c.telemetry.anomaly()
		c.log.Warnw("payload with no pending metadata, discarding", "size", len(data))
	}
}

func (c *Client) handleEnvelope(env wire.Envelope) {
	switch env.Type {
	case wire.TypeConnectionStatus:
		var p wire.ConnectionStatusPayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.capabilities = p.Capabilities
		c.announce("peer ready")

	case wire.TypeStreamStarted:
		var p wire.StreamStartedPayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.settings = p.Settings
		c.streaming = true
		c.telemetry.reset()
		c.announce("stream started")

	case wire.TypeStreamStopped:
		c.stopLocalStream()
		c.announce("stream stopped")

	case wire.TypeFrameMeta:
		var meta domain.FrameMetadata
		if err := env.Unmarshal(&meta); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		if meta.Chunked {
			c.telemetry.anomaly()
			c.log.Warnw("chunked metadata on single-frame channel", "frame_id", meta.FrameID)
			return
		}
		c.single.handleMeta(meta)
		c.expect = expectSinglePayload

	case wire.TypeChunkedFrameMeta:
		var meta domain.FrameMetadata
		if err := env.Unmarshal(&meta); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		if !meta.Chunked || meta.TotalChunks <= 0 {
			c.telemetry.anomaly()
			c.log.Warnw("invalid chunked metadata", "frame_id", meta.FrameID, "total_chunks", meta.TotalChunks)
			return
		}
		c.reasm.handleChunkedMeta(meta)

	case wire.TypeChunkMeta:
		var ref wire.ChunkRef
		if err := env.Unmarshal(&ref); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.pendingChunk = ref
		c.expect = expectChunkPayload

	case wire.TypeResolutionUpdated:
		var p wire.UpdateResolutionPayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.settings.Width, c.settings.Height = p.Width, p.Height
		c.log.Infow("resolution updated", "width", p.Width, "height", p.Height)

	case wire.TypeQualityUpdated:
		var p wire.UpdateQualityPayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.settings.Quality = p.Quality
		c.log.Infow("quality updated", "quality", p.Quality)

	case wire.TypeFPSUpdated:
		var p wire.UpdateFPSPayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.settings.TargetFPS = p.FPS
		c.log.Infow("fps updated", "fps", p.FPS)

	case wire.TypeMaxBitrateUpdated:
		var p wire.SetMaxBitratePayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.settings.MaxBitrateKbps = p.MaxBitrateKbps
		c.log.Infow("max bitrate updated", "max_bitrate_kbps", p.MaxBitrateKbps)

	case wire.TypeEncodingModeChanged:
		var p wire.SetEncodingModePayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.settings.EncodingMode = c.modes.handleChanged(p.Mode)
		c.announce("encoding mode changed to " + string(p.Mode))

	case wire.TypeStreamStats:
		var p wire.StreamStatsPayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.peerStats = p
		c.log.Debugw("peer stats received", "frames_sent", p.FramesSent, "chunks_sent", p.ChunksSent)

	case wire.TypeStreamError:
		var p wire.StreamErrorPayload
		if err := env.Unmarshal(&p); err != nil {
			c.warnPayload(env.Type, err)
			return
		}
		c.log.Warnw("peer reported stream error", "code", p.Code, "error", p.Error)
		c.status.StreamError(p.Code, p.Error)

	default:
		c.telemetry.anomaly()
		c.log.Warnw("unknown message type", "type", env.Type)
	}
}

func (c *Client) warnPayload(msgType string, err error) {
	c.telemetry.anomaly()
	c.log.Warnw("bad payload", "type", msgType, "error", err)
}
