package client

import (
	"go.uber.org/zap"

	"framelink/internal/core/domain"
)

// singlePath pairs non-chunked frame metadata with the payload
// message that follows it. There is no timeout here: a metadata
// message with no payload just blocks this path until the next
// metadata overwrites it, which is fine because frames supersede
// each other.
type singlePath struct {
	log     *zap.SugaredLogger
	deliver func(encoded []byte, meta domain.FrameMetadata)
	pending *domain.FrameMetadata
}

func newSinglePath(log *zap.SugaredLogger, deliver func([]byte, domain.FrameMetadata)) *singlePath {
	return &singlePath{log: log, deliver: deliver}
}

func (p *singlePath) handleMeta(meta domain.FrameMetadata) {
	if p.pending != nil {
		p.log.Debugw("unpaired frame metadata superseded", "frame_id", p.pending.FrameID)
	}
	p.pending = &meta
}

func (p *singlePath) handlePayload(data []byte) {
	if p.pending == nil {
		p.log.Warnw("single-frame payload with no pending metadata, discarding", "size", len(data))
		return
	}
	meta := *p.pending
	p.pending = nil
	p.deliver(data, meta)
}

func (p *singlePath) reset() {
	p.pending = nil
}
