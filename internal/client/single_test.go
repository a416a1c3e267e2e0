package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"framelink/internal/core/domain"
)

func newTestSinglePath() (*singlePath, *[]domain.FrameMetadata, *[][]byte) {
	metas := &[]domain.FrameMetadata{}
	payloads := &[][]byte{}
	p := newSinglePath(zap.NewNop().Sugar(), func(data []byte, meta domain.FrameMetadata) {
		*payloads = append(*payloads, data)
		*metas = append(*metas, meta)
	})
	return p, metas, payloads
}

func TestSinglePathPairsMetaWithPayload(t *testing.T) {
	p, metas, payloads := newTestSinglePath()

	meta := domain.FrameMetadata{FrameID: 1, TotalSize: 3, Encoding: domain.EncodingBinary}
	p.handleMeta(meta)
	p.handlePayload([]byte{1, 2, 3})

	require.Len(t, *payloads, 1)
	assert.Equal(t, []byte{1, 2, 3}, (*payloads)[0])
	assert.Equal(t, domain.FrameID(1), (*metas)[0].FrameID)

	// The pending state is cleared after the pairing.
	p.handlePayload([]byte{9})
	assert.Len(t, *payloads, 1)
}

func TestSinglePathPayloadWithoutMetaDiscarded(t *testing.T) {
	p, _, payloads := newTestSinglePath()
	p.handlePayload([]byte{1, 2, 3})
	assert.Empty(t, *payloads)
}

func TestSinglePathMetaSupersedesUnpairedMeta(t *testing.T) {
	p, metas, payloads := newTestSinglePath()

	p.handleMeta(domain.FrameMetadata{FrameID: 1})
	p.handleMeta(domain.FrameMetadata{FrameID: 2})
	p.handlePayload([]byte{0xaa})

	require.Len(t, *payloads, 1)
	assert.Equal(t, domain.FrameID(2), (*metas)[0].FrameID)
}

func TestSinglePathReset(t *testing.T) {
	p, _, payloads := newTestSinglePath()

	p.handleMeta(domain.FrameMetadata{FrameID: 1})
	p.reset()
	p.handlePayload([]byte{1})

	assert.Empty(t, *payloads)
}
