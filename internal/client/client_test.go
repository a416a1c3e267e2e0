package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"framelink/internal/core/domain"
	"framelink/internal/wire"
	"framelink/pkg/timer"
)

func defaultTestSettings() domain.StreamSettings {
	return domain.StreamSettings{
		CaptureIndex:    0,
		Width:           1920,
		Height:          1080,
		TargetFPS:       60,
		Quality:         85,
		ChunkingEnabled: true,
		ChunkSizeBytes:  32768,
		EncodingMode:    domain.EncodingBinary,
	}
}

func newTestClient(t *testing.T, dialer *scriptDialer, sched timer.Scheduler) (*Client, *recordRenderer, *recordStatus) {
	t.Helper()
	renderer := &recordRenderer{}
	status := &recordStatus{}
	c, err := New(Options{
		Dialer:    dialer,
		Renderer:  renderer,
		Status:    status,
		Scheduler: sched,
		Logger:    zap.NewNop().Sugar(),
		Settings:  defaultTestSettings(),
		Reconnect: ReconnectPolicy{MaxRetries: 3, BaseDelay: time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, renderer, status
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == domain.StateConnected
	}, 2*time.Second, 2*time.Millisecond)
}

func peerConn(t *testing.T, dialer *scriptDialer) *memConn {
	t.Helper()
	select {
	case conn := <-dialer.PeerConns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no peer connection established")
		return nil
	}
}

func singleMeta(id domain.FrameID, size int, mode domain.EncodingMode) domain.FrameMetadata {
	return domain.FrameMetadata{
		FrameID:     id,
		CaptureTime: float64(time.Now().Unix()),
		TotalSize:   size,
		Quality:     85,
		Encoding:    mode,
		Chunked:     false,
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, _, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())

	assert.Equal(t, 1, dialer.calls())
}

func TestSingleFrameDelivery(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, renderer, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	payload := []byte("opaque-jpeg-bytes")
	peer.sendEnvelope(t, wire.TypeFrameMeta, singleMeta(1, len(payload), domain.EncodingBinary))
	peer.sendBinary(t, payload)

	require.Eventually(t, func() bool { return renderer.count() == 1 }, time.Second, 2*time.Millisecond)
	got, meta := renderer.last()
	assert.Equal(t, payload, got)
	assert.Equal(t, domain.FrameID(1), meta.FrameID)
	assert.Equal(t, uint64(1), c.Telemetry().FramesRendered)
}

func TestChunkedFrameDeliveredOutOfOrder(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, renderer, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	payload := make([]byte, 350)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	meta, chunks := chunkedMeta(5, payload, 100)
	peer.sendEnvelope(t, wire.TypeChunkedFrameMeta, meta)
	for _, idx := range []int{3, 0, 2, 1} {
		peer.sendEnvelope(t, wire.TypeChunkMeta, wire.ChunkRef{FrameID: 5, ChunkIndex: idx})
		peer.sendBinary(t, chunks[idx])
	}

	require.Eventually(t, func() bool { return renderer.count() == 1 }, time.Second, 2*time.Millisecond)
	got, _ := renderer.last()
	assert.Equal(t, payload, got)
	assert.Equal(t, uint64(4), c.Telemetry().ChunksReceived)
}

func TestEncodingModeSwitchGracePeriod(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, renderer, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	require.NoError(t, c.SetEncodingMode(domain.EncodingBase64))

	// The peer has not acked yet: a binary-tagged frame in flight
	// must still decode as binary.
	payload := []byte{0x00, 0xff, 0x42, 0x99}
	peer.sendEnvelope(t, wire.TypeFrameMeta, singleMeta(1, len(payload), domain.EncodingBinary))
	peer.sendBinary(t, payload)

	require.Eventually(t, func() bool { return renderer.count() == 1 }, time.Second, 2*time.Millisecond)
	got, _ := renderer.last()
	assert.Equal(t, payload, got)
	assert.Equal(t, domain.EncodingBinary, c.Settings().EncodingMode)

	// Ack lands; subsequent frames are tagged and decoded base64.
	peer.sendEnvelope(t, wire.TypeEncodingModeChanged, wire.SetEncodingModePayload{Mode: domain.EncodingBase64})
	require.Eventually(t, func() bool {
		return c.Settings().EncodingMode == domain.EncodingBase64
	}, time.Second, 2*time.Millisecond)

	encoded, err := wire.EncodePayload(domain.EncodingBase64, payload)
	require.NoError(t, err)
	peer.sendEnvelope(t, wire.TypeFrameMeta, singleMeta(2, len(payload), domain.EncodingBase64))
	peer.sendBinary(t, encoded)

	require.Eventually(t, func() bool { return renderer.count() == 2 }, time.Second, 2*time.Millisecond)
	got, _ = renderer.last()
	assert.Equal(t, payload, got)
}

func TestStreamStoppedClearsPendingWithoutLoss(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, renderer, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	// Three frames stuck mid-assembly.
	for id := domain.FrameID(1); id <= 3; id++ {
		meta, chunks := chunkedMeta(id, make([]byte, 300), 100)
		peer.sendEnvelope(t, wire.TypeChunkedFrameMeta, meta)
		peer.sendEnvelope(t, wire.TypeChunkMeta, wire.ChunkRef{FrameID: id, ChunkIndex: 0})
		peer.sendBinary(t, chunks[0])
	}
	require.Eventually(t, func() bool {
		return c.Telemetry().ChunksReceived == 3
	}, time.Second, 2*time.Millisecond)

	peer.sendEnvelope(t, wire.TypeStreamStopped, wire.StreamStoppedPayload{Timestamp: 42})
	require.Eventually(t, func() bool {
		pending := -1
		c.call(func() { pending = c.reasm.pendingCount() })
		return pending == 0
	}, time.Second, 2*time.Millisecond)

	// Past every deadline: no timeout transition may fire after stop.
	sched.Advance(30 * time.Second)
	assert.Equal(t, uint64(0), c.Telemetry().ChunksLost)
	assert.Equal(t, 0, renderer.count())
}

func TestPayloadWithoutMetadataIsAnomaly(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, renderer, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	peer.sendBinary(t, []byte("orphan payload"))

	require.Eventually(t, func() bool {
		return c.Telemetry().Anomalies == 1
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, renderer.count())
}

func TestStreamErrorSurfacedNotFatal(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, _, status := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	peer.sendEnvelope(t, wire.TypeStreamError, wire.StreamErrorPayload{
		Error: "failed to start camera", Code: "CAMERA_START_FAILED",
	})

	require.Eventually(t, func() bool {
		return len(status.streamErrors()) == 1
	}, time.Second, 2*time.Millisecond)
	assert.Contains(t, status.streamErrors()[0], "CAMERA_START_FAILED")
	// The connection survives a peer-reported stream error.
	assert.Equal(t, domain.StateConnected, c.State())
}

func TestSettingsMirrorFollowsAcks(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, _, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	peer.sendEnvelope(t, wire.TypeQualityUpdated, wire.UpdateQualityPayload{Quality: 60})
	peer.sendEnvelope(t, wire.TypeFPSUpdated, wire.UpdateFPSPayload{FPS: 15})
	peer.sendEnvelope(t, wire.TypeResolutionUpdated, wire.UpdateResolutionPayload{Width: 640, Height: 480})
	peer.sendEnvelope(t, wire.TypeMaxBitrateUpdated, wire.SetMaxBitratePayload{MaxBitrateKbps: 2500})

	require.Eventually(t, func() bool {
		s := c.Settings()
		return s.Quality == 60 && s.TargetFPS == 15 && s.Width == 640 && s.MaxBitrateKbps == 2500
	}, time.Second, 2*time.Millisecond)
}

func TestStreamStartedResetsCountersAndMirror(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, renderer, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	payload := []byte("frame")
	peer.sendEnvelope(t, wire.TypeFrameMeta, singleMeta(1, len(payload), domain.EncodingBinary))
	peer.sendBinary(t, payload)
	require.Eventually(t, func() bool { return renderer.count() == 1 }, time.Second, 2*time.Millisecond)

	effective := defaultTestSettings()
	effective.Quality = 70
	peer.sendEnvelope(t, wire.TypeStreamStarted, wire.StreamStartedPayload{Settings: effective, Timestamp: 99})

	require.Eventually(t, func() bool {
		return c.Settings().Quality == 70 && c.Telemetry().FramesRendered == 0
	}, time.Second, 2*time.Millisecond)
}

func TestSizeMismatchRejectsFrame(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, renderer, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	meta := singleMeta(1, 999, domain.EncodingBinary) // wrong announced size
	peer.sendEnvelope(t, wire.TypeFrameMeta, meta)
	peer.sendBinary(t, []byte("short"))

	require.Eventually(t, func() bool {
		return c.Telemetry().Anomalies == 1
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, renderer.count())
}

func TestPeerStatsRoundTrip(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, _, _ := newTestClient(t, dialer, sched)

	require.NoError(t, c.Connect())
	waitConnected(t, c)
	peer := peerConn(t, dialer)

	require.NoError(t, c.RequestStats())
	peer.sendEnvelope(t, wire.TypeStreamStats, wire.StreamStatsPayload{
		ClientID: "abc", Streaming: true, FramesSent: 120, ChunksSent: 840,
	})

	require.Eventually(t, func() bool {
		return c.PeerStats().FramesSent == 120
	}, time.Second, 2*time.Millisecond)
}

func TestCommandsRequireConnection(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, _, _ := newTestClient(t, dialer, sched)

	assert.ErrorIs(t, c.StartStream(), domain.ErrNotConnected)
	assert.ErrorIs(t, c.UpdateQuality(50), domain.ErrNotConnected)
}

func TestClosedClientReturnsErrClosed(t *testing.T) {
	dialer := newScriptDialer(0)
	sched := timer.NewFakeScheduler(time.Unix(0, 0))
	c, _, _ := newTestClient(t, dialer, sched)

	c.Close()
	assert.ErrorIs(t, c.Connect(), ErrClosed)
	assert.ErrorIs(t, c.StartStream(), ErrClosed)
}
