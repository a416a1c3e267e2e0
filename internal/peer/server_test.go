package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
	"framelink/internal/wire"
	apperrors "framelink/pkg/errors"
)

func newTestServer() *Server {
	return NewServer(Options{
		Sources: func(domain.StreamSettings) (ports.FrameSource, error) {
			return newQueueSource(1), nil
		},
		Defaults:     testSettings(),
		Capabilities: domain.Capabilities{MaxWidth: 1920, MaxHeight: 1080, MaxFPS: 60},
		Logger:       zap.NewNop().Sugar(),
	})
}

func controlMessage(t *testing.T, msgType string, payload interface{}) wire.Envelope {
	t.Helper()
	data, err := wire.Encode(msgType, payload)
	require.NoError(t, err)
	env, err := wire.Decode(data)
	require.NoError(t, err)
	return env
}

func handle(t *testing.T, srv *Server, sess *Session, msgType string, payload interface{}) error {
	t.Helper()
	return srv.handleMessage(context.Background(), sess, controlMessage(t, msgType, payload))
}

func lastEnvelope(t *testing.T, conn *captureConn) wire.Envelope {
	t.Helper()
	msgs := conn.messages()
	require.NotEmpty(t, msgs)
	return envelopeAt(t, msgs, len(msgs)-1)
}

func TestStartStreamEchoesEffectiveSettings(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)
	defer sess.StopStream()

	requested := testSettings()
	requested.Width, requested.Height = 3840, 2160
	requested.TargetFPS = 120
	require.NoError(t, handle(t, srv, sess, wire.TypeStartStream, requested))

	env := lastEnvelope(t, conn)
	require.Equal(t, wire.TypeStreamStarted, env.Type)
	var started wire.StreamStartedPayload
	require.NoError(t, env.Unmarshal(&started))

	// Requests beyond capabilities come back clamped.
	assert.Equal(t, 1920, started.Settings.Width)
	assert.Equal(t, 1080, started.Settings.Height)
	assert.Equal(t, 60, started.Settings.TargetFPS)
	assert.Equal(t, started.Settings, sess.Settings())
	assert.True(t, sess.Streaming())
}

func TestStartStreamWithoutPayloadUsesDefaults(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)
	defer sess.StopStream()

	require.NoError(t, handle(t, srv, sess, wire.TypeStartStream, nil))

	var started wire.StreamStartedPayload
	require.NoError(t, lastEnvelope(t, conn).Unmarshal(&started))
	assert.Equal(t, testSettings(), started.Settings)
}

func TestStartStreamRejectsInvalidSettings(t *testing.T) {
	srv := newTestServer()
	sess := newTestSession(newCaptureConn())

	bad := testSettings()
	bad.Quality = 150
	err := handle(t, srv, sess, wire.TypeStartStream, bad)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
	assert.False(t, sess.Streaming())
}

func TestStopStreamAlwaysAcks(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	// Acked even when no stream is running.
	require.NoError(t, handle(t, srv, sess, wire.TypeStopStream, nil))
	assert.Equal(t, wire.TypeStreamStopped, lastEnvelope(t, conn).Type)

	require.NoError(t, handle(t, srv, sess, wire.TypeStartStream, nil))
	require.True(t, sess.Streaming())
	require.NoError(t, handle(t, srv, sess, wire.TypeStopStream, nil))
	assert.False(t, sess.Streaming())
	assert.Equal(t, wire.TypeStreamStopped, lastEnvelope(t, conn).Type)
}

func TestUpdateResolutionClampedAndAcked(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	require.NoError(t, handle(t, srv, sess, wire.TypeUpdateResolution,
		wire.UpdateResolutionPayload{Width: 2560, Height: 1440}))

	env := lastEnvelope(t, conn)
	require.Equal(t, wire.TypeResolutionUpdated, env.Type)
	var ack wire.UpdateResolutionPayload
	require.NoError(t, env.Unmarshal(&ack))
	assert.Equal(t, 1920, ack.Width)
	assert.Equal(t, 1080, ack.Height)
	assert.Equal(t, 1920, sess.Settings().Width)
}

func TestUpdateQualityValidation(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	err := handle(t, srv, sess, wire.TypeUpdateQuality, wire.UpdateQualityPayload{Quality: 101})
	require.Error(t, err)
	assert.Equal(t, 85, sess.Settings().Quality)

	require.NoError(t, handle(t, srv, sess, wire.TypeUpdateQuality, wire.UpdateQualityPayload{Quality: 50}))
	assert.Equal(t, wire.TypeQualityUpdated, lastEnvelope(t, conn).Type)
	assert.Equal(t, 50, sess.Settings().Quality)
}

func TestUpdateFPSClamped(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	require.NoError(t, handle(t, srv, sess, wire.TypeUpdateFPS, wire.UpdateFPSPayload{FPS: 144}))

	var ack wire.UpdateFPSPayload
	require.NoError(t, lastEnvelope(t, conn).Unmarshal(&ack))
	assert.Equal(t, 60, ack.FPS)
	assert.Equal(t, 60, sess.Settings().TargetFPS)
}

func TestSetEncodingMode(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	err := handle(t, srv, sess, wire.TypeSetEncodingMode,
		wire.SetEncodingModePayload{Mode: "gzip"})
	require.Error(t, err)
	assert.Equal(t, domain.EncodingBinary, sess.Settings().EncodingMode)

	require.NoError(t, handle(t, srv, sess, wire.TypeSetEncodingMode,
		wire.SetEncodingModePayload{Mode: domain.EncodingCompressed}))
	assert.Equal(t, wire.TypeEncodingModeChanged, lastEnvelope(t, conn).Type)
	assert.Equal(t, domain.EncodingCompressed, sess.Settings().EncodingMode)
}

func TestSetMaxBitrate(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	err := handle(t, srv, sess, wire.TypeSetMaxBitrate, wire.SetMaxBitratePayload{MaxBitrateKbps: -1})
	require.Error(t, err)

	require.NoError(t, handle(t, srv, sess, wire.TypeSetMaxBitrate, wire.SetMaxBitratePayload{MaxBitrateKbps: 4000}))
	assert.Equal(t, wire.TypeMaxBitrateUpdated, lastEnvelope(t, conn).Type)
	assert.Equal(t, 4000, sess.Settings().MaxBitrateKbps)
}

func TestGetStatsAnswers(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)
	sess.recordFrame(5000, 2)

	require.NoError(t, handle(t, srv, sess, wire.TypeGetStats, nil))

	env := lastEnvelope(t, conn)
	require.Equal(t, wire.TypeStreamStats, env.Type)
	var stats wire.StreamStatsPayload
	require.NoError(t, env.Unmarshal(&stats))
	assert.Equal(t, "client-1", stats.ClientID)
	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(5000), stats.BytesSent)
}

func TestChunkReceivedIsSilent(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	require.NoError(t, handle(t, srv, sess, wire.TypeChunkReceived,
		wire.ChunkRef{FrameID: 7, ChunkIndex: 3}))
	assert.Zero(t, conn.count())
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	require.NoError(t, handle(t, srv, sess, "warp_speed", nil))
	assert.Zero(t, conn.count())
}

func TestStreamErrorCarriesCode(t *testing.T) {
	srv := newTestServer()
	conn := newCaptureConn()
	sess := newTestSession(conn)

	srv.sendStreamError(sess, apperrors.New(apperrors.ErrCodeInvalidInput, "bad request"))

	env := lastEnvelope(t, conn)
	require.Equal(t, wire.TypeStreamError, env.Type)
	var p wire.StreamErrorPayload
	require.NoError(t, env.Unmarshal(&p))
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), p.Code)
	assert.Contains(t, p.Error, "bad request")
}

func TestServerDefaults(t *testing.T) {
	srv := NewServer(Options{})
	assert.Equal(t, 30*time.Second, srv.pingInterval)
	assert.Equal(t, 60*time.Second, srv.readTimeout)
	assert.Equal(t, 10*time.Second, srv.writeTimeout)
	assert.NotNil(t, srv.registry)
}
