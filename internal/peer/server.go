package peer

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
	"framelink/internal/infrastructure/monitoring"
	"framelink/internal/infrastructure/transport"
	"framelink/internal/wire"
	apperrors "framelink/pkg/errors"
	"framelink/pkg/tracing"
	"framelink/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SourceFactory opens a frame source for the given stream settings.
// The capture pipeline behind it is an external collaborator.
type SourceFactory func(settings domain.StreamSettings) (ports.FrameSource, error)

// Options configures the video endpoint server.
type Options struct {
	Registry     *Registry
	Sources      SourceFactory
	Defaults     domain.StreamSettings
	Capabilities domain.Capabilities
	Metrics      *monitoring.PrometheusCollector
	Logger       *zap.SugaredLogger

	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server accepts client connections on the video endpoint and runs
// the control loop for each session.
type Server struct {
	log      *zap.SugaredLogger
	registry *Registry
	sources  SourceFactory
	defaults domain.StreamSettings
	caps     domain.Capabilities
	metrics  *monitoring.PrometheusCollector

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewServer(opts Options) *Server {
	s := &Server{
		log:          opts.Logger,
		registry:     opts.Registry,
		sources:      opts.Sources,
		defaults:     opts.Defaults,
		caps:         opts.Capabilities,
		metrics:      opts.Metrics,
		pingInterval: opts.PingInterval,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 30 * time.Second
	}
	if s.readTimeout <= 0 {
		s.readTimeout = 60 * time.Second
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 10 * time.Second
	}
	return s
}

// HandleVideo upgrades the request and serves the session until the
// client goes away.
func (s *Server) HandleVideo(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	clientID := utils.GenerateClientID()
	sess := NewSession(clientID, transport.NewServerConn(ws, s.writeTimeout), s.defaults, s.metrics, s.log)

	s.registry.Add(sess)
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	ctx, span := tracing.TraceSession(r.Context(), clientID)
	defer span.End()
	defer func() {
		s.registry.Remove(clientID)
		sess.StopStream()
		if s.metrics != nil {
			s.metrics.SessionClosed()
		}
		s.log.Infow("client disconnected", "client_id", clientID)
	}()

	s.log.Infow("client connected", "client_id", clientID, "remote", r.RemoteAddr)

	if err := sess.sendEnvelope(wire.TypeConnectionStatus, wire.ConnectionStatusPayload{
		ClientID:     clientID,
		ServerTime:   utils.UnixSeconds(time.Now()),
		Capabilities: s.caps,
	}); err != nil {
		s.log.Warnw("failed to send connection status", "client_id", clientID, "error", err)
		return
	}

	s.serve(ctx, sess, ws)
}

// serve runs the per-session read/ping loop. A reader goroutine feeds
// decoded envelopes into a channel; the loop interleaves them with
// keepalive pings, exactly one handler at a time per session.
func (s *Server) serve(ctx context.Context, sess *Session, ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(s.readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	msgChan := make(chan wire.Envelope, 16)
	errChan := make(chan error, 1)

	go func() {
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				errChan <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.readTimeout))
			if msgType != websocket.TextMessage {
				s.log.Warnw("unexpected non-text message from client",
					"client_id", sess.ID, "ws_type", msgType, "size", len(data))
				continue
			}
			env, err := wire.Decode(data)
			if err != nil {
				s.log.Warnw("malformed control message", "client_id", sess.ID, "error", err)
				continue
			}
			msgChan <- env
		}
	}()

	for {
		select {
		case env := <-msgChan:
			if err := s.handleMessage(ctx, sess, env); err != nil {
				s.log.Infow("control message failed",
					"client_id", sess.ID, "type", env.Type, "error", err)
				s.sendStreamError(sess, err)
			}

		case <-pingTicker.C:
			if err := sess.Ping(); err != nil {
				s.log.Infow("ping failed", "client_id", sess.ID, "error", err)
				return
			}

		case err := <-errChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Infow("read failed", "client_id", sess.ID, "error", err)
			}
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, sess *Session, env wire.Envelope) error {
	_, span := tracing.TraceStreamMessage(ctx, env.Type, sess.ID)
	defer span.End()

	switch env.Type {
	case wire.TypeStartStream:
		return s.handleStartStream(sess, env)

	case wire.TypeStopStream:
		sess.StopStream()
		return sess.sendEnvelope(wire.TypeStreamStopped, wire.StreamStoppedPayload{
			Timestamp: utils.UnixSeconds(time.Now()),
		})

	case wire.TypeUpdateResolution:
		var p wire.UpdateResolutionPayload
		if err := env.Unmarshal(&p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "bad update_resolution payload")
		}
		if p.Width <= 0 || p.Height <= 0 {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "resolution must be positive")
		}
		width, height := clamp(p.Width, s.caps.MaxWidth), clamp(p.Height, s.caps.MaxHeight)
		sess.updateSettings(func(st *domain.StreamSettings) {
			st.Width, st.Height = width, height
		})
		return sess.sendEnvelope(wire.TypeResolutionUpdated, wire.UpdateResolutionPayload{
			Width: width, Height: height,
		})

	case wire.TypeUpdateQuality:
		var p wire.UpdateQualityPayload
		if err := env.Unmarshal(&p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "bad update_quality payload")
		}
		if p.Quality < 0 || p.Quality > 100 {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "quality must be between 0 and 100")
		}
		sess.updateSettings(func(st *domain.StreamSettings) {
			st.Quality = p.Quality
		})
		return sess.sendEnvelope(wire.TypeQualityUpdated, p)

	case wire.TypeUpdateFPS:
		var p wire.UpdateFPSPayload
		if err := env.Unmarshal(&p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "bad update_fps payload")
		}
		if p.FPS <= 0 {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "fps must be > 0")
		}
		fps := clamp(p.FPS, s.caps.MaxFPS)
		sess.updateSettings(func(st *domain.StreamSettings) {
			st.TargetFPS = fps
		})
		return sess.sendEnvelope(wire.TypeFPSUpdated, wire.UpdateFPSPayload{FPS: fps})

	case wire.TypeSetEncodingMode:
		var p wire.SetEncodingModePayload
		if err := env.Unmarshal(&p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "bad set_encoding_mode payload")
		}
		if !p.Mode.Valid() {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "unknown encoding mode "+string(p.Mode))
		}
		sess.updateSettings(func(st *domain.StreamSettings) {
			st.EncodingMode = p.Mode
		})
		s.log.Infow("encoding mode changed", "client_id", sess.ID, "mode", p.Mode)
		return sess.sendEnvelope(wire.TypeEncodingModeChanged, p)

	case wire.TypeSetMaxBitrate:
		var p wire.SetMaxBitratePayload
		if err := env.Unmarshal(&p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "bad set_max_bitrate payload")
		}
		if p.MaxBitrateKbps < 0 {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "max bitrate must be >= 0")
		}
		sess.updateSettings(func(st *domain.StreamSettings) {
			st.MaxBitrateKbps = p.MaxBitrateKbps
		})
		return sess.sendEnvelope(wire.TypeMaxBitrateUpdated, p)

	case wire.TypeChunkReceived:
		var ref wire.ChunkRef
		if err := env.Unmarshal(&ref); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "bad chunk_received payload")
		}
		if s.metrics != nil {
			s.metrics.ChunkAcked()
		}
		s.log.Debugw("chunk acknowledged",
			"client_id", sess.ID, "frame_id", ref.FrameID, "chunk_index", ref.ChunkIndex)
		return nil

	case wire.TypeGetStats:
		return sess.sendEnvelope(wire.TypeStreamStats, sess.Stats(time.Now()))

	default:
		s.log.Warnw("unknown message type", "client_id", sess.ID, "type", env.Type)
		return nil
	}
}

func (s *Server) handleStartStream(sess *Session, env wire.Envelope) error {
	settings := sess.Settings()
	if len(env.Payload) > 0 {
		if err := env.Unmarshal(&settings); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "bad start_stream payload")
		}
	}
	if err := settings.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid stream settings")
	}

	// Requests beyond the announced capabilities are clamped, and the
	// clamped values are what stream_started echoes back.
	settings.Width = clamp(settings.Width, s.caps.MaxWidth)
	settings.Height = clamp(settings.Height, s.caps.MaxHeight)
	settings.TargetFPS = clamp(settings.TargetFPS, s.caps.MaxFPS)

	effective := sess.updateSettings(func(st *domain.StreamSettings) {
		*st = settings
	})

	source, err := s.sources(effective)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStreamError, "failed to open frame source")
	}
	sess.StartStream(source)

	return sess.sendEnvelope(wire.TypeStreamStarted, wire.StreamStartedPayload{
		Settings:  effective,
		Timestamp: utils.UnixSeconds(time.Now()),
	})
}

func (s *Server) sendStreamError(sess *Session, err error) {
	code := string(apperrors.CodeOf(err))
	if s.metrics != nil {
		s.metrics.StreamError(code)
	}
	if sendErr := sess.sendEnvelope(wire.TypeStreamError, wire.StreamErrorPayload{
		Error: err.Error(),
		Code:  code,
	}); sendErr != nil {
		s.log.Warnw("failed to send stream error", "client_id", sess.ID, "error", sendErr)
	}
}

// clamp limits v to max when a positive max is announced.
func clamp(v, max int) int {
	if max > 0 && v > max {
		return max
	}
	return v
}
