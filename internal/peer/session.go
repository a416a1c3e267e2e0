// Package peer implements the sending side of the frame transport: a
// session registry, the per-session control handling, and the paced
// frame sender. One Session corresponds to one connected client.
package peer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
	"framelink/internal/infrastructure/monitoring"
	"framelink/internal/wire"
	"framelink/pkg/utils"
)

// Session is one connected client. Control handlers and the sender
// goroutine touch it concurrently; all mutable state sits behind mu,
// and every wire write goes through writeMu so that a metadata
// message and its binary payload are never split by another write.
type Session struct {
	ID string

	log     *zap.SugaredLogger
	conn    ports.Conn
	metrics *monitoring.PrometheusCollector

	writeMu sync.Mutex

	mu          sync.Mutex
	settings    domain.StreamSettings
	connectedAt time.Time
	framesSent  uint64
	chunksSent  uint64
	bytesSent   uint64
	sender      *sender
}

// NewSession creates a session with the daemon's default stream
// settings. The settings become authoritative for this client and
// change only through control messages.
func NewSession(id string, conn ports.Conn, defaults domain.StreamSettings, metrics *monitoring.PrometheusCollector, log *zap.SugaredLogger) *Session {
	return &Session{
		ID:          id,
		log:         log,
		conn:        conn,
		metrics:     metrics,
		settings:    defaults,
		connectedAt: time.Now(),
	}
}

// Settings returns a copy of the authoritative stream settings.
func (s *Session) Settings() domain.StreamSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Streaming reports whether a sender is currently running.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender != nil
}

func (s *Session) updateSettings(apply func(*domain.StreamSettings)) domain.StreamSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.settings)
	return s.settings
}

// StartStream starts the sender with the current settings, replacing
// a running sender if the client restarts the stream.
func (s *Session) StartStream(source ports.FrameSource) {
	s.mu.Lock()
	old := s.sender
	s.mu.Unlock()
	if old != nil {
		old.stop()
	}

	sd := newSender(s, source)

	s.mu.Lock()
	s.sender = sd
	s.mu.Unlock()

	sd.start()
	if s.metrics != nil {
		s.metrics.StreamStarted()
	}
	s.log.Infow("stream started", "client_id", s.ID)
}

// StopStream stops the sender if one is running and reports whether
// it was.
func (s *Session) StopStream() bool {
	s.mu.Lock()
	sd := s.sender
	s.sender = nil
	s.mu.Unlock()

	if sd == nil {
		return false
	}
	sd.stop()
	if s.metrics != nil {
		s.metrics.StreamStopped()
	}
	s.log.Infow("stream stopped", "client_id", s.ID)
	return true
}

// senderStopped clears the sender slot when the send loop exits on
// its own, e.g. after a transport write failure.
func (s *Session) senderStopped(sd *sender) {
	s.mu.Lock()
	active := s.sender == sd
	if active {
		s.sender = nil
	}
	s.mu.Unlock()
	if active && s.metrics != nil {
		s.metrics.StreamStopped()
	}
}

// Close stops streaming and closes the transport.
func (s *Session) Close() {
	s.StopStream()
	s.conn.Close()
}

func (s *Session) recordFrame(wireBytes, chunks int) {
	s.mu.Lock()
	s.framesSent++
	s.bytesSent += uint64(wireBytes)
	if chunks > 0 {
		s.chunksSent += uint64(chunks)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FrameSent(wireBytes, chunks)
	}
}

// Stats snapshots the session counters for a stream_stats answer.
func (s *Session) Stats(now time.Time) wire.StreamStatsPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.StreamStatsPayload{
		ClientID:       s.ID,
		Streaming:      s.sender != nil,
		FramesSent:     s.framesSent,
		ChunksSent:     s.chunksSent,
		BytesSent:      s.bytesSent,
		ConnectionTime: now.Sub(s.connectedAt).Seconds(),
		Timestamp:      utils.UnixSeconds(now),
	}
}

// sendEnvelope marshals and writes one control/metadata message.
func (s *Session) sendEnvelope(msgType string, payload interface{}) error {
	data, err := wire.Encode(msgType, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(ports.Message{Data: data})
}

// sendPaired writes a metadata envelope and its binary payload as one
// unit. Holding writeMu across both writes keeps the pairing intact
// against concurrent control acknowledgements.
func (s *Session) sendPaired(envelope, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(ports.Message{Data: envelope}); err != nil {
		return err
	}
	return s.conn.WriteMessage(ports.Message{Binary: true, Data: payload})
}

type pinger interface {
	Ping() error
}

// Ping sends a transport-level keepalive when the connection supports
// one. In-memory test connections do not, which is fine.
func (s *Session) Ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if p, ok := s.conn.(pinger); ok {
		return p.Ping()
	}
	return nil
}

// Registry tracks live sessions by client ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns stats for every live session, for the HTTP API.
func (r *Registry) Snapshot(now time.Time) []wire.StreamStatsPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.StreamStatsPayload, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Stats(now))
	}
	return out
}
