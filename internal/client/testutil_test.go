package client

import (
	"context"
	"fmt"
	"sync"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
	"framelink/internal/wire"
)

// memConn is one end of an in-memory message pipe.
type memConn struct {
	recv <-chan ports.Message
	send chan<- ports.Message
	done chan struct{}
	once *sync.Once
}

func newConnPair() (client, peer *memConn) {
	c2p := make(chan ports.Message, 128)
	p2c := make(chan ports.Message, 128)
	done := make(chan struct{})
	once := &sync.Once{}
	client = &memConn{recv: p2c, send: c2p, done: done, once: once}
	peer = &memConn{recv: c2p, send: p2c, done: done, once: once}
	return client, peer
}

func (c *memConn) ReadMessage() (ports.Message, error) {
	select {
	case m := <-c.recv:
		return m, nil
	case <-c.done:
		return ports.Message{}, fmt.Errorf("connection closed")
	}
}

func (c *memConn) WriteMessage(m ports.Message) error {
	select {
	case c.send <- m:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

func (c *memConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// sendEnvelope writes a typed control message from the peer side.
func (c *memConn) sendEnvelope(t testingT, msgType string, payload interface{}) {
	data, err := wire.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	if err := c.WriteMessage(ports.Message{Data: data}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func (c *memConn) sendBinary(t testingT, data []byte) {
	if err := c.WriteMessage(ports.Message{Binary: true, Data: data}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
}

type testingT interface {
	Fatalf(format string, args ...interface{})
}

// scriptDialer fails its first `failures` dials, then hands out
// in-memory connection pairs, delivering the peer end on PeerConns.
type scriptDialer struct {
	mu        sync.Mutex
	failures  int
	dialCount int
	PeerConns chan *memConn
}

func newScriptDialer(failures int) *scriptDialer {
	return &scriptDialer{failures: failures, PeerConns: make(chan *memConn, 16)}
}

func (d *scriptDialer) Dial(_ context.Context) (ports.Conn, error) {
	d.mu.Lock()
	d.dialCount++
	n := d.dialCount
	d.mu.Unlock()
	if n <= d.failures {
		return nil, fmt.Errorf("dial refused (attempt %d)", n)
	}
	clientEnd, peerEnd := newConnPair()
	d.PeerConns <- peerEnd
	return clientEnd, nil
}

func (d *scriptDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

// recordRenderer captures rendered frames.
type recordRenderer struct {
	mu     sync.Mutex
	frames [][]byte
	metas  []domain.FrameMetadata
}

func (r *recordRenderer) Render(payload []byte, meta domain.FrameMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.frames = append(r.frames, cp)
	r.metas = append(r.metas, meta)
}

func (r *recordRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordRenderer) last() ([]byte, domain.FrameMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil, domain.FrameMetadata{}
	}
	return r.frames[len(r.frames)-1], r.metas[len(r.metas)-1]
}

// recordStatus captures status strings and surfaced stream errors.
type recordStatus struct {
	mu       sync.Mutex
	statuses []string
	errors   []string
}

func (s *recordStatus) Status(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, msg)
}

func (s *recordStatus) StreamError(code, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, code+": "+msg)
}

func (s *recordStatus) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.statuses))
	copy(out, s.statuses)
	return out
}

func (s *recordStatus) streamErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errors))
	copy(out, s.errors)
	return out
}
