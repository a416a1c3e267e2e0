package peer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"framelink/internal/core/ports"
	"framelink/internal/wire"
)

// captureConn records every written message. Reads block until the
// conn is closed; peer-side tests drive handlers directly.
type captureConn struct {
	mu     sync.Mutex
	msgs   []ports.Message
	closed chan struct{}
	once   sync.Once
}

func newCaptureConn() *captureConn {
	return &captureConn{closed: make(chan struct{})}
}

func (c *captureConn) ReadMessage() (ports.Message, error) {
	<-c.closed
	return ports.Message{}, context.Canceled
}

func (c *captureConn) WriteMessage(m ports.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make([]byte, len(m.Data))
	copy(data, m.Data)
	c.msgs = append(c.msgs, ports.Message{Binary: m.Binary, Data: data})
	return nil
}

func (c *captureConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *captureConn) messages() []ports.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *captureConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// envelopeAt decodes the i-th captured message as a text envelope.
func envelopeAt(t *testing.T, msgs []ports.Message, i int) wire.Envelope {
	t.Helper()
	require.Greater(t, len(msgs), i)
	require.False(t, msgs[i].Binary, "message %d should be a text envelope", i)
	env, err := wire.Decode(msgs[i].Data)
	require.NoError(t, err)
	return env
}

// queueSource hands out queued frames and blocks when empty.
type queueSource struct {
	frames chan ports.SourceFrame
}

func newQueueSource(buffer int) *queueSource {
	return &queueSource{frames: make(chan ports.SourceFrame, buffer)}
}

func (s *queueSource) push(data []byte) {
	s.frames <- ports.SourceFrame{Data: data, CaptureTime: time.Now()}
}

func (s *queueSource) NextFrame(ctx context.Context) (ports.SourceFrame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-ctx.Done():
		return ports.SourceFrame{}, ctx.Err()
	}
}
