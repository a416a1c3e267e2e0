package ports

import (
	"context"
	"time"

	"framelink/internal/core/domain"
)

// Message is one transport message: either a text control/metadata
// envelope or a binary payload.
type Message struct {
	Binary bool
	Data   []byte
}

// Conn is a message-oriented connection to the peer. Messages are
// delivered in the order they were sent on the wire; the transport
// gives no guarantee beyond that.
type Conn interface {
	// ReadMessage blocks until the next message or a transport error.
	ReadMessage() (Message, error)
	WriteMessage(m Message) error
	Close() error
}

// Dialer establishes connections to the peer. The client core never
// touches websockets directly; tests substitute an in-memory dialer.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Renderer consumes complete, decoded frame payloads. This is the
// boundary to the display layer: the transport core never interprets
// the bytes it hands over.
type Renderer interface {
	Render(payload []byte, meta domain.FrameMetadata)
}

// StatusSink receives human-readable connection status transitions
// and peer-reported stream errors.
type StatusSink interface {
	Status(msg string)
	StreamError(code, msg string)
}

// FrameSource produces opaque encoded frames on the peer side. The
// capture/encode pipeline behind it is an external collaborator.
type FrameSource interface {
	// NextFrame blocks until a frame is available or ctx is done.
	NextFrame(ctx context.Context) (SourceFrame, error)
}

// SourceFrame is one encoded image ready for transmission.
type SourceFrame struct {
	Data        []byte
	CaptureTime time.Time
	Quality     int
}
