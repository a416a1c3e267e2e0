// Package transport binds the message-oriented connection ports to
// gorilla/websocket.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"framelink/internal/core/ports"
)

// WebSocketDialer dials the peer's video endpoint.
type WebSocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// NewWebSocketDialer builds a dialer for the given ws:// URL.
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context) (ports.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.URL, err)
	}
	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

// NewServerConn wraps an already-upgraded server-side connection.
// Read deadlines stay with the caller; writes get the given timeout.
func NewServerConn(conn *websocket.Conn, writeTimeout time.Duration) ports.Conn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

// wsConn adapts a websocket connection to ports.Conn. Text messages
// carry JSON envelopes, binary messages carry frame/chunk payloads.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadMessage() (ports.Message, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return ports.Message{}, err
		}
		switch msgType {
		case websocket.TextMessage:
			return ports.Message{Data: data}, nil
		case websocket.BinaryMessage:
			return ports.Message{Binary: true, Data: data}, nil
		default:
			// Control frames are handled by gorilla internally;
			// anything else is skipped.
		}
	}
}

func (c *wsConn) WriteMessage(m ports.Message) error {
	msgType := websocket.TextMessage
	if m.Binary {
		msgType = websocket.BinaryMessage
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(msgType, m.Data)
}

// Ping sends a websocket ping control frame. The caller serializes
// Ping with WriteMessage; gorilla connections allow one writer.
func (c *wsConn) Ping() error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
