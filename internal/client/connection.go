package client

import (
	"context"
	"fmt"
	"time"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
)

// connect drives the Disconnected -> Connecting transition. explicit
// marks a user-initiated connect, which resets the retry budget and
// cancels any scheduled automatic attempt; reconnect-timer attempts
// pass explicit=false so the budget keeps counting.
func (c *Client) connect(explicit bool) {
	if explicit {
		c.retryCount = 0
		c.cancelReconnect()
	}
	if c.state != domain.StateDisconnected {
		// Idempotent: connecting or connected already.
		return
	}

	c.state = domain.StateConnecting
	c.connGen++
	gen := c.connGen
	c.announce("connecting to peer")

	go func() {
		conn, err := c.dialer.Dial(context.Background())
		c.post(func() { c.onDialResult(gen, conn, err) })
	}()
}

func (c *Client) onDialResult(gen int, conn ports.Conn, err error) {
	if gen != c.connGen || c.state != domain.StateConnecting {
		// A disconnect or newer connect superseded this attempt.
		if err == nil && conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		c.state = domain.StateDisconnected
		c.announce(fmt.Sprintf("connection attempt failed: %v", err))
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.state = domain.StateConnected
	c.retryCount = 0
	c.announce("connected")
	c.telemetry.start()

	go c.readLoop(gen, conn)
}

// readLoop pumps inbound messages onto the event loop until the
// connection dies.
func (c *Client) readLoop(gen int, conn ports.Conn) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			c.post(func() { c.onTransportClosed(gen, err) })
			return
		}
		if !c.post(func() { c.handleInbound(gen, msg) }) {
			return
		}
	}
}

// onTransportClosed handles an unexpected transport-level disconnect.
// Explicit disconnects bump connGen first, so their reader errors
// arrive stale and are ignored here.
func (c *Client) onTransportClosed(gen int, err error) {
	if gen != c.connGen || c.state != domain.StateConnected {
		return
	}

	c.log.Warnw("transport closed unexpectedly", "error", err)
	c.conn.Close()
	c.conn = nil
	c.state = domain.StateDisconnected
	c.stopLocalStream()
	c.telemetry.stop()
	c.announce("connection lost")
	c.scheduleReconnect()
}

// scheduleReconnect applies the linear-backoff policy. Exhausting the
// retry budget is the terminal failure for this subsystem; only an
// explicit Connect recovers from it.
func (c *Client) scheduleReconnect() {
	if c.retryCount >= c.maxRetries {
		c.announce(fmt.Sprintf("connection failed after %d attempts", c.maxRetries))
		return
	}

	c.retryCount++
	delay := c.baseDelay * time.Duration(c.retryCount)
	c.announce(fmt.Sprintf("reconnecting in %s (attempt %d/%d)", delay, c.retryCount, c.maxRetries))
	c.reconnectTimer = c.sched.Schedule(delay, func() {
		c.post(func() {
			c.reconnectTimer = nil
			c.connect(false)
		})
	})
}

func (c *Client) cancelReconnect() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// disconnectLocked is the explicit teardown path: no reconnection,
// all in-flight assembly state and timers cleared.
func (c *Client) disconnectLocked() {
	c.cancelReconnect()
	c.connGen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stopLocalStream()
	c.telemetry.stop()
	if c.state != domain.StateDisconnected {
		c.state = domain.StateDisconnected
		c.announce("disconnected")
	}
}

// announce emits a human-readable status transition, the only
// externally visible effect of the connection manager.
func (c *Client) announce(msg string) {
	c.log.Infow("connection status", "status", msg, "state", c.state.String())
	c.status.Status(msg)
}
