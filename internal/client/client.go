// Package client implements the receiving side of the chunked
// real-time frame transport: connection lifecycle with bounded
// reconnection, the single-frame and chunked-frame delivery paths,
// encoding-mode negotiation and the telemetry loop.
//
// A Client is one logical stream session. All mutable state (the
// connection, the frame assembly map, the settings mirror) is owned
// by a single event-loop goroutine; inbound transport messages,
// timer expirations and public API calls are serialized onto it, so
// none of the state needs locking.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"framelink/internal/core/domain"
	"framelink/internal/core/ports"
	"framelink/internal/wire"
	"framelink/pkg/timer"
)

// ErrClosed is returned by API calls on a closed client.
var ErrClosed = errors.New("client closed")

// ReconnectPolicy bounds automatic reconnection after an unexpected
// transport failure. The delay grows linearly: BaseDelay * attempt.
type ReconnectPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// ReassemblyConfig tunes the chunk reassembler.
type ReassemblyConfig struct {
	// ChunkWaitTime is the per-frame deadline: an assembly that is
	// still incomplete this long after its metadata arrived is
	// discarded as lost.
	ChunkWaitTime time.Duration
	// SweepInterval and MaxPendingAge drive the periodic safety-net
	// sweep that catches entries whose per-frame timer failed.
	SweepInterval time.Duration
	MaxPendingAge time.Duration
	// AckSampleEvery sends a chunk_received ack for every Nth chunk.
	AckSampleEvery int
}

// TelemetryConfig tunes the telemetry collector.
type TelemetryConfig struct {
	BitrateWindow time.Duration
	FPSInterval   time.Duration
}

// Options configures a Client. Dialer, Renderer and Status are
// required; zero-valued policies fall back to protocol defaults.
type Options struct {
	Dialer    ports.Dialer
	Renderer  ports.Renderer
	Status    ports.StatusSink
	Scheduler timer.Scheduler
	Logger    *zap.SugaredLogger

	Settings   domain.StreamSettings
	Reconnect  ReconnectPolicy
	Reassembly ReassemblyConfig
	Telemetry  TelemetryConfig
}

type expectKind int

const (
	expectNone expectKind = iota
	expectSinglePayload
	expectChunkPayload
)

// Client is one stream session against a single peer.
type Client struct {
	log   *zap.SugaredLogger
	sched timer.Scheduler

	dialer   ports.Dialer
	renderer ports.Renderer
	status   ports.StatusSink

	tasks chan func()
	quit  chan struct{}
	once  sync.Once

	// Everything below is owned by the event loop.
	state          domain.ConnectionState
	conn           ports.Conn
	connGen        int
	retryCount     int
	maxRetries     int
	baseDelay      time.Duration
	reconnectTimer timer.Timer

	settings     domain.StreamSettings
	capabilities domain.Capabilities
	streaming    bool

	expect       expectKind
	pendingChunk wire.ChunkRef

	single    *singlePath
	reasm     *reassembler
	modes     *modeController
	telemetry *collector
	peerStats wire.StreamStatsPayload
}

// New builds a client session and starts its event loop.
func New(opts Options) (*Client, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("client: dialer is required")
	}
	if opts.Renderer == nil {
		return nil, fmt.Errorf("client: renderer is required")
	}
	if opts.Status == nil {
		return nil, fmt.Errorf("client: status sink is required")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timer.NewScheduler()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Reconnect.MaxRetries == 0 {
		opts.Reconnect.MaxRetries = 5
	}
	if opts.Reconnect.BaseDelay == 0 {
		opts.Reconnect.BaseDelay = time.Second
	}
	if opts.Reassembly.ChunkWaitTime == 0 {
		opts.Reassembly.ChunkWaitTime = time.Second
	}
	if opts.Reassembly.SweepInterval == 0 {
		opts.Reassembly.SweepInterval = 2 * time.Second
	}
	if opts.Reassembly.MaxPendingAge == 0 {
		opts.Reassembly.MaxPendingAge = 5 * time.Second
	}
	if opts.Reassembly.AckSampleEvery == 0 {
		opts.Reassembly.AckSampleEvery = 10
	}
	if opts.Telemetry.BitrateWindow == 0 {
		opts.Telemetry.BitrateWindow = 5 * time.Second
	}
	if opts.Telemetry.FPSInterval == 0 {
		opts.Telemetry.FPSInterval = time.Second
	}
	if opts.Settings.EncodingMode == "" {
		opts.Settings.EncodingMode = domain.EncodingBinary
	}

	c := &Client{
		log:        opts.Logger,
		sched:      opts.Scheduler,
		dialer:     opts.Dialer,
		renderer:   opts.Renderer,
		status:     opts.Status,
		tasks:      make(chan func(), 256),
		quit:       make(chan struct{}),
		state:      domain.StateDisconnected,
		maxRetries: opts.Reconnect.MaxRetries,
		baseDelay:  opts.Reconnect.BaseDelay,
		settings:   opts.Settings,
	}

	c.telemetry = newCollector(opts.Scheduler, c.post, opts.Telemetry)
	c.single = newSinglePath(opts.Logger, c.deliverFrame)
	c.reasm = newReassembler(reassemblerDeps{
		log:       opts.Logger,
		sched:     opts.Scheduler,
		post:      c.post,
		cfg:       opts.Reassembly,
		deliver:   c.deliverFrame,
		telemetry: c.telemetry,
		sendAck: func(ref wire.ChunkRef) {
			if err := c.send(wire.TypeChunkReceived, ref); err != nil {
				c.log.Debugw("chunk ack not sent", "frame_id", ref.FrameID, "error", err)
			}
		},
	})
	c.modes = newModeController(opts.Logger, c.send)

	go c.run()
	return c, nil
}

func (c *Client) run() {
	for {
		select {
		case fn := <-c.tasks:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post schedules fn onto the event loop. It reports false once the
// client is closed.
func (c *Client) post(fn func()) bool {
	select {
	case c.tasks <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the event loop and waits for it to finish.
func (c *Client) call(fn func()) bool {
	done := make(chan struct{})
	if !c.post(func() {
		fn()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-c.quit:
		return false
	}
}

// Close tears the session down. Idempotent.
func (c *Client) Close() {
	c.once.Do(func() {
		c.call(c.teardown)
		close(c.quit)
	})
}

func (c *Client) teardown() {
	c.disconnectLocked()
	c.telemetry.stop()
}

// Connect establishes the connection if one is not already
// established or in progress. An explicit connect resets the retry
// budget.
func (c *Client) Connect() error {
	if !c.call(func() { c.connect(true) }) {
		return ErrClosed
	}
	return nil
}

// Disconnect tears down the connection, clears all in-flight
// assembly state and pending timers, and suppresses automatic
// reconnection until the next explicit Connect.
func (c *Client) Disconnect() error {
	if !c.call(c.disconnectLocked) {
		return ErrClosed
	}
	return nil
}

// StartStream asks the peer to begin streaming with the client's
// current settings.
func (c *Client) StartStream() error {
	return c.command(func() error {
		return c.send(wire.TypeStartStream, c.settings)
	})
}

// StopStream asks the peer to stop streaming and clears all pending
// assemblies without loss accounting.
func (c *Client) StopStream() error {
	return c.command(func() error {
		if err := c.send(wire.TypeStopStream, nil); err != nil {
			return err
		}
		c.stopLocalStream()
		return nil
	})
}

// UpdateResolution requests a new capture resolution.
func (c *Client) UpdateResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", width, height)
	}
	return c.command(func() error {
		return c.send(wire.TypeUpdateResolution, wire.UpdateResolutionPayload{Width: width, Height: height})
	})
}

// UpdateQuality requests a new encode quality (0-100).
func (c *Client) UpdateQuality(quality int) error {
	if quality < 0 || quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100, got %d", quality)
	}
	return c.command(func() error {
		return c.send(wire.TypeUpdateQuality, wire.UpdateQualityPayload{Quality: quality})
	})
}

// UpdateFPS requests a new target frame rate.
func (c *Client) UpdateFPS(fps int) error {
	if fps <= 0 {
		return fmt.Errorf("fps must be > 0, got %d", fps)
	}
	return c.command(func() error {
		return c.send(wire.TypeUpdateFPS, wire.UpdateFPSPayload{FPS: fps})
	})
}

// SetEncodingMode requests a wire encoding change. The settings
// mirror only changes once the peer acknowledges.
func (c *Client) SetEncodingMode(mode domain.EncodingMode) error {
	return c.command(func() error {
		return c.modes.request(mode)
	})
}

// SetMaxBitrate requests a bitrate cap in kbit/s (0 = unlimited).
func (c *Client) SetMaxBitrate(kbps int) error {
	if kbps < 0 {
		return fmt.Errorf("max bitrate must be >= 0, got %d", kbps)
	}
	return c.command(func() error {
		return c.send(wire.TypeSetMaxBitrate, wire.SetMaxBitratePayload{MaxBitrateKbps: kbps})
	})
}

// RequestStats asks the peer for its session statistics; the answer
// lands in PeerStats.
func (c *Client) RequestStats() error {
	return c.command(func() error {
		return c.send(wire.TypeGetStats, nil)
	})
}

// State returns the connection state.
func (c *Client) State() domain.ConnectionState {
	var s domain.ConnectionState
	if !c.call(func() { s = c.state }) {
		return domain.StateDisconnected
	}
	return s
}

// Settings returns the client's best-effort mirror of the peer's
// effective stream settings.
func (c *Client) Settings() domain.StreamSettings {
	var s domain.StreamSettings
	c.call(func() { s = c.settings })
	return s
}

// Capabilities returns the capability summary announced by the peer.
func (c *Client) Capabilities() domain.Capabilities {
	var caps domain.Capabilities
	c.call(func() { caps = c.capabilities })
	return caps
}

// Telemetry returns a snapshot of stream health.
func (c *Client) Telemetry() domain.TelemetrySnapshot {
	var snap domain.TelemetrySnapshot
	c.call(func() { snap = c.telemetry.snapshot() })
	return snap
}

// PeerStats returns the most recent stream_stats answer.
func (c *Client) PeerStats() wire.StreamStatsPayload {
	var stats wire.StreamStatsPayload
	c.call(func() { stats = c.peerStats })
	return stats
}

func (c *Client) command(fn func() error) error {
	var err error
	if !c.call(func() { err = fn() }) {
		return ErrClosed
	}
	return err
}

// send marshals and writes one envelope on the current connection.
func (c *Client) send(msgType string, payload interface{}) error {
	if c.state != domain.StateConnected || c.conn == nil {
		return domain.ErrNotConnected
	}
	data, err := wire.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(ports.Message{Data: data})
}

// stopLocalStream clears receive-side state when streaming ends.
// Pending assemblies are cancelled without loss accounting.
func (c *Client) stopLocalStream() {
	c.streaming = false
	c.expect = expectNone
	c.single.reset()
	c.reasm.cancelAll()
}

// deliverFrame decodes a complete wire payload and hands it to the
// renderer. Called from both delivery paths.
func (c *Client) deliverFrame(encoded []byte, meta domain.FrameMetadata) {
	payload, err := wire.DecodePayload(meta.Encoding, encoded)
	if err != nil {
		c.telemetry.anomaly()
		c.log.Warnw("frame payload decode failed",
			"frame_id", meta.FrameID, "encoding", meta.Encoding, "error", err)
		return
	}
	if len(payload) != meta.TotalSize {
		c.telemetry.anomaly()
		c.log.Warnw("frame size mismatch, rejecting",
			"frame_id", meta.FrameID, "expected", meta.TotalSize, "got", len(payload))
		return
	}
	c.renderer.Render(payload, meta)
	c.telemetry.recordFrame(len(payload), meta.CaptureTimestamp())
}
