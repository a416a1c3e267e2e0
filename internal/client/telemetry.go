package client

import (
	"math"
	"time"

	"framelink/internal/core/domain"
	"framelink/pkg/timer"
)

// collector computes the performance telemetry for one stream:
// rolling frame rate, per-frame latency, a trailing-window bitrate
// estimate and cumulative chunk delivery counters.
//
// The displayed fps is recomputed on a fixed interval rather than
// per frame to avoid jitter. Bitrate divides the bytes inside the
// trailing window by the actual span from the oldest retained sample
// to now, not by the nominal window length.
type collector struct {
	sched timer.Scheduler
	post  func(func()) bool
	cfg   TelemetryConfig

	framesRendered uint64
	chunksRecv     uint64
	chunksLostN    uint64
	anomalies      uint64

	startTime   time.Time
	fpsValue    int
	lastLatency time.Duration
	samples     []domain.TelemetrySample

	fpsTimer timer.Timer
	running  bool
}

func newCollector(sched timer.Scheduler, post func(func()) bool, cfg TelemetryConfig) *collector {
	return &collector{sched: sched, post: post, cfg: cfg}
}

// start begins the fps recompute cycle. No-op if already running.
func (t *collector) start() {
	if t.running {
		return
	}
	t.running = true
	t.startTime = t.sched.Now()
	t.armFPSTick()
}

func (t *collector) armFPSTick() {
	t.fpsTimer = t.sched.Schedule(t.cfg.FPSInterval, func() {
		t.post(func() {
			if !t.running {
				return
			}
			t.recomputeFPS()
			t.armFPSTick()
		})
	})
}

func (t *collector) recomputeFPS() {
	elapsed := t.sched.Now().Sub(t.startTime).Seconds()
	if elapsed <= 0 {
		t.fpsValue = 0
		return
	}
	t.fpsValue = int(math.Round(float64(t.framesRendered) / elapsed))
}

// stop cancels the fps cycle. Counters survive so a snapshot after
// disconnect still reflects the finished stream.
func (t *collector) stop() {
	t.running = false
	if t.fpsTimer != nil {
		t.fpsTimer.Stop()
		t.fpsTimer = nil
	}
}

// reset starts a fresh accounting epoch on stream (re)start.
func (t *collector) reset() {
	t.framesRendered = 0
	t.chunksRecv = 0
	t.chunksLostN = 0
	t.anomalies = 0
	t.fpsValue = 0
	t.lastLatency = 0
	t.samples = t.samples[:0]
	t.startTime = t.sched.Now()
	if !t.running {
		t.start()
	}
}

// recordFrame is called once per successfully rendered frame, from
// either delivery path.
func (t *collector) recordFrame(size int, captured time.Time) {
	now := t.sched.Now()
	t.framesRendered++
	t.lastLatency = now.Sub(captured)
	t.samples = append(t.samples, domain.TelemetrySample{Timestamp: now, ByteSize: size})
	t.pruneSamples(now)
}

func (t *collector) chunkReceived() {
	t.chunksRecv++
}

func (t *collector) chunksLost(n int) {
	if n > 0 {
		t.chunksLostN += uint64(n)
	}
}

func (t *collector) anomaly() {
	t.anomalies++
}

func (t *collector) pruneSamples(now time.Time) {
	cutoff := now.Add(-t.cfg.BitrateWindow)
	i := 0
	for i < len(t.samples) && t.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}
}

// bitrateBPS estimates bits/second over the trailing window.
func (t *collector) bitrateBPS() float64 {
	now := t.sched.Now()
	t.pruneSamples(now)
	if len(t.samples) == 0 {
		return 0
	}

	totalBytes := 0
	for _, s := range t.samples {
		totalBytes += s.ByteSize
	}
	span := now.Sub(t.samples[0].Timestamp).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(totalBytes) * 8 / span
}

func (t *collector) snapshot() domain.TelemetrySnapshot {
	rate := 1.0
	if t.chunksRecv > 0 {
		rate = (float64(t.chunksRecv) - float64(t.chunksLostN)) / float64(t.chunksRecv)
	}
	return domain.TelemetrySnapshot{
		FramesRendered: t.framesRendered,
		ChunksReceived: t.chunksRecv,
		ChunksLost:     t.chunksLostN,
		Anomalies:      t.anomalies,
		FPS:            t.fpsValue,
		LastLatency:    t.lastLatency,
		BitrateBPS:     t.bitrateBPS(),
		DeliveryRate:   rate,
	}
}
