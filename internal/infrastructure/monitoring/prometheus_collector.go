package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports peer-daemon stream metrics.
type PrometheusCollector struct {
	sessionsActive prometheus.Gauge
	streamsActive  prometheus.Gauge

	framesSentTotal  prometheus.Counter
	chunksSentTotal  prometheus.Counter
	bytesSentTotal   prometheus.Counter
	chunkAcksTotal   prometheus.Counter
	streamErrorTotal *prometheus.CounterVec

	frameSizeBytes prometheus.Histogram
	chunksPerFrame prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "framelink_sessions_active",
			Help: "Number of connected client sessions",
		}),

		streamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "framelink_streams_active",
			Help: "Number of sessions currently streaming",
		}),

		framesSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "framelink_frames_sent_total",
			Help: "Total frames sent across all sessions",
		}),

		chunksSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "framelink_chunks_sent_total",
			Help: "Total frame chunks sent across all sessions",
		}),

		bytesSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "framelink_bytes_sent_total",
			Help: "Total payload bytes sent on the wire",
		}),

		chunkAcksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "framelink_chunk_acks_total",
			Help: "Sampled chunk_received acknowledgements from clients",
		}),

		streamErrorTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "framelink_stream_errors_total",
			Help: "Stream errors sent to clients, by code",
		}, []string{"code"}),

		frameSizeBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "framelink_frame_size_bytes",
			Help:    "Encoded frame payload sizes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
		}),

		chunksPerFrame: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "framelink_chunks_per_frame",
			Help:    "Chunk counts for chunked frames",
			Buckets: prometheus.LinearBuckets(1, 2, 16),
		}),
	}
}

func (c *PrometheusCollector) SessionOpened()  { c.sessionsActive.Inc() }
func (c *PrometheusCollector) SessionClosed()  { c.sessionsActive.Dec() }
func (c *PrometheusCollector) StreamStarted()  { c.streamsActive.Inc() }
func (c *PrometheusCollector) StreamStopped()  { c.streamsActive.Dec() }
func (c *PrometheusCollector) ChunkAcked()     { c.chunkAcksTotal.Inc() }
func (c *PrometheusCollector) StreamError(code string) {
	c.streamErrorTotal.WithLabelValues(code).Inc()
}

// FrameSent records one sent frame and its wire footprint.
func (c *PrometheusCollector) FrameSent(sizeBytes, chunks int) {
	c.framesSentTotal.Inc()
	c.bytesSentTotal.Add(float64(sizeBytes))
	c.frameSizeBytes.Observe(float64(sizeBytes))
	if chunks > 0 {
		c.chunksSentTotal.Add(float64(chunks))
		c.chunksPerFrame.Observe(float64(chunks))
	}
}
