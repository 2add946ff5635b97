package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "speedtest"

// Rates is the server-wide throughput over the last second.
type Rates struct {
	DownloadBps float64
	UploadBps   float64
}

type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	bytesDownloaded  prometheus.Counter
	bytesUploaded    prometheus.Counter
	activeStreams    prometheus.Gauge
	streamsTotal     prometheus.Counter
	uploadsTotal     *prometheus.CounterVec
	degradedChunks   prometheus.Counter
	poolReady        prometheus.Gauge
	poolSizeBytes    prometheus.Gauge
	poolPrepareSecs  prometheus.Gauge
	tcpRetransmits   prometheus.Counter
	tcpSegmentsSent  prometheus.Counter
	downloadRateBps  prometheus.Gauge
	uploadRateBps    prometheus.Gauge

	downTotal atomic.Uint64
	upTotal   atomic.Uint64

	mu       sync.Mutex
	lastDown uint64
	lastUp   uint64
	rates    Rates
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	m.bytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "download",
		Name:      "bytes_total",
		Help:      "Bytes written to download streams.",
	})
	m.bytesUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "bytes_total",
		Help:      "Bytes drained from upload requests.",
	})
	m.activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "download",
		Name:      "active_streams",
		Help:      "Download streams currently being served.",
	})
	m.streamsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "download",
		Name:      "streams_total",
		Help:      "Download streams opened.",
	})
	m.uploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "requests_total",
		Help:      "Upload requests by response code.",
	}, []string{"code"})
	m.degradedChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "degraded_chunks_total",
		Help:      "Chunks generated on demand because the data pool was not ready.",
	})
	m.poolReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "ready",
		Help:      "1 when the prepared data pool is available.",
	})
	m.poolSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "size_bytes",
		Help:      "Size of the prepared data pool.",
	})
	m.poolPrepareSecs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "prepare_seconds",
		Help:      "Wall time of the last successful pool preparation.",
	})
	m.tcpRetransmits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tcp",
		Name:      "retransmits_total",
		Help:      "TCP retransmits observed on finished download connections.",
	})
	m.tcpSegmentsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tcp",
		Name:      "segments_sent_total",
		Help:      "TCP segments sent on finished download connections.",
	})
	m.downloadRateBps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "download",
		Name:      "rate_bps",
		Help:      "Aggregate download throughput over the last second.",
	})
	m.uploadRateBps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "rate_bps",
		Help:      "Aggregate upload throughput over the last second.",
	})

	m.registry.MustRegister(
		m.bytesDownloaded,
		m.bytesUploaded,
		m.activeStreams,
		m.streamsTotal,
		m.uploadsTotal,
		m.degradedChunks,
		m.poolReady,
		m.poolSizeBytes,
		m.poolPrepareSecs,
		m.tcpRetransmits,
		m.tcpSegmentsSent,
		m.downloadRateBps,
		m.uploadRateBps,
		collectors.NewGoCollector(),
	)
	return m
}

// Start refreshes the per-second rates until ctxDone is closed.
func (m *Metrics) Start(ctxDone <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctxDone:
				return
			case <-ticker.C:
				m.updatePerSecond(time.Second)
			}
		}
	}()
}

func (m *Metrics) updatePerSecond(window time.Duration) {
	down := m.downTotal.Load()
	up := m.upTotal.Load()
	m.mu.Lock()
	m.rates = Rates{
		DownloadBps: float64((down-m.lastDown)*8) / window.Seconds(),
		UploadBps:   float64((up-m.lastUp)*8) / window.Seconds(),
	}
	m.lastDown = down
	m.lastUp = up
	rates := m.rates
	m.mu.Unlock()
	m.downloadRateBps.Set(rates.DownloadBps)
	m.uploadRateBps.Set(rates.UploadBps)
}

func (m *Metrics) Rates() Rates {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rates
}

func (m *Metrics) AddBytesDown(n uint64) {
	m.downTotal.Add(n)
	m.bytesDownloaded.Add(float64(n))
}

func (m *Metrics) AddBytesUp(n uint64) {
	m.upTotal.Add(n)
	m.bytesUploaded.Add(float64(n))
}

func (m *Metrics) StreamOpened() {
	m.streamsTotal.Inc()
	m.activeStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	m.activeStreams.Dec()
}

func (m *Metrics) UploadDone(code int) {
	m.uploadsTotal.WithLabelValues(codeLabel(code)).Inc()
}

func (m *Metrics) AddDegradedChunks(n uint64) {
	m.degradedChunks.Add(float64(n))
}

func (m *Metrics) SetPool(ready bool, sizeBytes int, took time.Duration) {
	if ready {
		m.poolReady.Set(1)
		m.poolSizeBytes.Set(float64(sizeBytes))
		m.poolPrepareSecs.Set(took.Seconds())
		return
	}
	m.poolReady.Set(0)
}

func (m *Metrics) AddTCPStats(retransmits, segments uint64) {
	m.tcpRetransmits.Add(float64(retransmits))
	m.tcpSegmentsSent.Add(float64(segments))
}

func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

func codeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
