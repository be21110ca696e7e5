package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics instruments the download engine, the dedup resolver and the
// chunked transfer subsystem.
type SyncMetrics struct {
	downloads        *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	chunks           *prometheus.CounterVec
	checksumFailures prometheus.Counter
	dedupLinks       prometheus.Counter
	queueDepth       prometheus.Gauge
	workerRunning    prometheus.Gauge
}

// NewSyncMetrics creates the Prometheus-backed sync metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSyncMetrics() *SyncMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &SyncMetrics{
		downloads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuttle_downloads_total",
				Help: "Total number of finished download attempts by outcome",
			},
			[]string{"outcome"}, // "completed", "failed", "cancelled"
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuttle_bytes_transferred_total",
				Help: "Total bytes moved to or from object storage",
			},
			[]string{"direction"}, // "download", "upload"
		),
		chunks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuttle_chunks_total",
				Help: "Total chunks transferred by direction",
			},
			[]string{"direction"}, // "download", "upload"
		),
		checksumFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "shuttle_checksum_failures_total",
				Help: "Total chunk or whole-source checksum verification failures",
			},
		),
		dedupLinks: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "shuttle_dedup_links_created_total",
				Help: "Total filesystem links created by the dedup resolver",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "shuttle_queue_depth",
				Help: "Number of tasks currently waiting in the download queue",
			},
		),
		workerRunning: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "shuttle_worker_running",
				Help: "1 while the background worker is running, 0 otherwise",
			},
		),
	}
}

// RecordDownload counts one finished download attempt.
func (m *SyncMetrics) RecordDownload(outcome string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(outcome).Inc()
}

// RecordBytes counts bytes moved in the given direction.
func (m *SyncMetrics) RecordBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

// RecordChunk counts one chunk moved in the given direction.
func (m *SyncMetrics) RecordChunk(direction string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(direction).Inc()
}

// RecordChecksumFailure counts one verification failure.
func (m *SyncMetrics) RecordChecksumFailure() {
	if m == nil {
		return
	}
	m.checksumFailures.Inc()
}

// RecordDedupLink counts one link created by the resolver.
func (m *SyncMetrics) RecordDedupLink() {
	if m == nil {
		return
	}
	m.dedupLinks.Inc()
}

// SetQueueDepth records the current queue length.
func (m *SyncMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetWorkerRunning records whether the background worker is alive.
func (m *SyncMetrics) SetWorkerRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.workerRunning.Set(1)
	} else {
		m.workerRunning.Set(0)
	}
}
