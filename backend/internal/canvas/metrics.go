package canvas

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveConnections prometheus.Gauge
	ActiveBridges     prometheus.Gauge
	EventsIngested    *prometheus.CounterVec
	ClientErrors      *prometheus.CounterVec
	DeliveryFailures  prometheus.Counter
	HandlesEvicted    prometheus.Counter
	ReplayedEntries   prometheus.Counter
	DeliveryLatency   prometheus.Histogram
	ExportDropped     prometheus.Counter
	BackendErrors     *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics 返回进程内唯一的一组指标（重复注册会 panic）
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "canvas_active_connections",
				Help: "Current number of open canvas websocket connections",
			}),
			ActiveBridges: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "canvas_active_bridges",
				Help: "Current number of running subscription bridges",
			}),
			EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "canvas_events_ingested_total",
				Help: "Total number of validated events published and logged",
			}, []string{"type"}),
			ClientErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "canvas_client_errors_total",
				Help: "Total number of error replies sent to clients",
			}, []string{"reason"}),
			DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_delivery_failures_total",
				Help: "Total number of failed per-connection deliveries",
			}),
			HandlesEvicted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_handles_evicted_total",
				Help: "Total number of connections removed after repeated delivery failures",
			}),
			ReplayedEntries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_replayed_entries_total",
				Help: "Total number of log entries replayed to clients",
			}),
			DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "canvas_delivery_latency_ms",
				Help:    "Time between server receipt and bridge delivery (sdelay)",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
			}),
			ExportDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_export_dropped_total",
				Help: "Total number of events dropped by the kafka export",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ConnectionOpened() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) BridgeStarted() {
	if m == nil || m.ActiveBridges == nil {
		return
	}
	m.ActiveBridges.Inc()
}

func (m *Metrics) BridgeStopped() {
	if m == nil || m.ActiveBridges == nil {
		return
	}
	m.ActiveBridges.Dec()
}

func (m *Metrics) RecordIngest(eventType string) {
	if m == nil || m.EventsIngested == nil {
		return
	}
	m.EventsIngested.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordClientError(reason string) {
	if m == nil || m.ClientErrors == nil {
		return
	}
	m.ClientErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDeliveryFailure() {
	if m == nil || m.DeliveryFailures == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

func (m *Metrics) RecordEviction() {
	if m == nil || m.HandlesEvicted == nil {
		return
	}
	m.HandlesEvicted.Inc()
}

func (m *Metrics) RecordReplay(n int) {
	if m == nil || m.ReplayedEntries == nil {
		return
	}
	m.ReplayedEntries.Add(float64(n))
}

func (m *Metrics) ObserveDelay(ms float64) {
	if m == nil || m.DeliveryLatency == nil {
		return
	}
	m.DeliveryLatency.Observe(ms)
}

func (m *Metrics) RecordExportDrop() {
	if m == nil || m.ExportDropped == nil {
		return
	}
	m.ExportDropped.Inc()
}

func (m *Metrics) RecordBackendError(reason string) {
	if m == nil || m.BackendErrors == nil {
		return
	}
	m.BackendErrors.WithLabelValues(reason).Inc()
}
