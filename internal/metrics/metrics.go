package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "price_tracker"

// Metrics holds every collector the tracker exports. A nil *Metrics is
// valid and records nothing, so components can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	extractions        *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	cycles             *prometheus.CounterVec
	cycleDuration      prometheus.Histogram
	cycleItems         *prometheus.CounterVec
	alerts             *prometheus.CounterVec
	outboxPublished    *prometheus.CounterVec
	outboxBacklog      *prometheus.GaugeVec
	leaseLost          prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Listing extractions by marketplace and outcome",
		}, []string{"marketplace", "outcome"}),

		extractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Wall-clock duration of one listing extraction",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 90, 120},
		}, []string{"marketplace"}),

		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles by outcome (completed, failed, skipped)",
		}, []string{"outcome"}),

		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Duration of completed refresh cycles",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),

		cycleItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_items_total",
			Help:      "Items processed by refresh cycles (refreshed, failed)",
		}, []string{"result"}),

		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_alerts_total",
			Help:      "Price alert deliveries by outcome",
		}, []string{"outcome"}),

		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events relayed to the stream by outcome",
		}, []string{"outcome"}),

		outboxBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_events",
			Help:      "Outbox events currently stored, by status",
		}, []string{"status"}),

		leaseLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_lease_lost_total",
			Help:      "Refresh cycles stopped because the cycle lease could not be kept",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.extractions,
		m.extractionDuration,
		m.cycles,
		m.cycleDuration,
		m.cycleItems,
		m.alerts,
		m.outboxPublished,
		m.outboxBacklog,
		m.leaseLost,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveExtraction(marketplace, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(marketplace, outcome).Inc()
	m.extractionDuration.WithLabelValues(marketplace).Observe(d.Seconds())
}

func (m *Metrics) CycleCompleted(d time.Duration, refreshed, failed int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("completed").Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.cycleItems.WithLabelValues("refreshed").Add(float64(refreshed))
	m.cycleItems.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) CycleFailed() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("failed").Inc()
}

func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("skipped").Inc()
}

func (m *Metrics) Alert(outcome string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OutboxRelayed(outcome string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(outcome).Inc()
}

// OutboxBacklog replaces the per-status outbox gauge with counts.
func (m *Metrics) OutboxBacklog(counts map[string]int64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Reset()
	for status, n := range counts {
		m.outboxBacklog.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) LeaseLost() {
	if m == nil {
		return
	}
	m.leaseLost.Inc()
}
