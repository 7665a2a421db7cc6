package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auditstream"

// Metrics holds the service collectors.
type Metrics struct {
	connectionState   *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	reconnectPhase    *prometheus.GaugeVec
	liveEvents        prometheus.Counter
	feedSize          prometheus.Gauge
	pageFetches       *prometheus.CounterVec
	pageFallbacks     prometheus.Counter
	pageFailures      *prometheus.CounterVec
	archiveRows       *prometheus.CounterVec
	archiveDropped    prometheus.Counter
}

// State and phase label values, in the order they are reported.
var (
	connectionStates = []string{"disconnected", "connecting", "connected", "errored"}
	reconnectPhases  = []string{"idle", "attempting", "succeeded", "exhausted"}
)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Realtime connection state (1 for the current state).",
		}, []string{"state"}),
		reconnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by outcome.",
		}, []string{"outcome"}),
		reconnectPhase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_phase",
			Help:      "Reconnection policy phase (1 for the current phase).",
		}, []string{"phase"}),
		liveEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_total",
			Help:      "Audit events added to the live feed.",
		}),
		feedSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_size",
			Help:      "Events currently held in the live feed.",
		}),
		pageFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_fetches_total",
			Help:      "Resolved page requests by source.",
		}, []string{"source"}),
		pageFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_fallbacks_total",
			Help:      "Page requests that fell back to REST.",
		}),
		pageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_failures_total",
			Help:      "Failed page requests by reason.",
		}, []string{"reason"}),
		archiveRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_rows_total",
			Help:      "Archived rows by result.",
		}, []string{"result"}),
		archiveDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_dropped_total",
			Help:      "Events dropped because the archive queue was full.",
		}),
	}
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ConnectionState marks state as the current connection state.
func (m *Metrics) ConnectionState(state string) {
	if m == nil {
		return
	}
	setOneHot(m.connectionState, connectionStates, state)
}

// ReconnectAttempt counts a reconnect attempt.
func (m *Metrics) ReconnectAttempt(ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.reconnectAttempts.WithLabelValues(outcome).Inc()
}

// ReconnectPhase marks phase as the current policy phase.
func (m *Metrics) ReconnectPhase(phase string) {
	if m == nil {
		return
	}
	setOneHot(m.reconnectPhase, reconnectPhases, phase)
}

// LiveEvent counts an event added to the feed and records the feed size.
func (m *Metrics) LiveEvent(feedSize int) {
	if m == nil {
		return
	}
	m.liveEvents.Inc()
	m.feedSize.Set(float64(feedSize))
}

// PageFetched counts a resolved page request.
func (m *Metrics) PageFetched(source string) {
	if m == nil {
		return
	}
	m.pageFetches.WithLabelValues(source).Inc()
}

// PageFallback counts a REST fallback.
func (m *Metrics) PageFallback() {
	if m == nil {
		return
	}
	m.pageFallbacks.Inc()
}

// PageFailed counts a failed page request.
func (m *Metrics) PageFailed(reason string) {
	if m == nil {
		return
	}
	m.pageFailures.WithLabelValues(reason).Inc()
}

// ArchiveWritten counts archived rows.
func (m *Metrics) ArchiveWritten(inserted, conflicts int) {
	if m == nil {
		return
	}
	m.archiveRows.WithLabelValues("inserted").Add(float64(inserted))
	m.archiveRows.WithLabelValues("conflict").Add(float64(conflicts))
}

// ArchiveDropped counts an event dropped by the archive.
func (m *Metrics) ArchiveDropped() {
	if m == nil {
		return
	}
	m.archiveDropped.Inc()
}

func setOneHot(g *prometheus.GaugeVec, values []string, current string) {
	for _, v := range values {
		if v == current {
			g.WithLabelValues(v).Set(1)
		} else {
			g.WithLabelValues(v).Set(0)
		}
	}
}
