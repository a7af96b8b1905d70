// Package metrics holds the bridge's Prometheus collectors, grounded on
// the teacher's escrow.Metrics: promauto-registered Counter/Gauge/
// Histogram vectors with small Record* convenience methods.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the bridge reports.
type Metrics struct {
	FramesTotal      *prometheus.CounterVec
	FrameDropped     *prometheus.CounterVec
	DenialsTotal     *prometheus.CounterVec
	AuthCacheSize    prometheus.Gauge
	AuthLookupTotal  *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SubscriptionsSet prometheus.Gauge
	DispatchDuration *prometheus.HistogramVec
}

// New creates and registers the bridge's Prometheus collectors.
func New() *Metrics {
	return &Metrics{
		FramesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_frames_total",
				Help: "Total number of client frames dispatched, by type.",
			},
			[]string{"type"},
		),
		FrameDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_frames_dropped_total",
				Help: "Total number of frames dropped, by reason.",
			},
			[]string{"reason"}, // match
		),
		DenialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_denials_total",
				Help: "Total number of denial frames written to clients, by reason.",
			},
			[]string{"reason"}, // no_session, rejected, transport_error
		),
		AuthCacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_auth_cache_size",
				Help: "Current number of cached session authorisations.",
			},
		),
		AuthLookupTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_auth_lookup_total",
				Help: "Total auth lookups, by outcome.",
			},
			[]string{"outcome"}, // error, pre_authorised
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_sessions_active",
				Help: "Current number of connected bridge sessions.",
			},
		),
		SubscriptionsSet: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_subscriptions_active",
				Help: "Current number of installed bus subscriptions across all sessions.",
			},
		),
		DispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_dispatch_duration_seconds",
				Help:    "Time to process one client frame end to end.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
	}
}

// RecordFrame records that a frame of the given type was dispatched.
func (m *Metrics) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(frameType).Inc()
}

// RecordDrop records a frame dropped for reason.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.FrameDropped.WithLabelValues(reason).Inc()
}

// RecordDenial records a denial frame written for reason.
func (m *Metrics) RecordDenial(reason string) {
	if m == nil {
		return
	}
	m.DenialsTotal.WithLabelValues(reason).Inc()
}

// RecordAuthLookup records the outcome of one auth lookup.
func (m *Metrics) RecordAuthLookup(outcome string) {
	if m == nil {
		return
	}
	m.AuthLookupTotal.WithLabelValues(outcome).Inc()
}

// SetSessionsActive reports the current session count.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}
