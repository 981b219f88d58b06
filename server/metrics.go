package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/minios-linux/jtrans/engine"
)

// Metrics holds the Prometheus collectors of one server.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	BlocksTotal        *prometheus.CounterVec
	ProviderCallsTotal prometheus.Counter
	SupersededTotal    prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jtrans_requests_total",
				Help: "Total number of translation requests",
			},
			[]string{"route", "code"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jtrans_request_duration_seconds",
				Help:    "Duration of translation requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "jtrans_requests_in_flight",
				Help: "Number of translation requests currently being processed",
			},
		),
		BlocksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jtrans_blocks_total",
				Help: "Translatable blocks by where their translation came from",
			},
			[]string{"source"},
		),
		ProviderCallsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jtrans_provider_calls_total",
				Help: "Total number of batched provider calls",
			},
		),
		SupersededTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jtrans_superseded_total",
				Help: "Requests cancelled by a newer request for the same document",
			},
		),
	}
}

// RecordRequest records the outcome of one request.
func (m *Metrics) RecordRequest(route string, code int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(route, statusLabel(code)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordStats records the block counters of one engine run.
func (m *Metrics) RecordStats(s engine.Stats) {
	m.BlocksTotal.WithLabelValues("cache").Add(float64(s.CacheHits))
	m.BlocksTotal.WithLabelValues("provider").Add(float64(s.Translated))
	m.BlocksTotal.WithLabelValues("missing").Add(float64(s.Missing))
	m.ProviderCallsTotal.Add(float64(s.ProviderCalls))
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
