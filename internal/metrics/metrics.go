package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	latencyMs     *prometheus.HistogramVec
	streamFrames  *prometheus.CounterVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_relay_requests_total",
			Help: "Total number of requests relayed, by provider and upstream status.",
		}, []string{"provider", "status"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claude_relay_request_latency_ms",
			Help:    "Request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"provider", "status"}),
		streamFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_relay_stream_frames_total",
			Help: "Provider stream frames translated, by provider.",
		}, []string{"provider"}),
	}
	r.MustRegister(m.requestsTotal, m.latencyMs, m.streamFrames)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(provider string, status int, dur time.Duration) {
	s := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(provider, s).Inc()
	m.latencyMs.WithLabelValues(provider, s).Observe(float64(dur.Milliseconds()))
}

func (m *Metrics) ObserveStreamFrame(provider string) {
	m.streamFrames.WithLabelValues(provider).Inc()
}
