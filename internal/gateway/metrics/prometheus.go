// Package metrics exposes gateway request metrics on a private Prometheus
// registry so they do not mix with host-level collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all exported metrics. A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_requests_total{provider,stream,status}
	requestsTotal *prometheus.CounterVec

	// gateway_upstream_duration_seconds{provider,stream}
	upstreamDuration *prometheus.HistogramVec

	// gateway_stream_events_total{provider,kind}
	streamEvents *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight chat completion requests",
		}),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Chat completion requests by provider, stream mode and response status",
			},
			[]string{"provider", "stream", "status"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_duration_seconds",
				Help:    "Time until upstream response headers arrived",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "stream"},
		),

		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_stream_events_total",
				Help: "Streamed SSE frames by kind (forwarded, dropped, done)",
			},
			[]string{"provider", "kind"},
		),
	}

	reg.MustRegister(r.inFlight, r.requestsTotal, r.upstreamDuration, r.streamEvents)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (r *Registry) TrackInFlight() func() {
	if r == nil {
		return func() {}
	}
	r.inFlight.Inc()
	return r.inFlight.Dec
}

// ObserveRequest counts one finished request. provider is empty when the
// request failed before resolution.
func (r *Registry) ObserveRequest(provider string, stream bool, status int) {
	if r == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	r.requestsTotal.WithLabelValues(provider, strconv.FormatBool(stream), strconv.Itoa(status)).Inc()
}

// ObserveUpstream records the time to upstream response headers.
func (r *Registry) ObserveUpstream(provider string, stream bool, d time.Duration) {
	if r == nil {
		return
	}
	r.upstreamDuration.WithLabelValues(provider, strconv.FormatBool(stream)).Observe(d.Seconds())
}

// ObserveStream adds the frame counts of one finished stream.
func (r *Registry) ObserveStream(provider string, forwarded, dropped, done int) {
	if r == nil {
		return
	}
	r.streamEvents.WithLabelValues(provider, "forwarded").Add(float64(forwarded))
	r.streamEvents.WithLabelValues(provider, "dropped").Add(float64(dropped))
	r.streamEvents.WithLabelValues(provider, "done").Add(float64(done))
}
