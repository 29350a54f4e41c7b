// Package metrics exposes Prometheus metrics for upstream calls, session
// logins and admission control.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "capital_proxy"

// Collector records session events. It satisfies session.Observer.
type Collector struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	logins           *prometheus.CounterVec
	authRetries      prometheus.Counter
	admissionWait    prometheus.Histogram
}

// Creates a collector on its own registry. If gate is not nil its in-flight
// count is exported as a gauge.
func NewCollector(gate ratelimit.Gate) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream calls by method and status code (0 for transport failures)",
		}, []string{"method", "code"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_logins_total",
			Help:      "Upstream login attempts by result",
		}, []string{"result"}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_auth_retries_total",
			Help:      "Re-logins triggered by a 401 on an authenticated call",
		}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for an admission slot",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
	}

	registry.MustRegister(c.upstreamRequests, c.upstreamDuration, c.logins, c.authRetries, c.admissionWait)

	if gate != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_in_flight",
			Help:      "Upstream calls currently holding an admission slot",
		}, func() float64 {
			return float64(gate.InFlight())
		}))
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_capacity",
			Help:      "Configured admission capacity",
		}, func() float64 {
			return float64(gate.Capacity())
		}))
	}

	return c
}

func (c *Collector) LoginCompleted(success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.logins.WithLabelValues(result).Inc()
}

func (c *Collector) AuthRetry() {
	c.authRetries.Inc()
}

func (c *Collector) AdmissionWait(waited time.Duration) {
	c.admissionWait.Observe(waited.Seconds())
}

func (c *Collector) UpstreamCall(method string, statusCode int, elapsed time.Duration) {
	c.upstreamRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.upstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Returns the scrape handler for /metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
