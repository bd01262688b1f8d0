package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prefixgate"

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Collector tracks gateway metrics in its own Prometheus registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	rateLimitRejected  *prometheus.CounterVec
	subscriptionDenied *prometheus.CounterVec
	subscriptionKeys   *prometheus.GaugeVec
}

// NewCollector creates a collector with a fresh registry that also exports
// Go runtime and process metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of proxied requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of proxied requests by route",
				Buckets:   DefaultBuckets,
			},
			[]string{"route"},
		),
		rateLimitRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_rejected_total",
				Help:      "Requests rejected by the sliding-window limiter",
			},
			[]string{"route"},
		),
		subscriptionDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscription_denied_total",
				Help:      "Requests denied by the subscription gate by status",
			},
			[]string{"route", "status"},
		),
		subscriptionKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscription_keys",
				Help:      "Authorized keys currently held by the subscription gate",
			},
			[]string{"route"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requestsTotal,
		c.requestDuration,
		c.rateLimitRejected,
		c.subscriptionDenied,
		c.subscriptionKeys,
	)

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRateLimitRejected records a 429 from the limiter
func (c *Collector) RecordRateLimitRejected(route string) {
	if c == nil {
		return
	}
	c.rateLimitRejected.WithLabelValues(route).Inc()
}

// RecordSubscriptionDenied records a 400, 401 or 403 from the gate
func (c *Collector) RecordSubscriptionDenied(route string, statusCode int) {
	if c == nil {
		return
	}
	c.subscriptionDenied.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// SetSubscriptionKeys records the size of a gate's key set
func (c *Collector) SetSubscriptionKeys(route string, n int) {
	if c == nil {
		return
	}
	c.subscriptionKeys.WithLabelValues(route).Set(float64(n))
}
