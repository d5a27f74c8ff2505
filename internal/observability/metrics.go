// Package observability holds the Prometheus metrics of the billing engine.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeNotApplied   = "not_applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeRecovered    = "recovered"
	OutcomeFailed       = "failed"
	OutcomeRejected     = "rejected"
	OutcomeUncorrelated = "uncorrelated"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics
	WebhooksTotal              *prometheus.CounterVec
	TransitionsTotal           *prometheus.CounterVec
	EmailsTotal                *prometheus.CounterVec
	PlanLimitRejectionsTotal   *prometheus.CounterVec
	MaintenanceDurationSeconds prometheus.Histogram
}

// NewMetrics creates and registers all metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_total",
				Help: "Provider webhooks by outcome",
			},
			[]string{"provider", "outcome"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_transitions_total",
				Help: "Subscription status transitions",
			},
			[]string{"from", "to"},
		),
		EmailsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_emails_total",
				Help: "Billing notification emails handed to the sender",
			},
			[]string{"kind"},
		),
		PlanLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_plan_limit_rejections_total",
				Help: "Resource creations rejected by plan limits",
			},
			[]string{"resource"},
		),
		MaintenanceDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_maintenance_duration_seconds",
				Help:    "Duration of scheduled maintenance sweeps",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhooksTotal,
		m.TransitionsTotal,
		m.EmailsTotal,
		m.PlanLimitRejectionsTotal,
		m.MaintenanceDurationSeconds,
	)
	return m
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func (m *Metrics) Webhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Email(kind string) {
	if m == nil {
		return
	}
	m.EmailsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) PlanLimitRejection(resource string) {
	if m == nil {
		return
	}
	m.PlanLimitRejectionsTotal.WithLabelValues(resource).Inc()
}

func (m *Metrics) ObserveMaintenance(d time.Duration) {
	if m == nil {
		return
	}
	m.MaintenanceDurationSeconds.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latency per route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
