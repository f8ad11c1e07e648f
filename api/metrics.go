package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors on a private
// registry so tests can create as many instances as they like.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	PaymentsTotal    prometheus.Counter
	RefundsTotal     prometheus.Counter
	ConflictRetries  prometheus.Counter
	AllocationsTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		PaymentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_payments_recorded_total",
			Help: "Payments successfully recorded.",
		}),
		RefundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_refunds_recorded_total",
			Help: "Refunds successfully recorded.",
		}),
		ConflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_conflict_responses_total",
			Help: "Requests that exhausted the conflict retry budget.",
		}),
		AllocationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_allocations_created_total",
			Help: "Allocation rows committed by payment processing.",
		}),
	}
}
