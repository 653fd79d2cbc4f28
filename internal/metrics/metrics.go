package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	BookingsTotal       *prometheus.CounterVec
	SweepRunsTotal      *prometheus.CounterVec
	SweepAffectedTotal  *prometheus.CounterVec
}

func New(service string) *Metrics {
	return NewWith(prometheus.DefaultRegisterer, service)
}

func NewWith(reg prometheus.Registerer, service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, route and status code.",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency by method and route.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		BookingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "bookings_total",
			Help:        "Booking operations by operation and outcome code.",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
		SweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "sweep_runs_total",
			Help:        "Sweeper job runs by job and result.",
			ConstLabels: labels,
		}, []string{"job", "result"}),
		SweepAffectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "sweep_affected_total",
			Help:        "Rows transitioned by sweeper jobs.",
			ConstLabels: labels,
		}, []string{"job"}),
	}
}
