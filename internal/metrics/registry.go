package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the auction domain metrics and implements the engine's
// collector interface.
type Registry struct {
	registry *prometheus.Registry

	bidsAccepted  prometheus.Counter
	bidsRejected  *prometheus.CounterVec
	finalizations prometheus.Counter
	evaluateDur   prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRegistry creates the metric registry. All metrics live under the
// marketplace namespace.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		bidsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "auction",
			Name:      "bids_accepted_total",
			Help:      "Bids that passed arbitration and were recorded.",
		}),
		bidsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "auction",
			Name:      "bids_rejected_total",
			Help:      "Bids rejected during arbitration, labeled by reason.",
		}, []string{"reason"}),
		finalizations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "auction",
			Name:      "finalizations_total",
			Help:      "Listings finalized with a winner.",
		}),
		evaluateDur: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "auction",
			Name:      "evaluate_duration_seconds",
			Help:      "Time spent deriving listing state, including lazy finalization.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, labeled by method, route, and status class.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, labeled by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Gatherer exposes the registry for the promhttp handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Registry) RecordBidAccepted(context.Context) {
	r.bidsAccepted.Inc()
}

func (r *Registry) RecordBidRejected(_ context.Context, reason string) {
	r.bidsRejected.WithLabelValues(reason).Inc()
}

func (r *Registry) RecordFinalization(context.Context) {
	r.finalizations.Inc()
}

func (r *Registry) ObserveEvaluateDuration(_ context.Context, d time.Duration) {
	r.evaluateDur.Observe(d.Seconds())
}

// RecordHTTPRequest counts a finished request and its latency.
func (r *Registry) RecordHTTPRequest(method, route, status string, d time.Duration) {
	r.httpRequests.WithLabelValues(method, route, status).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
