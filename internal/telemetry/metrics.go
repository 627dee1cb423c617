package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ingest outcomes recorded under ingest_requests_total{status}.
const (
	StatusAccepted     = "accepted"
	StatusInvalid      = "invalid"
	StatusUnauthorized = "unauthorized"
	StatusRateLimited  = "rate_limited"
	StatusFailed       = "failed"
)

type Metrics struct {
	Requests        *prometheus.CounterVec
	Tokens          *prometheus.CounterVec
	Cost            *prometheus.CounterVec
	PricingLookups  *prometheus.CounterVec
	ReportedLatency *prometheus.HistogramVec
}

// NewMetrics creates the ingest metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_requests_total",
				Help: "Ingest calls by outcome",
			},
			[]string{"status"},
		),
		Tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_tokens_total",
				Help: "Tokens reported by ingested records",
			},
			[]string{"provider", "model", "direction"},
		),
		Cost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cost_usd_total",
				Help: "Computed cost of ingested records in USD",
			},
			[]string{"provider", "model"},
		),
		PricingLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_pricing_lookups_total",
				Help: "Pricing table lookups by result",
			},
			[]string{"result"},
		),
		ReportedLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_reported_latency_milliseconds",
				Help:    "Upstream latency reported by ingested records",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"provider"},
		),
	}

	reg.MustRegister(m.Requests, m.Tokens, m.Cost, m.PricingLookups, m.ReportedLatency)
	return m
}
