package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	GenerateRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "art_generate_requests_total",
			Help: "Total number of generate requests by outcome",
		},
		[]string{"outcome"},
	)

	GenerationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "art_generation_latency_seconds",
			Help:    "Latency of calls to the image generation provider",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)

	BudgetSpent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "art_budget_spent_today",
			Help: "Estimated spend recorded in today's ledger entry",
		},
	)

	BackgroundErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "art_background_errors_total",
			Help: "Total number of failed best-effort background writes",
		},
		[]string{"task"},
	)
)

func Register() {
	prometheus.MustRegister(
		GenerateRequestsTotal,
		GenerationLatency,
		BudgetSpent,
		BackgroundErrorsTotal,
	)
}
