package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appmanager_sweeps_total",
			Help: "Total number of reconciliation sweeps",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "appmanager_sweep_duration_seconds",
			Help:    "Duration of full reconciliation sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appmanager_passes_total",
			Help: "Total per-repository reconciliation passes by result",
		},
		[]string{"result"},
	)

	RepositoriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appmanager_repositories_total",
			Help: "Tracked repositories by status",
		},
		[]string{"status"},
	)

	// Escalation metrics
	FailuresEscalatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appmanager_failures_escalated_total",
			Help: "Total failures recorded, by failure context",
		},
		[]string{"context"},
	)

	RemediationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appmanager_remediation_errors_total",
			Help: "Total failed calls to the remote remediation service",
		},
	)

	RemediationResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appmanager_remediation_resolved_total",
			Help: "Total failures resolved via a merged remediation pull request",
		},
	)

	// Deploy metrics
	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appmanager_deploys_total",
			Help: "Total container deployments by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(SweepsTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(PassesTotal)
	prometheus.MustRegister(RepositoriesTotal)
	prometheus.MustRegister(FailuresEscalatedTotal)
	prometheus.MustRegister(RemediationErrorsTotal)
	prometheus.MustRegister(RemediationResolvedTotal)
	prometheus.MustRegister(DeploysTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
