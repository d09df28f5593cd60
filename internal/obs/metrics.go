package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licentra_assignments_total",
			Help: "License assignment attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RevocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licentra_revocations_total",
			Help: "License revocation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	AuditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licentra_audit_entries_total",
			Help: "Audit entries recorded, by action.",
		},
		[]string{"action"},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "licentra_compliance_scan_duration_seconds",
			Help:    "Duration of recurring compliance scans.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveAlertConditions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "licentra_active_alert_conditions",
			Help: "Alert conditions currently signaled and not yet cleared.",
		},
	)

	AlertsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licentra_alerts_emitted_total",
			Help: "Alert events emitted to the notification collaborator, by condition.",
		},
		[]string{"condition"},
	)
)

// Init registers engine metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		AssignmentsTotal,
		RevocationsTotal,
		AuditEntriesTotal,
		ScanDuration,
		ActiveAlertConditions,
		AlertsEmittedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
