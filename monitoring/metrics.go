package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Registration attempts by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_scans_total",
			Help: "Attendance scan attempts by result",
		},
		[]string{"result"},
	)

	auditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit entries that could not be persisted",
		},
	)
)

func TrackRegistration(kind, outcome string) {
	registrations.WithLabelValues(kind, outcome).Inc()
}

func TrackScan(result string) {
	scans.WithLabelValues(result).Inc()
}

func TrackAuditFailure() {
	auditFailures.Inc()
}
