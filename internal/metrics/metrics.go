// Package metrics exposes the engine's Prometheus instrumentation. All
// collectors register on the default registry; the admin server serves them
// at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventsTotal counts normalized broker events by type.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskguard_events_total",
			Help: "Total number of processed broker events",
		},
		[]string{"type"},
	)

	// BreachesTotal counts rule breaches by rule name.
	BreachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskguard_breaches_total",
			Help: "Total number of rule breaches",
		},
		[]string{"rule"},
	)

	// EnforcementsTotal counts enforcement outcomes by action kind and result.
	EnforcementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskguard_enforcements_total",
			Help: "Total number of enforcement actions by outcome",
		},
		[]string{"action", "result"},
	)

	// SuppressedEventsTotal counts events whose rule evaluation was skipped
	// because the account was locked out.
	SuppressedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "riskguard_suppressed_events_total",
			Help: "Total number of events suppressed by an active lockout",
		},
	)

	// DataGapsTotal counts rule inputs skipped for stale quotes or missing
	// contract metadata.
	DataGapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskguard_data_gaps_total",
			Help: "Total number of evaluation inputs skipped due to missing data",
		},
		[]string{"reason"},
	)

	// LockedAccounts gauges the number of accounts with an active lockout.
	LockedAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskguard_locked_accounts",
			Help: "Number of accounts currently locked out",
		},
	)

	// DegradedAccounts gauges the number of accounts with a failed
	// enforcement awaiting manual review.
	DegradedAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskguard_degraded_accounts",
			Help: "Number of accounts in degraded enforcement state",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(BreachesTotal)
	prometheus.MustRegister(EnforcementsTotal)
	prometheus.MustRegister(SuppressedEventsTotal)
	prometheus.MustRegister(DataGapsTotal)
	prometheus.MustRegister(LockedAccounts)
	prometheus.MustRegister(DegradedAccounts)
}
