package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassesTotal counts completed evaluation passes.
	PassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updock_passes_total",
		Help: "Total number of completed evaluation passes",
	})

	// PassDuration tracks evaluation pass duration end to end.
	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updock_pass_duration_seconds",
		Help:    "Duration of a full evaluation pass",
		Buckets: prometheus.DefBuckets,
	})

	// UpgradesTotal counts recorded upgrades by outcome.
	UpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updock_upgrades_total",
		Help: "Total number of upgrade attempts recorded in the ledger",
	}, []string{"status"})

	// UpgradeDuration tracks how long individual upgrade actions take.
	UpgradeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updock_upgrade_duration_seconds",
		Help:    "Duration of individual container upgrade actions",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// LeaseSkips counts containers skipped because an upgrade was in flight.
	LeaseSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updock_lease_skips_total",
		Help: "Containers skipped because another upgrade held their lease",
	})

	// IntentFailures counts per-intent evaluation failures by endpoint.
	IntentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updock_intent_failures_total",
		Help: "Per-intent evaluation failures that did not abort the pass",
	}, []string{"endpoint"})

	// VersionLookups counts version-source lookups by result.
	VersionLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updock_version_lookups_total",
		Help: "Version source lookups by result (hit, miss, error, throttled)",
	}, []string{"result"})
)
