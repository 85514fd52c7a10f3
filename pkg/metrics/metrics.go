package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionChecks counts permission evaluations by capability, provenance and outcome (allow|deny|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbguard_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"capability", "provenance", "result"},
	)

	// PermissionCheckLatency measures end-to-end decision latency, including cache probes.
	PermissionCheckLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbguard_permission_check_seconds",
			Help:    "Permission decision latency",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"cached"},
	)

	// CacheLookups records permission cache probes by result (hit|miss|error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbguard_permission_cache_lookups_total",
			Help: "Permission cache lookups",
		},
		[]string{"result"},
	)

	// CacheInvalidations counts invalidation requests by selector kind (user|team|resource|all).
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbguard_permission_cache_invalidations_total",
			Help: "Permission cache invalidations",
		},
		[]string{"selector"},
	)

	// GrantMutations counts grant service mutations by operation and result.
	GrantMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbguard_grant_mutations_total",
			Help: "Grant and revoke operations",
		},
		[]string{"operation", "result"},
	)

	// InfrastructureRetries counts read-path retries triggered by store or cache failures.
	InfrastructureRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kbguard_permission_infrastructure_retries_total",
			Help: "Permission check retries after infrastructure failures",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbguard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// APIInFlight tracks requests currently being served.
	APIInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kbguard_api_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)
)
