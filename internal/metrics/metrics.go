// Package metrics exposes Prometheus collectors for routing, placement DDL,
// partition access frequency and the admin API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoutingDecisions counts partition routing calls by strategy and outcome.
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyroute_routing_decisions_total",
			Help: "Total number of partition routing decisions",
		},
		[]string{"strategy", "operation", "outcome"},
	)
	// PlacementProbes counts placement drop probes by result.
	PlacementProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyroute_placement_probes_total",
			Help: "Total number of placement distribution change probes",
		},
		[]string{"result"},
	)
	// DDLOperations counts partitioning and placement DDL by operation and status.
	DDLOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyroute_ddl_operations_total",
			Help: "Total number of partitioning and placement DDL operations",
		},
		[]string{"operation", "status"},
	)
	// PartitionAccesses counts sampled partition accesses by kind.
	PartitionAccesses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyroute_partition_accesses_total",
			Help: "Total number of partition accesses recorded by the frequency map",
		},
		[]string{"table", "kind"},
	)
	// FrequencyCycles counts frequency processing cycles by status.
	FrequencyCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyroute_frequency_cycles_total",
			Help: "Total number of frequency processing cycles",
		},
		[]string{"status"},
	)
	// FrequencyCycleDuration is the latency of one frequency processing cycle.
	FrequencyCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polyroute_frequency_cycle_duration_seconds",
			Help:    "Frequency processing cycle latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	// TierMoves counts partitions moved between hot and cold tiers.
	TierMoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyroute_tier_moves_total",
			Help: "Total number of partitions moved between temperature tiers",
		},
		[]string{"direction"},
	)
	// RequestTotal counts admin HTTP requests by method, path and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyroute_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of admin HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyroute_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Outcome returns the outcome label for an error.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
