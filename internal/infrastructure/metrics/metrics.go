package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeploymentsTotal counts deploy calls by outcome.
	DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleecy_deployments_total",
			Help: "Total number of workload deployments",
		},
		[]string{"result"},
	)

	DeployDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleecy_deploy_duration_seconds",
			Help:    "Deployment duration in seconds, from resolution to launch",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17m
		},
		[]string{"result"},
	)

	LogFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleecy_log_fetch_total",
			Help: "Total number of remote log retrievals",
		},
		[]string{"result"},
	)

	InventoryQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleecy_inventory_queries_total",
			Help: "Total number of cloud controller inventory queries",
		},
		[]string{"provider", "result"},
	)

	InventoryVMs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleecy_inventory_vms",
			Help: "Number of VMs returned by the last inventory query",
		},
	)

	LocalRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleecy_local_runs_total",
			Help: "Total number of local workload runs by final status",
		},
		[]string{"status"},
	)

	LocalRunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleecy_local_runs_active",
			Help: "Number of local workload runs in progress",
		},
	)

	RetentionPrunedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleecy_retention_pruned_total",
			Help: "Total number of records removed by the retention sweep",
		},
		[]string{"kind"},
	)

	RegisteredTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleecy_registered_tasks",
			Help: "Number of tasks held in the in-memory registry",
		},
	)
)

// Result label values
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultNotFound = "not_found"
)
