package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ElementdRunsTotal counts runs by terminal status
	ElementdRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elementd_runs_total",
			Help: "Total number of runs reaching a terminal status",
		},
		[]string{"status"},
	)

	// ElementdRunsInflight tracks runs currently dispatched and not yet terminal
	ElementdRunsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "elementd_runs_inflight",
			Help: "Number of runs currently registered with the dispatcher",
		},
	)

	// ElementdQueueDepth tracks the dispatch queue backlog
	ElementdQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "elementd_queue_depth",
			Help: "Number of runs waiting in the dispatch queue",
		},
	)

	// ElementdAdmissionRejectsTotal counts executions refused at the ceiling
	ElementdAdmissionRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elementd_admission_rejects_total",
			Help: "Total number of execution requests rejected by admission control",
		},
		[]string{"tenant_id", "workspace_id"},
	)

	// ElementdNodeExecutionsTotal counts executed nodes by type
	ElementdNodeExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elementd_node_executions_total",
			Help: "Total number of node handler invocations across all runs",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(ElementdRunsTotal)
	prometheus.MustRegister(ElementdRunsInflight)
	prometheus.MustRegister(ElementdQueueDepth)
	prometheus.MustRegister(ElementdAdmissionRejectsTotal)
	prometheus.MustRegister(ElementdNodeExecutionsTotal)
}
