package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

const instrumentationName = "github.com/nigel-daniels/agents-langgraph/pkg/graph"

var tracer = otel.Tracer(instrumentationName)

var (
	nodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agents_graph_node_duration_seconds",
		Help:    "Duration of node executions including retries.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"node", "status"})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agents_graph_steps_total",
		Help: "Graph steps by outcome.",
	}, []string{"outcome"})

	checkpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agents_graph_checkpoints_total",
		Help: "Checkpoints written by the executor.",
	}, []string{"source", "status"})

	interruptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agents_graph_interrupts_total",
		Help: "Runs paused before a node.",
	}, []string{"node"})
)
