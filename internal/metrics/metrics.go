package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker / computation metrics

	ComputationPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "computation_pickup_latency_seconds",
		Help:      "Time from a computation becoming ready to a worker grabbing it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ComputationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "computation_duration_seconds",
		Help:      "Duration of one node computation, by node.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"node"})

	ComputationsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "worker_computations_in_flight",
		Help:      "Number of node computations currently running.",
	})

	ComputationsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "computations_completed_total",
		Help:      "Total node computations finished, by node and outcome.",
	}, []string{"node", "outcome"})

	// Advance-cycle metrics

	AdvanceCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "advance_cycle_duration_seconds",
		Help:      "Time taken to run one Advance() pass over an execution.",
		Buckets:   prometheus.DefBuckets,
	})

	AdvanceCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "advance_cycles_total",
		Help:      "Total Advance() invocations, across all executions.",
	})

	// Sweep metrics

	SweepCycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "sweep_cycle_duration_seconds",
		Help:      "Time taken for one background sweep pass, by sweep type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sweep_type"})

	SweepExecutionsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "sweep_executions_processed_total",
		Help:      "Total executions touched by a sweep pass, by sweep type.",
	}, []string{"sweep_type"})

	AbandonedComputationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "abandoned_computations_total",
		Help:      "Total computations abandoned after a missed heartbeat deadline, by retry action.",
	}, []string{"action"})

	// Schema evolution

	SchemaEvolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "schema_evolutions_total",
		Help:      "Total executions upgraded to a newer graph hash on load, by graph.",
	}, []string{"graph"})

	// Process lifecycle

	SweeperStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "sweeper_start_time_seconds",
		Help:      "Unix timestamp when the sweeper process started.",
	})

	SweeperShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "sweeper_shutdowns_total",
		Help:      "Number of times the sweeper process has shut down.",
	})

	// Admin HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "http_request_duration_seconds",
		Help:      "Admin HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "http_requests_total",
		Help:      "Total admin HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		ComputationPickupLatency,
		ComputationDuration,
		ComputationsInFlight,
		ComputationsCompletedTotal,
		AdvanceCycleDuration,
		AdvanceCyclesTotal,
		SweepCycleDuration,
		SweepExecutionsProcessedTotal,
		AbandonedComputationsTotal,
		SchemaEvolutionsTotal,
		SweeperStartTime,
		SweeperShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
