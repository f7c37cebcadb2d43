package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FanOuts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "slicepool_fanout_total", Help: "Pool-wide coordination operations by outcome"},
		[]string{"operation", "outcome"},
	)
	FanOutLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "slicepool_fanout_seconds", Help: "Fan-out to fan-in latency"},
		[]string{"operation"},
	)
	WorkerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "slicepool_worker_calls_total", Help: "Individual supervisor to worker calls by outcome"},
		[]string{"operation", "outcome"},
	)
	Respawns = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "slicepool_worker_respawns_total", Help: "Worker processes started to replace a terminated one"},
	)
	LiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "slicepool_live_workers", Help: "Workers currently holding a pool slot"},
	)
	UnhealthyWorkers = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "slicepool_worker_unhealthy_total", Help: "Workers killed after failing liveness probes"},
	)
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{FanOuts, FanOutLatency, WorkerCalls, Respawns, LiveWorkers, UnhealthyWorkers}
}
