package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

//nolint:gochecknoglobals // Prometheus metrics are package-level for registration and reuse.
var (
	driverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ytharness",
			Subsystem: "driver",
			Name:      "requests_total",
			Help:      "Driver commands dispatched, by command and outcome.",
		},
		[]string{"cluster", "command", "outcome"},
	)
	driverLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ytharness",
			Subsystem: "driver",
			Name:      "request_duration_seconds",
			Help:      "Driver command latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"cluster", "command"},
	)
	driverRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ytharness",
			Subsystem: "driver",
			Name:      "retries_total",
			Help:      "Driver retries, by command and error kind.",
		},
		[]string{"cluster", "command", "kind"},
	)
	waitIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ytharness",
			Subsystem: "wait",
			Name:      "iterations",
			Help:      "Predicate evaluations per wait call.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"outcome"},
	)
	liveProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ytharness",
			Subsystem: "supervisor",
			Name:      "live_processes",
			Help:      "Supervised processes currently alive, by role.",
		},
		[]string{"role"},
	)
)

// Register adds the harness collectors to reg. Registering twice is a no-op.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{driverRequests, driverLatency, driverRetries, waitIterations, liveProcesses} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveDriverRequest(cluster, command, outcome string, elapsed time.Duration) {
	driverRequests.WithLabelValues(cluster, command, outcome).Inc()
	driverLatency.WithLabelValues(cluster, command).Observe(elapsed.Seconds())
}

func ObserveDriverRetry(cluster, command, kind string) {
	driverRetries.WithLabelValues(cluster, command, kind).Inc()
}

func ObserveWait(outcome string, iterations int) {
	waitIterations.WithLabelValues(outcome).Observe(float64(iterations))
}

func SetLiveProcesses(role string, count int) {
	liveProcesses.WithLabelValues(role).Set(float64(count))
}
