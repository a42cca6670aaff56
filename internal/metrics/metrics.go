package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK           = "ok"
	ResultIOError      = "io_error"
	ResultFormatError  = "format_error"
	ResultInvalid      = "invalid"
	ResultOtherFailure = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appstate",
			Subsystem: "state",
			Name:      "saves_total",
			Help:      "Number of state file saves by result.",
		}, []string{"name", "result"},
	)
	stateLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appstate",
			Subsystem: "state",
			Name:      "loads_total",
			Help:      "Number of state file loads by result.",
		}, []string{"name", "result"},
	)
	saveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "appstate",
			Subsystem: "state",
			Name:      "save_duration_seconds",
			Help:      "Time spent writing the state file.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"name"},
	)
	eventCounter = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appstate",
			Subsystem: "state",
			Name:      "event_counter",
			Help:      "Last checkpointed event counter.",
		}, []string{"name"},
	)
	processCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appstate",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the host process sampled at checkpoint.",
		}, []string{"name"},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appstate",
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the host process sampled at checkpoint.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{stateSaves, stateLoads, saveDuration, eventCounter, processCPU, processRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSave(name, result string) {
	if regOK.Load() {
		stateSaves.WithLabelValues(name, result).Inc()
	}
}

func IncLoad(name, result string) {
	if regOK.Load() {
		stateLoads.WithLabelValues(name, result).Inc()
	}
}

func ObserveSaveDuration(name string, seconds float64) {
	if regOK.Load() {
		saveDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetEventCounter(name string, v uint32) {
	if regOK.Load() {
		eventCounter.WithLabelValues(name).Set(float64(v))
	}
}

func SetUsage(name string, u Usage) {
	if regOK.Load() {
		processCPU.WithLabelValues(name).Set(u.CPUPercent)
		processRSS.WithLabelValues(name).Set(float64(u.RSSBytes))
	}
}
