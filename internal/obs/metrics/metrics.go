// Package metrics exposes the Engine's Prometheus instrumentation,
// modeled directly on the teacher's metrics/metrics.go: a package-level
// Registry and promauto-registered vectors grouped by concern.
// Components update the exported vectors directly; SetDominantRegime is
// the only helper function.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Engine's dedicated Prometheus registry, kept separate
// from the global default registry so embedding applications can mount it
// at whatever path they choose (the HTTP exposition endpoint itself is
// out of this module's scope).
var Registry = prometheus.NewRegistry()

var mu sync.RWMutex

// Scanner metrics.
var (
	ScanDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_scan_duration_seconds",
		Help:    "Duration of one (symbol, timeframe) scan worker invocation.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"symbol", "timeframe"})

	ScansTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "engine_scans_total",
		Help: "Total completed scans per (symbol, timeframe, regime).",
	}, []string{"symbol", "timeframe", "regime"})

	ScannerCPUPercent = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "engine_scanner_cpu_percent",
		Help: "Last sampled CPU usage percent observed by the adaptive sleep logic.",
	})

	ScannerActiveWorkers = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "engine_scanner_active_workers",
		Help: "Current size of the scanner worker pool.",
	})
)

// Orchestrator metrics.
var (
	CycleDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_orchestrator_cycle_duration_seconds",
		Help:    "Duration of one orchestrator cycle.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	CyclesTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "engine_orchestrator_cycles_total",
		Help: "Total orchestrator cycles completed.",
	})

	ErrorsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "engine_orchestrator_errors_total",
		Help: "Total per-signal execution errors absorbed by the orchestrator.",
	})

	CurrentRegime = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_current_regime",
		Help: "1 for the currently dominant regime label, 0 otherwise.",
	}, []string{"regime"})
)

// Trade Closure Listener metrics.
var (
	ListenerProcessed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "engine_listener_processed_total",
		Help: "Total closed-trade events received by the listener.",
	})
	ListenerSaved = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "engine_listener_saved_total",
		Help: "Total closed-trade events successfully persisted.",
	})
	ListenerFailed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "engine_listener_failed_total",
		Help: "Total closed-trade events that failed to persist.",
	})
	TunerAdjustments = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "engine_tuner_adjustments_total",
		Help: "Total EDGE Tuner adjustments applied.",
	})
)

// Risk metrics.
var (
	ConsecutiveLosses = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "engine_risk_consecutive_losses",
		Help: "Current consecutive-loss count tracked by the Risk Manager.",
	})
	LockdownActive = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "engine_risk_lockdown_active",
		Help: "1 if the Risk Manager lockdown is currently active, else 0.",
	})
)

func init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}


// SetDominantRegime flips the one-hot CurrentRegime gauge set.
func SetDominantRegime(active string, all []string) {
	mu.Lock()
	defer mu.Unlock()
	for _, r := range all {
		if r == active {
			CurrentRegime.WithLabelValues(r).Set(1)
		} else {
			CurrentRegime.WithLabelValues(r).Set(0)
		}
	}
}
