// Package metrics records shrink run metrics in a private prometheus registry.
// Build tools scrape them through the node_exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shrinker"

// Phase names used for the phase duration histogram
const (
	PhaseScan      = "scan"
	PhasePasses    = "passes"
	PhaseRoots     = "roots"
	PhasePropagate = "propagate"
	PhaseRewrite   = "rewrite"
	PhasePersist   = "persist"
)

// Metrics holds the collectors for one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ClassesScanned       *prometheus.CounterVec
	Runs                 *prometheus.CounterVec
	IncrementalFallbacks prometheus.Counter
	OutputsWritten       prometheus.Counter
	OutputsDeleted       prometheus.Counter
	Diagnostics          prometheus.Counter
	GraphEdges           prometheus.Gauge
	GraphMembers         prometheus.Gauge
	ReachableClasses     *prometheus.GaugeVec
	ReachableMembers     *prometheus.GaugeVec
	PhaseDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them in a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ClassesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classes_scanned_total",
			Help:      "Class files scanned by input kind",
		}, []string{"kind"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed shrink runs by mode",
		}, []string{"mode"}),
		IncrementalFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incremental_fallbacks_total",
			Help:      "Incremental runs that fell back to a full run",
		}),
		OutputsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outputs_written_total",
			Help:      "Rewritten class files",
		}),
		OutputsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outputs_deleted_total",
			Help:      "Output class files deleted because the class became unreachable",
		}),
		Diagnostics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Distinct unresolved reference warnings",
		}),
		GraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Dependency edges in the graph after the last run",
		}),
		GraphMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_members",
			Help:      "Member nodes in the graph after the last run",
		}),
		ReachableClasses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reachable_classes",
			Help:      "Reachable classes per counter set",
		}, []string{"counter_set"}),
		ReachableMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reachable_members",
			Help:      "Reachable program members per counter set",
		}, []string{"counter_set"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of each shrink phase",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"phase"}),
	}

	m.registry.MustRegister(
		m.ClassesScanned,
		m.Runs,
		m.IncrementalFallbacks,
		m.OutputsWritten,
		m.OutputsDeleted,
		m.Diagnostics,
		m.GraphEdges,
		m.GraphMembers,
		m.ReachableClasses,
		m.ReachableMembers,
		m.PhaseDuration,
	)
	return m
}

// Registry exposes the registry for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObservePhase records how long a phase took since start
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// AddScanned counts scanned class files of kind ("program" or "library")
func (m *Metrics) AddScanned(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ClassesScanned.WithLabelValues(kind).Add(float64(n))
}

// Fallback counts one incremental run replaced by a full run
func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.IncrementalFallbacks.Inc()
}

// Record copies a finished run summary into the gauges and counters
func (m *Metrics) Record(s RunStats) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(s.Mode).Inc()
	m.OutputsWritten.Add(float64(s.Written))
	m.OutputsDeleted.Add(float64(s.Deleted))
	m.Diagnostics.Add(float64(s.Warnings))
	m.GraphEdges.Set(float64(s.Edges))
	m.GraphMembers.Set(float64(s.Members))
	for cs, n := range s.ReachableClasses {
		m.ReachableClasses.WithLabelValues(cs).Set(float64(n))
	}
	for cs, n := range s.ReachableMembers {
		m.ReachableMembers.WithLabelValues(cs).Set(float64(n))
	}
}

// WriteTextfile writes every metric in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
