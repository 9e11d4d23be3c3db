package observability

import (
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics exports solver and registry counters to Prometheus.
type EngineMetrics struct {
	nodeTransitions    *promclient.CounterVec
	predictorFailures  *promclient.CounterVec
	artifactRegistered promclient.Counter
	artifactMerged     promclient.Counter
	solveDuration      *promclient.HistogramVec
}

// NewEngineMetrics registers engine metrics on reg, tolerating collectors
// that another engine instance already registered.
func NewEngineMetrics(namespace string, reg promclient.Registerer) (*EngineMetrics, error) {
	if namespace == "" {
		namespace = "roma_engine"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	m := &EngineMetrics{
		nodeTransitions: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "node_transitions_total",
			Help:      "Count of task node state transitions.",
		}, []string{"to"}),
		predictorFailures: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "predictor_failures_total",
			Help:      "Count of failed predictor invocations.",
		}, []string{"role"}),
		artifactRegistered: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_registered_total",
			Help:      "Count of artifacts inserted into the registry.",
		}),
		artifactMerged: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_merged_total",
			Help:      "Count of artifact registrations deduplicated by storage path.",
		}),
		solveDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "node_solve_duration_seconds",
			Help:      "Wall time spent solving a task node, including children.",
			Buckets:   promclient.DefBuckets,
		}, []string{"terminal"}),
	}

	if err := registerCounterVec(reg, &m.nodeTransitions); err != nil {
		return nil, err
	}
	if err := registerCounterVec(reg, &m.predictorFailures); err != nil {
		return nil, err
	}
	if err := registerCounter(reg, &m.artifactRegistered); err != nil {
		return nil, err
	}
	if err := registerCounter(reg, &m.artifactMerged); err != nil {
		return nil, err
	}
	if err := reg.Register(m.solveDuration); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*promclient.HistogramVec); ok {
				m.solveDuration = existing
			} else {
				return nil, fmt.Errorf("register solve histogram: %w", err)
			}
		} else {
			return nil, fmt.Errorf("register solve histogram: %w", err)
		}
	}
	return m, nil
}

func registerCounterVec(reg promclient.Registerer, vec **promclient.CounterVec) error {
	if err := reg.Register(*vec); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*promclient.CounterVec); ok {
				*vec = existing
				return nil
			}
		}
		return fmt.Errorf("register counter vec: %w", err)
	}
	return nil
}

func registerCounter(reg promclient.Registerer, counter *promclient.Counter) error {
	if err := reg.Register(*counter); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(promclient.Counter); ok {
				*counter = existing
				return nil
			}
		}
		return fmt.Errorf("register counter: %w", err)
	}
	return nil
}

// NodeTransition records a state transition on a task node.
func (m *EngineMetrics) NodeTransition(to string) {
	if m == nil {
		return
	}
	m.nodeTransitions.WithLabelValues(to).Inc()
}

// PredictorFailure records a failed predictor call for a role.
func (m *EngineMetrics) PredictorFailure(role string) {
	if m == nil {
		return
	}
	m.predictorFailures.WithLabelValues(role).Inc()
}

// ArtifactRegistered counts a fresh registry insert.
func (m *EngineMetrics) ArtifactRegistered() {
	if m == nil {
		return
	}
	m.artifactRegistered.Inc()
}

// ArtifactMerged counts a registration deduplicated into an existing entry.
func (m *EngineMetrics) ArtifactMerged() {
	if m == nil {
		return
	}
	m.artifactMerged.Inc()
}

// ObserveSolve records the duration of one node solve.
func (m *EngineMetrics) ObserveSolve(terminal string, seconds float64) {
	if m == nil {
		return
	}
	m.solveDuration.WithLabelValues(terminal).Observe(seconds)
}
