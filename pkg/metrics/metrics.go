// Package metrics counts reconciliation outcomes in a Prometheus registry
// and writes them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/merakimate/merakimate/pkg/reconcile"
)

const namespace = "merakimate"

// Recorder is a reconcile.Observer backed by its own registry.
type Recorder struct {
	registry *prometheus.Registry
	scopes   *prometheus.CounterVec
	records  *prometheus.CounterVec
	apply    *prometheus.HistogramVec
	inflight *prometheus.GaugeVec

	mu      sync.Mutex
	current map[reconcile.Scope]reconcile.State
}

var _ reconcile.Observer = (*Recorder)(nil)

// New registers the reconciliation metrics in a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		current:  make(map[reconcile.Scope]reconcile.State),
		scopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "scopes_total",
			Help:      "Scopes reconciled, by kind, final state and failure reason.",
		}, []string{"kind", "state", "reason"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "records_total",
			Help:      "Records per merge partition.",
		}, []string{"kind", "partition"}),
		apply: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "apply_seconds",
			Help:      "Wall time of scopes that reached the apply step.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"kind"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "scopes_in_state",
			Help:      "Scopes currently in each non-terminal state.",
		}, []string{"kind", "state"}),
	}
	r.registry.MustRegister(r.scopes, r.records, r.apply, r.inflight)
	return r
}

// Registry exposes the registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// OnTransition moves the scope between in-flight state gauges.
func (r *Recorder) OnTransition(scope reconcile.Scope, state reconcile.State) {
	kind := string(scope.Kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.current[scope]; ok {
		r.inflight.WithLabelValues(kind, string(prev)).Dec()
		delete(r.current, scope)
	}
	if state == reconcile.StateDone || state == reconcile.StateFailed {
		return
	}
	r.current[scope] = state
	r.inflight.WithLabelValues(kind, string(state)).Inc()
}

// OnOutcome counts the final state and the merge partition sizes.
func (r *Recorder) OnOutcome(o *reconcile.Outcome) {
	kind := string(o.Scope.Kind)
	r.scopes.WithLabelValues(kind, string(o.State), string(o.Reason)).Inc()

	c := o.Counts
	for _, p := range []struct {
		name string
		n    int
	}{
		{"kept", c.Kept},
		{"added", c.Added},
		{"overwritten", c.Overwritten},
		{"skipped", c.Skipped},
		{"dropped", c.Dropped},
		{"removed", c.Removed},
		{"missing", c.Missing},
	} {
		if p.n > 0 {
			r.records.WithLabelValues(kind, p.name).Add(float64(p.n))
		}
	}
	if o.ApplyAttempts > 0 {
		r.apply.WithLabelValues(kind).Observe(o.Duration.Seconds())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.current[o.Scope]; ok {
		r.inflight.WithLabelValues(kind, string(prev)).Dec()
		delete(r.current, o.Scope)
	}
}

// WriteTextfile atomically writes the registry to path for a node-exporter
// textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
