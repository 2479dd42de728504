package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/framesync/errors"
)

// Registrar is what a component needs to publish its own collectors.
type Registrar interface {
	Register(owner, name string, c prometheus.Collector) error
	Unregister(owner, name string) bool
	UnregisterOwner(owner string) int
}

// MetricsRegistry owns the Prometheus registry of a process. The core
// aggregation metrics and the Go runtime collectors are registered up front;
// components add theirs keyed by owner and name.
type MetricsRegistry struct {
	prom    *prometheus.Registry
	Metrics *Metrics

	mu     sync.RWMutex
	owners map[string]map[string]prometheus.Collector
}

var _ Registrar = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a new metrics registry with the core aggregation metrics
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:    prometheus.NewRegistry(),
		Metrics: NewMetrics(),
		owners:  make(map[string]map[string]prometheus.Collector),
	}
	r.Metrics.register(r.prom)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics returns the core aggregation metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register adds c under owner/name. Registering the same owner/name twice, or
// a collector whose descriptors clash with one already registered, is an
// invalid error.
func (r *MetricsRegistry) Register(owner, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owners[owner][name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, owner),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prom.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				"prometheus conflict for metric "+name)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register collector")
	}

	if r.owners[owner] == nil {
		r.owners[owner] = make(map[string]prometheus.Collector)
	}
	r.owners[owner][name] = c
	return nil
}

// Unregister removes one collector. It reports false if nothing was registered
// under owner/name.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.owners[owner][name]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.owners[owner], name)
	if len(r.owners[owner]) == 0 {
		delete(r.owners, owner)
	}
	return true
}

// UnregisterOwner removes every collector of owner and returns how many went.
func (r *MetricsRegistry) UnregisterOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, c := range r.owners[owner] {
		if r.prom.Unregister(c) {
			removed++
		}
		delete(r.owners[owner], name)
	}
	delete(r.owners, owner)
	return removed
}
