package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/framesync/metric"
)

// dispatchMetrics holds Prometheus metrics for a Dispatcher
type dispatchMetrics struct {
	delivered  prometheus.Counter
	dropped    *prometheus.CounterVec
	queueDepth prometheus.Gauge
	panics     prometheus.Counter
}

// newDispatchMetrics creates and registers dispatcher metrics.
// Returns nil, nil when registry is nil.
func newDispatchMetrics(registry *metric.MetricsRegistry, name string) (*dispatchMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"transport": name}
	service := "dispatcher-" + name

	m := &dispatchMetrics{
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "framesync",
			Subsystem:   "dispatch",
			Name:        "delivered_total",
			Help:        "Messages handed to subscription handlers",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "framesync",
			Subsystem:   "dispatch",
			Name:        "dropped_total",
			Help:        "Messages dropped before reaching a handler",
			ConstLabels: labels,
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "framesync",
			Subsystem:   "dispatch",
			Name:        "queue_depth",
			Help:        "Deliveries waiting for the next poll",
			ConstLabels: labels,
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "framesync",
			Subsystem:   "dispatch",
			Name:        "handler_panics_total",
			Help:        "Handler panics recovered by the dispatcher",
			ConstLabels: labels,
		}),
	}

	var done []string
	for name, c := range map[string]prometheus.Collector{
		"delivered":      m.delivered,
		"dropped":        m.dropped,
		"queue_depth":    m.queueDepth,
		"handler_panics": m.panics,
	} {
		if err := registry.Register(service, name, c); err != nil {
			for _, n := range done {
				registry.Unregister(service, n)
			}
			return nil, err
		}
		done = append(done, name)
	}

	return m, nil
}
