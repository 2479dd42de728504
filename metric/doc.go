// Package metric provides Prometheus-based metrics collection and an HTTP
// server for framesync runs.
//
// The package offers a registry holding the core aggregation metrics (frames
// received, stored and dropped per stream, latest per-stream statistics, drain
// loop state and NATS health) plus an extension point for component-specific
// collectors.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil && err != http.ErrServerClosed {
//	        logger.Error("metrics server", "error", err)
//	    }
//	}()
//
//	core := registry.CoreMetrics()
//	core.RecordFrameReceived("depthStream")
//
// # Optional Metrics
//
// Components accept a nil *MetricsRegistry and skip metrics entirely in that
// case, so tests and embedded uses pay nothing for instrumentation:
//
//	if registry != nil {
//	    metrics = registry.CoreMetrics()
//	}
//
// # Component Metrics
//
// Components with their own collectors register them by owner and metric
// name. Registering the same key twice returns an invalid-class error, and a
// name clash inside Prometheus is reported the same way. UnregisterOwner drops
// everything a component registered:
//
//	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Namespace: "framesync",
//	    Subsystem: "dispatch",
//	    Name:      "queue_depth",
//	    Help:      "Deliveries waiting for the next poll",
//	})
//	err := registry.Register("dispatcher-nats", "queue_depth", queueDepth)
package metric
