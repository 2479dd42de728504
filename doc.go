// Package framesync aggregates the latest frame of several depth camera image
// streams and reports per-stream statistics.
//
// # Overview
//
// A framesync run subscribes to a fixed set of named streams on a message bus,
// decodes every incoming frame, computes a small set of statistics for it and
// keeps only the most recent result per stream. The run ends when no frame has
// arrived for the configured timeout, or when its context is cancelled. What is
// left in the store at that point is the run's result.
//
// There is no cross-stream alignment. A snapshot is "the newest value of each
// stream at query time", nothing more.
//
// # Architecture
//
// Packages, leaf first:
//
//	errors      classified errors (transient, invalid, fatal) and sentinels
//	frame       wire frame (RawFrame), msgpack codec, Decode to typed arrays
//	stats       per-stream statistics and depth sanitization policies
//	store       concurrency-safe map of stream name to latest Entry
//	transport   bus boundary: Transport, Dispatcher, NATS and MQTT adapters
//	natsclient  NATS connection management with a circuit breaker
//	aggregator  ingestion callbacks and the drain loop
//	config      layered JSON/YAML configuration with schema validation
//	bus         connects the configured transport with retry
//	monitor     HTTP and websocket views of the store during a run
//	metric      Prometheus registry and metrics server
//
// Commands:
//
//	cmd/framesync  runs the aggregator and prints the result as JSON
//	cmd/framepub   publishes synthetic camera frames for testing a deployment
//
// # Data flow
//
//	bus ──► Dispatcher ──PollOnce──► Ingestor ──► Decode ──► stats.Computer ──► store.Store
//	                                                                              │
//	                                               Result / monitor / metrics ◄───┘
//
// In poll dispatch mode, bus callbacks only enqueue. Handlers run inside
// Transport.PollOnce on the drain loop goroutine, which mirrors a single
// threaded spin loop. Async mode runs handlers on the bus's own goroutines,
// and the store serializes writers.
//
// # Failure handling
//
// A frame that cannot be decoded is logged and dropped, and the stream's
// previous entry stays. A poll error is counted and the loop continues. A
// failed subscription at startup rolls back the ones already made and ends
// the run with a fatal error.
//
// # Quick start
//
//	framesync --config configs/camera.yaml --timeout 5
//	framepub --count 50 --interval 100ms
//
// See cmd/framesync for flags and environment variables.
package framesync
