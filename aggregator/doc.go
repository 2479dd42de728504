// Package aggregator runs the subscribe, drain and unsubscribe cycle over a set
// of camera streams.
//
// An Aggregator owns one Ingestor per requested stream. Ingestors are the
// transport callbacks: they decode the raw frame, compute its statistics and
// replace the stream's entry in the shared store.Store. The drain loop in Run
// repeatedly asks the transport to service pending callbacks and stops when the
// run timeout elapses or the context is cancelled.
//
// Timeout semantics
//
// Config.Timeout is measured either from the last frame seen on any stream
// (TimeoutFromActivity, the default) or from loop start (TimeoutFromStart). A
// zero or negative timeout runs until the context is cancelled. Activity is
// recorded when a callback is entered, so a stream sending undecodable frames
// still keeps the run alive.
//
// Failure handling
//
// Subscribing is all or nothing: if any stream fails to subscribe, the ones
// already registered are released and Run returns a fatal error. Poll failures
// and rejected frames are logged and the loop continues; a stream keeps its
// previous entry when a frame is dropped.
//
// Example:
//
//	agg, err := aggregator.New(aggregator.Config{Timeout: 5 * time.Second}, specs,
//		aggregator.Deps{Transport: tr, Logger: logger})
//	if err != nil {
//		return err
//	}
//	result, err := agg.Run(ctx)
package aggregator
