// Package transport defines the boundary between the aggregation engine and the
// message bus carrying sensor frames, with NATS and MQTT implementations.
//
// A Transport offers three operations: Subscribe registers a Handler for one
// topic and message kind, Unsubscribe removes it (calling it twice is safe),
// and PollOnce services pending deliveries for at most a bounded wait.
//
// Both bus adapters push incoming payloads into a Dispatcher. In DispatchPoll
// mode deliveries are queued and handlers run inside PollOnce on the caller's
// goroutine, which is how a single threaded drain loop pumps callbacks. In
// DispatchAsync mode handlers run immediately on the bus client's goroutines
// and PollOnce only waits. Either way a handler never sees a message after its
// subscription was cancelled, and a panicking handler surfaces as an
// errors.ErrPollFailed poll error rather than crashing the process.
//
// Payloads of kind KindImage are msgpack encoded frame.RawFrame values; see
// frame.Marshal. Topics use ROS style slash paths and are mapped onto NATS
// subjects by SubjectFor and onto MQTT topics by TopicFor.
package transport
