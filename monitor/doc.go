// Package monitor exposes the aggregate store to downstream readers while a
// run is in progress.
//
// Two endpoints are mounted by Register:
//
//	GET <prefix>     the current View as JSON
//	GET <prefix>/ws  a websocket that receives a View every Config.Interval
//
// A View carries the loop state, the capture time and the latest entry per
// stream. Decoded frames are not serialized, only their statistics, so a
// push costs a few hundred bytes per stream.
//
// Close sends a going-away close frame to every client and waits for the
// per-client goroutines. Requests after Close get 503.
package monitor
