// Package frame converts wire-encoded sensor images into typed numeric arrays.
//
// A RawFrame is what a transport delivers: an encoding tag, the reported width,
// height and row stride, and the byte payload. Decode turns it into a Decoded
// frame holding uint8, uint16 or float32 samples shaped (height, width) or
// (height, width, channels).
//
// The channel count is derived from the stride, not from the encoding name:
//
//	channels = step / (width * elementSize)
//
// so rows padded by the producer still decode, with the padding skipped.
//
// Frames travel between processes as msgpack maps (see Marshal and Unmarshal).
// Decoding is pure: it never touches shared state and is safe to call from any
// goroutine.
package frame
