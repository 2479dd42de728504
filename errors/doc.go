// Package errors provides standardized error handling for framesync components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, log and continue), Invalid
// (bad input such as an unsupported frame encoding, drop the item) and Fatal
// (unrecoverable, abort the operation). The aggregation engine relies on the classes
// to decide what escalates: only fatal errors, such as a subscription that cannot be
// registered at startup, end an aggregation run. Per-frame and per-poll failures are
// invalid or transient and are isolated to the frame or poll that produced them.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions set the class while wrapping:
//
//	errors.WrapTransient(err, "NATS", "PollOnce", "wait for message")
//	errors.WrapInvalid(err, "Decoder", "Decode", "resolve encoding")
//	errors.WrapFatal(err, "Aggregator", "Run", "subscribe stream")
//
// The generic Wrap() keeps whatever class the wrapped error already has.
//
// # Standard Error Variables
//
// Sentinel errors are grouped by concern:
//
//   - Decoding: ErrUnsupportedEncoding, ErrUnexpectedEncoding, ErrMalformedFrame
//   - Transport: ErrSubscriptionFailed, ErrUnsubscribeFailed, ErrPollFailed, ErrUnknownKind
//   - Lifecycle: ErrAlreadyRunning, ErrNoStreams
//   - Configuration: ErrInvalidConfig, ErrMissingConfig, ErrConfigNotFound
//
// Check them with the standard library:
//
//	if stderrors.Is(err, errors.ErrUnsupportedEncoding) {
//	    // frame dropped, stream keeps its previous entry
//	}
//
// # Thread Safety
//
// Classification and wrapping are safe for concurrent use. ClassifiedError values
// are immutable after creation.
package errors
