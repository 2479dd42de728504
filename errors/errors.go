// Package errors provides standardized error handling for framesync components.
// It includes error classification, the sentinel errors of the aggregation engine,
// and helper functions for consistent wrapping across packages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors; the caller logs and carries on
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Frame decoding errors. Both are recoverable: the frame is dropped.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrUnexpectedEncoding  = errors.New("encoding not expected for stream")
	ErrMalformedFrame      = errors.New("malformed frame")

	// Transport errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrUnsubscribeFailed  = errors.New("unsubscribe failed")
	ErrPollFailed         = errors.New("transport poll failed")
	ErrUnknownKind        = errors.New("unknown message kind")
	ErrCircuitOpen        = errors.New("circuit breaker open")

	// Lifecycle errors
	ErrAlreadyRunning = errors.New("aggregator already running")
	ErrNoStreams      = errors.New("no streams requested")

	// Configuration errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// sentinels lists the known errors of each class. An error wrapping one of
// them is treated as that class unless a ClassifiedError says otherwise.
var sentinels = map[ErrorClass][]error{
	ErrorTransient: {
		ErrConnectionTimeout,
		ErrConnectionLost,
		ErrNoConnection,
		ErrPollFailed,
		ErrCircuitOpen,
		context.DeadlineExceeded,
		context.Canceled,
	},
	ErrorInvalid: {
		ErrUnsupportedEncoding,
		ErrUnexpectedEncoding,
		ErrMalformedFrame,
		ErrUnknownKind,
	},
	ErrorFatal: {
		ErrInvalidConfig,
		ErrMissingConfig,
		ErrSubscriptionFailed,
		ErrNoStreams,
	},
}

// transientHints are message fragments of driver errors that carry no sentinel.
var transientHints = []string{"timeout", "connection", "network", "temporary", "unavailable"}

func wraps(err error, class ErrorClass) bool {
	for _, target := range sentinels[class] {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// explicit returns the class of the outermost ClassifiedError in err's chain.
func explicit(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func is(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}
	if c, ok := explicit(err); ok {
		return c == class
	}
	return wraps(err, class)
}

// IsTransient checks if an error is transient
func IsTransient(err error) bool {
	if is(err, ErrorTransient) {
		return true
	}
	if err == nil {
		return false
	}
	if _, ok := explicit(err); ok {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool { return is(err, ErrorFatal) }

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool { return is(err, ErrorInvalid) }

// Classify returns the error class for an error.
// Unknown errors default to transient so per-frame handling keeps going.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if c, ok := explicit(err); ok {
		return c
	}
	for _, class := range []ErrorClass{ErrorFatal, ErrorInvalid} {
		if wraps(err, class) {
			return class
		}
	}
	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(class, wrapped, component, method, wrapped.Error())
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
