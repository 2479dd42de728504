// Package retry provides exponential backoff retry logic for transient failures.
//
// framesync uses it to connect to the message bus at startup, where the broker
// may still be coming up.
//
// # Core Functions
//
//   - Do: Execute function with retry and exponential backoff
//   - DoWithResult: Execute function with retry, returns both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Quick(): 10 attempts, 50ms-1s delay (startup)
//   - Persistent(): 30 attempts, 200ms-10s delay (bus that starts late)
//
// # Usage Examples
//
// Retry only transient failures:
//
//	cfg := retry.Quick()
//	cfg.Retryable = errors.IsTransient
//	tr, err := retry.DoWithResult(ctx, cfg, func() (*transport.MQTT, error) {
//	    return transport.DialMQTT(mqttCfg, dispatcher, logger)
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately regardless of
// Retryable.
//
// # Context Cancellation
//
// All retry operations respect context cancellation and stop retrying when the
// context is cancelled, either during operation execution or during backoff.
//
// # Testing
//
// Config.Clock accepts a juju testclock so backoff schedules can be verified
// without sleeping.
package retry
