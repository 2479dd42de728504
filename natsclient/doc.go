// Package natsclient provides a NATS client with circuit breaker protection,
// automatic reconnection and tracked subscriptions.
//
// The client wraps the standard NATS Go client. It fails fast once a threshold of
// consecutive connection failures is reached (default: 5), then half-opens the
// circuit after an exponentially growing backoff capped by WithMaxBackoff.
// Connection state moves through Disconnected, Connecting, Connected and
// Reconnecting, with optional callbacks for each change.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	sub, err := client.Subscribe("camera.depth.image_rect_raw", func(msg *nats.Msg) {
//	    // runs on the NATS delivery goroutine
//	})
//	...
//	_ = client.Unsubscribe(sub) // safe to call twice
//
// Subscriptions are tracked until Unsubscribe or Close. Close unsubscribes
// whatever is left, drains the connection within the drain timeout (or the
// context deadline if it is sooner) and clears credentials from memory.
//
// # Testing
//
// NewTestClient starts a NATS server in a container through testcontainers-go
// and returns a connected client whose lifetime is bound to the test:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithFastStartup())
//	sub, err := tc.Client.Subscribe("subject", handler)
//
// Container-backed tests run under the integration build tag.
package natsclient
