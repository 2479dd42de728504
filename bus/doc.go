// Package bus connects the message bus named in a config.Config.
//
// Connect builds the NATS or MQTT transport, its dispatcher and, when a
// registry is supplied, their metrics. Transient connection failures are
// retried with exponential backoff, so a broker that is still starting does
// not fail the process; invalid settings fail immediately.
//
//	conn, err := bus.Connect(ctx, cfg, bus.Options{Attempts: 10, Logger: logger})
//	if err != nil {
//		return err
//	}
//	defer conn.Close(context.Background())
package bus
