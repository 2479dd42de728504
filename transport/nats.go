package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/frame"
	"github.com/c360/framesync/natsclient"
)

// NATS carries frames over NATS core subjects
type NATS struct {
	client     *natsclient.Client
	dispatcher *Dispatcher
	logger     *slog.Logger
}

var (
	_ Transport = (*NATS)(nil)
	_ Publisher = (*NATS)(nil)
)

// NewNATS creates a NATS transport over a connected client
func NewNATS(client *natsclient.Client, dispatcher *Dispatcher, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{
		client:     client,
		dispatcher: dispatcher,
		logger:     logger.With("transport", "nats"),
	}
}

// NATSHealth reports a lost connection as an error, for DispatcherConfig.Health
func NATSHealth(client *natsclient.Client) func() error {
	return func() error {
		if client.IsHealthy() {
			return nil
		}
		return fmt.Errorf("%w: nats %s", errors.ErrConnectionLost, client.Status())
	}
}

// SubjectFor maps a slash separated topic onto a NATS subject
func SubjectFor(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// Subscribe registers h for frames published on topic
func (t *NATS) Subscribe(_ context.Context, topic, kind string, h Handler) (*Subscription, error) {
	codec, err := CodecFor(kind)
	if err != nil {
		return nil, err
	}

	subject := SubjectFor(topic)
	if subject == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty topic", errors.ErrSubscriptionFailed),
			"NATS", "Subscribe", "map topic to subject")
	}

	var ns *nats.Subscription
	sub := NewSubscription(topic, kind, func() error {
		return t.client.Unsubscribe(ns)
	})
	ns, err = t.client.Subscribe(subject, func(msg *nats.Msg) {
		t.dispatcher.Deliver(sub, h, codec, msg.Data)
	})
	if err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			"NATS", "Subscribe", fmt.Sprintf("subscribe to %s", subject))
	}

	t.logger.Info("Subscribed", "topic", topic, "subject", subject, "kind", kind, "id", sub.ID())
	return sub, nil
}

// Unsubscribe stops deliveries to sub
func (t *NATS) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if err := sub.Cancel(); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrUnsubscribeFailed, err),
			"NATS", "Unsubscribe", fmt.Sprintf("unsubscribe from %s", sub.Topic()))
	}
	t.logger.Info("Unsubscribed", "topic", sub.Topic(), "id", sub.ID())
	return nil
}

// PollOnce services pending deliveries
func (t *NATS) PollOnce(ctx context.Context, maxWait time.Duration) error {
	return t.dispatcher.PollOnce(ctx, maxWait)
}

// Publish encodes raw and publishes it on topic
func (t *NATS) Publish(ctx context.Context, topic string, raw *frame.RawFrame) error {
	data, err := frame.Marshal(raw)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, SubjectFor(topic), data); err != nil {
		return errors.WrapTransient(err, "NATS", "Publish", fmt.Sprintf("publish to %s", topic))
	}
	return nil
}
