package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/frame"
)

// MQTTConfig configures the MQTT transport
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	QoS       byte
	// Timeout bounds connect, subscribe, unsubscribe and publish round trips
	Timeout time.Duration
}

// mqttClient is the part of mqtt.Client the transport uses
type mqttClient interface {
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// mqttRoute fans one broker subscription out to every local subscription on the topic
type mqttRoute struct {
	subs map[*Subscription]Handler
}

// MQTT carries frames over an MQTT broker. The broker holds one subscription
// per topic; local subscriptions on the same topic share it.
type MQTT struct {
	client     mqttClient
	dispatcher *Dispatcher
	logger     *slog.Logger
	qos        byte
	timeout    time.Duration

	// subMu serializes broker subscribe and unsubscribe round trips; mu
	// guards routes and is never held while waiting on the broker
	subMu  sync.Mutex
	mu     sync.Mutex
	routes map[string]*mqttRoute
}

var (
	_ Transport = (*MQTT)(nil)
	_ Publisher = (*MQTT)(nil)
)

// DialMQTT connects to the broker in cfg and returns a transport over it
func DialMQTT(cfg MQTTConfig, dispatcher *Dispatcher, logger *slog.Logger) (*MQTT, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "MQTT", "DialMQTT", "broker url")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "framesync-" + uuid.NewString()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	log := logger.With("transport", "mqtt", "broker", cfg.BrokerURL)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.OnConnect = func(_ mqtt.Client) {
		log.Info("MQTT connection established", "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost, will auto-reconnect", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, errors.WrapTransient(errors.ErrConnectionTimeout, "MQTT", "DialMQTT", "connect")
	}
	if err := token.Error(); err != nil {
		return nil, errors.WrapTransient(err, "MQTT", "DialMQTT", "connect")
	}

	return newMQTT(client, dispatcher, logger, cfg.QoS, cfg.Timeout), nil
}

func newMQTT(client mqttClient, dispatcher *Dispatcher, logger *slog.Logger, qos byte, timeout time.Duration) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		client:     client,
		dispatcher: dispatcher,
		logger:     logger.With("transport", "mqtt"),
		qos:        qos,
		timeout:    timeout,
		routes:     make(map[string]*mqttRoute),
	}
}

// Health reports a lost broker connection as an error, for DispatcherConfig.Health
func (t *MQTT) Health() error {
	if t.client.IsConnected() {
		return nil
	}
	return fmt.Errorf("%w: mqtt broker", errors.ErrConnectionLost)
}

// TopicFor maps a ROS style topic onto an MQTT topic
func TopicFor(topic string) string {
	return strings.TrimPrefix(topic, "/")
}

// Subscribe registers h for frames published on topic
func (t *MQTT) Subscribe(_ context.Context, topic, kind string, h Handler) (*Subscription, error) {
	codec, err := CodecFor(kind)
	if err != nil {
		return nil, err
	}

	name := TopicFor(topic)
	if name == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty topic", errors.ErrSubscriptionFailed),
			"MQTT", "Subscribe", "map topic")
	}

	var sub *Subscription
	sub = NewSubscription(topic, kind, func() error { return t.release(name, sub) })

	t.subMu.Lock()
	defer t.subMu.Unlock()

	t.mu.Lock()
	if route, ok := t.routes[name]; ok {
		route.subs[sub] = h
		t.mu.Unlock()
		t.logger.Info("Subscribed", "topic", topic, "kind", kind, "id", sub.ID(), "shared", true)
		return sub, nil
	}
	t.mu.Unlock()

	token := t.client.Subscribe(name, t.qos, func(_ mqtt.Client, msg mqtt.Message) {
		t.fanOut(name, codec, msg.Payload())
	})
	if err := t.await(token); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			"MQTT", "Subscribe", fmt.Sprintf("subscribe to %s", name))
	}

	t.mu.Lock()
	t.routes[name] = &mqttRoute{subs: map[*Subscription]Handler{sub: h}}
	t.mu.Unlock()

	t.logger.Info("Subscribed", "topic", topic, "kind", kind, "id", sub.ID(), "qos", t.qos)
	return sub, nil
}

func (t *MQTT) fanOut(name string, codec Codec, payload []byte) {
	t.mu.Lock()
	route, ok := t.routes[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	targets := make([]delivery, 0, len(route.subs))
	for sub, h := range route.subs {
		targets = append(targets, delivery{sub: sub, handler: h})
	}
	t.mu.Unlock()

	for _, dv := range targets {
		t.dispatcher.Deliver(dv.sub, dv.handler, codec, payload)
	}
}

// release drops sub from its route and removes the broker subscription with the last one
func (t *MQTT) release(name string, sub *Subscription) error {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	t.mu.Lock()
	route, ok := t.routes[name]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(route.subs, sub)
	last := len(route.subs) == 0
	if last {
		delete(t.routes, name)
	}
	t.mu.Unlock()

	if !last || !t.client.IsConnected() {
		return nil
	}
	return t.await(t.client.Unsubscribe(name))
}

// Unsubscribe stops deliveries to sub
func (t *MQTT) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if err := sub.Cancel(); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrUnsubscribeFailed, err),
			"MQTT", "Unsubscribe", fmt.Sprintf("unsubscribe from %s", sub.Topic()))
	}
	t.logger.Info("Unsubscribed", "topic", sub.Topic(), "id", sub.ID())
	return nil
}

// PollOnce services pending deliveries
func (t *MQTT) PollOnce(ctx context.Context, maxWait time.Duration) error {
	return t.dispatcher.PollOnce(ctx, maxWait)
}

// Publish encodes raw and publishes it on topic
func (t *MQTT) Publish(_ context.Context, topic string, raw *frame.RawFrame) error {
	data, err := frame.Marshal(raw)
	if err != nil {
		return err
	}
	if err := t.await(t.client.Publish(TopicFor(topic), t.qos, false, data)); err != nil {
		return errors.WrapTransient(err, "MQTT", "Publish", fmt.Sprintf("publish to %s", topic))
	}
	return nil
}

// Close disconnects from the broker
func (t *MQTT) Close() {
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
}

func (t *MQTT) await(token mqtt.Token) error {
	if !token.WaitTimeout(t.timeout) {
		return errors.ErrConnectionTimeout
	}
	return token.Error()
}
