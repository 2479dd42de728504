package transport

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/frame"
)

// KindImage is the message kind carrying msgpack encoded frame.RawFrame payloads
const KindImage = "image"

// Handler receives decoded wire frames for one subscription
type Handler func(*frame.RawFrame)

// Transport is the boundary the drain loop talks to
type Transport interface {
	// Subscribe registers h for messages of kind on topic
	Subscribe(ctx context.Context, topic, kind string, h Handler) (*Subscription, error)
	// Unsubscribe stops deliveries to sub. Calling it again is a no-op.
	Unsubscribe(sub *Subscription) error
	// PollOnce services pending deliveries, waiting at most maxWait for the first
	PollOnce(ctx context.Context, maxWait time.Duration) error
}

// Publisher sends frames onto a transport
type Publisher interface {
	Publish(ctx context.Context, topic string, raw *frame.RawFrame) error
}

// Codec turns a wire payload into a RawFrame
type Codec func([]byte) (*frame.RawFrame, error)

var codecs = map[string]Codec{
	KindImage: frame.Unmarshal,
}

// CodecFor returns the payload codec registered for kind
func CodecFor(kind string) (Codec, error) {
	c, ok := codecs[kind]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownKind, kind),
			"Transport", "CodecFor", "resolve codec")
	}
	return c, nil
}

// Subscription is a live registration of a handler on a topic
type Subscription struct {
	id      string
	topic   string
	kind    string
	active  atomic.Bool
	release func() error
}

// NewSubscription creates an active subscription. release runs once, on the
// first Cancel, and is where a Transport detaches from its bus.
func NewSubscription(topic, kind string, release func() error) *Subscription {
	s := &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		kind:    kind,
		release: release,
	}
	s.active.Store(true)
	return s
}

// ID returns the unique subscription identifier
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic
func (s *Subscription) Topic() string { return s.topic }

// Kind returns the subscribed message kind
func (s *Subscription) Kind() string { return s.kind }

// Active reports whether deliveries still reach the handler
func (s *Subscription) Active() bool { return s.active.Load() }

// Cancel deactivates the subscription and runs its release hook exactly once
func (s *Subscription) Cancel() error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	if s.release == nil {
		return nil
	}
	return s.release()
}
