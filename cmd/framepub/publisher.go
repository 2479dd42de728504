package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/framesync/config"
	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/frame"
	"github.com/c360/framesync/transport"
)

type target struct {
	stream   string
	topic    string
	encoding string
}

type publisher struct {
	pub     transport.Publisher
	targets []target
	width   int
	height  int
	limiter *rate.Limiter
	clock   clock.Clock
	logger  *slog.Logger
}

func newPublisher(
	pub transport.Publisher,
	cfg *config.Config,
	width, height int,
	maxRate float64,
	clk clock.Clock,
	logger *slog.Logger,
) *publisher {
	targets := make([]target, 0, len(cfg.RequestedStreams))
	for _, name := range cfg.RequestedStreams {
		sc := cfg.Streams[name]
		targets = append(targets, target{stream: name, topic: sc.Topic, encoding: encodingFor(name, sc)})
	}
	limit := rate.Inf
	if maxRate > 0 {
		limit = rate.Limit(maxRate)
	}
	return &publisher{
		pub:     pub,
		limiter: rate.NewLimiter(limit, max(1, len(targets))),
		targets: targets,
		width:   width,
		height:  height,
		clock:   clk,
		logger:  logger,
	}
}

// encodingFor picks the first accepted encoding, else 16UC1 for depth streams and bgr8 otherwise
func encodingFor(name string, sc config.StreamConfig) string {
	if len(sc.Encodings) > 0 {
		return sc.Encodings[0]
	}
	if strings.Contains(strings.ToLower(name), "depth") {
		return frame.Encoding16UC1
	}
	return frame.EncodingBGR8
}

// Run publishes count frames to every target, one goroutine per target,
// pausing interval between frames. count zero means until ctx ends.
func (p *publisher) Run(ctx context.Context, count int, interval time.Duration) (int, error) {
	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range p.targets {
		t := t
		g.Go(func() error {
			return p.publishStream(gctx, t, count, interval, &sent)
		})
	}
	err := g.Wait()
	return int(sent.Load()), err
}

func (p *publisher) publishStream(ctx context.Context, t target, count int, interval time.Duration, sent *atomic.Int64) error {
	for seq := 0; count == 0 || seq < count; seq++ {
		if seq > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(interval):
			}
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		raw, err := synthesize(t.encoding, p.width, p.height, seq)
		if err != nil {
			return errors.WrapInvalid(err, "Publisher", "Run", "synthesize "+t.stream)
		}
		raw.Stamp = p.clock.Now()
		raw.FrameID = t.stream
		if err := p.pub.Publish(ctx, t.topic, raw); err != nil {
			if errors.IsTransient(err) && ctx.Err() == nil {
				p.logger.Warn("Publish failed", "stream", t.stream, "seq", seq, "error", err)
				continue
			}
			return errors.Wrap(err, "Publisher", "Run", "publish "+t.stream)
		}
		sent.Add(1)
		p.logger.Debug("Published frame", "stream", t.stream, "topic", t.topic, "seq", seq)
	}
	return nil
}

func channelsOf(encoding string) int {
	switch encoding {
	case frame.EncodingBGR8, frame.EncodingRGB8:
		return 3
	case frame.EncodingBGRA8, frame.EncodingRGBA8:
		return 4
	default:
		return 1
	}
}

// synthesize builds a frame whose content shifts with seq. Every fourth
// pixel of single-channel depth frames is zero so validity stays below one.
func synthesize(encoding string, width, height, seq int) (*frame.RawFrame, error) {
	et, ok := frame.ElementTypeOf(encoding)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedEncoding, encoding)
	}
	channels := channelsOf(encoding)
	n := width * height * channels

	switch et {
	case frame.Uint8:
		samples := make([]uint8, n)
		for i := range samples {
			samples[i] = uint8((i+seq)%255) + 1
		}
		return frame.FromUint8(encoding, width, height, channels, samples)
	case frame.Uint16:
		samples := make([]uint16, n)
		for i := range samples {
			if i%4 != 0 {
				samples[i] = uint16(500 + (i+seq)%1000)
			}
		}
		return frame.FromUint16(encoding, width, height, channels, samples)
	default:
		samples := make([]float32, n)
		for i := range samples {
			if i%4 != 0 {
				samples[i] = 0.5 + float32((i+seq)%1000)/1000
			}
		}
		return frame.FromFloat32(encoding, width, height, channels, samples)
	}
}
