package aggregator

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/frame"
	"github.com/c360/framesync/metric"
	"github.com/c360/framesync/stats"
	"github.com/c360/framesync/store"
)

// activity records the time of the most recent callback entry. It is written
// from transport goroutines and read by the drain loop.
type activity struct {
	nanos atomic.Int64
}

func (a *activity) touch(t time.Time) {
	a.nanos.Store(t.UnixNano())
}

func (a *activity) last() time.Time {
	return time.Unix(0, a.nanos.Load())
}

// Ingestor processes the frames of one stream into the store
type Ingestor struct {
	spec      StreamSpec
	encodings map[string]struct{}
	store     *store.Store
	computer  *stats.Computer
	clock     clock.Clock
	activity  *activity
	logger    *slog.Logger
	metrics   *metric.Metrics
}

func newIngestor(spec StreamSpec, st *store.Store, computer *stats.Computer, clk clock.Clock,
	act *activity, logger *slog.Logger, metrics *metric.Metrics) *Ingestor {
	var encodings map[string]struct{}
	if len(spec.Encodings) > 0 {
		encodings = make(map[string]struct{}, len(spec.Encodings))
		for _, e := range spec.Encodings {
			encodings[e] = struct{}{}
		}
	}
	return &Ingestor{
		spec:      spec,
		encodings: encodings,
		store:     st,
		computer:  computer,
		clock:     clk,
		activity:  act,
		logger:    logger.With("stream", spec.Name),
		metrics:   metrics,
	}
}

// Handle is the transport callback. Rejected frames are logged and dropped;
// the stream keeps its previous entry.
func (in *Ingestor) Handle(raw *frame.RawFrame) {
	if err := in.Ingest(raw); err != nil {
		in.logger.Warn("Dropping frame", "encoding", raw.Encoding, "error", err)
	}
}

// Ingest decodes raw, computes its statistics and replaces the stream's entry.
// Last activity is touched before anything can fail.
func (in *Ingestor) Ingest(raw *frame.RawFrame) error {
	received := in.clock.Now()
	in.activity.touch(received)
	if in.metrics != nil {
		in.metrics.RecordFrameReceived(in.spec.Name)
	}

	if in.encodings != nil {
		if _, ok := in.encodings[raw.Encoding]; !ok {
			in.drop("encoding")
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrUnexpectedEncoding, raw.Encoding),
				"Ingestor", "Ingest", "check encoding")
		}
	}

	decoded, err := frame.Decode(raw)
	if err != nil {
		in.drop("decode")
		return err
	}

	st := in.computer.Compute(in.spec.Name, decoded, raw.Reported())

	in.store.Replace(store.Update{
		Stream:   in.spec.Name,
		Stats:    st,
		Frame:    decoded,
		Received: received,
	})

	if in.metrics != nil {
		in.metrics.RecordFrameStored(in.spec.Name, st.ValidRatio, st.MeanNonZero, in.clock.Now().Sub(received))
	}
	in.logger.Debug("Frame stored",
		"shape", st.Shape,
		"valid_ratio", st.ValidRatio,
		"mean_nonzero", st.MeanNonZero,
		"size_consistent", st.SizeConsistent)
	return nil
}

func (in *Ingestor) drop(reason string) {
	if in.metrics != nil {
		in.metrics.RecordFrameDropped(in.spec.Name, reason)
	}
}
