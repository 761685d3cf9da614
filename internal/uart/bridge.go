package uart

import (
	"context"
	"io"
	"sync/atomic"

	"codeberg.org/mutker/sensorbridge/internal/clock"
	"codeberg.org/mutker/sensorbridge/internal/codec"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/sensor"
	"codeberg.org/mutker/sensorbridge/internal/status"
)

// Sink receives every decoded frame under its channel label.
type Sink interface {
	AddValue(label string, value float64)
}

// Observer evaluates readings that drive actuators.
type Observer interface {
	Observe(r sensor.Reading) (bool, error)
}

// Stats counts received lines.
type Stats struct {
	Frames       uint64 `json:"frames"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

// WithObserver forwards frames of known sensor channels to o.
func WithObserver(o Observer) BridgeOption {
	return func(b *Bridge) {
		b.observer = o
	}
}

// WithIdleEOF treats io.EOF as an idle line rather than the end of the
// stream. Serial ports opened with a read timeout need this.
func WithIdleEOF() BridgeOption {
	return func(b *Bridge) {
		b.idleEOF = true
	}
}

// Bridge feeds frames received over the serial line into the batcher.
type Bridge struct {
	reader   *codec.Reader
	labels   []string
	sink     Sink
	observer Observer
	idleEOF  bool
	clock    clock.Clock
	status   *status.Tracker
	logger   logger.Logger

	frames       atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewBridge reads frames from r. The frame index selects the label.
func NewBridge(
	r io.Reader,
	labels []string,
	sink Sink,
	clk clock.Clock,
	tracker *status.Tracker,
	log logger.Logger,
	opts ...BridgeOption,
) (*Bridge, error) {
	errFactory := errors.New()

	if len(labels) == 0 || len(labels) > 10 {
		return nil, errFactory.WithData(ErrNoLabels, len(labels))
	}

	b := &Bridge{
		reader: codec.NewReader(r, codec.New(len(labels))),
		labels: labels,
		sink:   sink,
		clock:  clk,
		status: tracker,
		logger: log,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Run receives frames until ctx is done or the stream fails. The receive
// blocks in the transport; closing the port unblocks it.
func (b *Bridge) Run(ctx context.Context) error {
	errFactory := errors.New()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := b.reader.ReadFrame()
		switch {
		case err == nil:
			b.handle(frame)
		case codec.IsDecodeError(err):
			b.decodeErrors.Add(1)
			b.status.Set(status.DataError)
			b.logger.Warn().
				Err(err).
				Msg("Discarding malformed frame")
		case errors.Is(err, io.EOF) && b.idleEOF:
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			b.logger.Info().Msg("Serial stream closed")
			return nil
		default:
			return errFactory.Wrap(ErrReadFailed, err)
		}
	}
}

func (b *Bridge) handle(frame codec.Frame) {
	b.frames.Add(1)
	b.status.Set(status.ReadingData)

	label := b.labels[frame.Index]
	b.logger.Debug().
		Uint8("index", frame.Index).
		Str("label", label).
		Float64("value", frame.Value).
		Msg("Frame received")

	b.sink.AddValue(label, frame.Value)

	if b.observer == nil {
		return
	}

	ch, ok := sensor.FromIndex(int(frame.Index))
	if !ok {
		return
	}

	reading := sensor.Reading{Channel: ch, Value: frame.Value, Timestamp: b.clock.Now()}
	if _, err := b.observer.Observe(reading); err != nil {
		b.logger.Error().
			Err(err).
			Str("label", label).
			Msg("Actuator update failed")
	}
}

// Stats returns the receive counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Frames:       b.frames.Load(),
		DecodeErrors: b.decodeErrors.Load(),
	}
}
