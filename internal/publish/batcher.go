// Package publish accumulates the latest value per variable label and
// flushes the batch to the broker at most once per interval.
package publish

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/clock"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/status"
)

const (
	// DefaultSimpleInterval is the flush window used when frames arrive
	// over the serial bridge.
	DefaultSimpleInterval = 15 * time.Second
	// DefaultBatchInterval is the flush window for locally sampled sensors.
	DefaultBatchInterval = 10 * time.Minute
)

// Publisher is the gated outbound side of the broker.
type Publisher interface {
	// Ensure reports whether the broker is usable right now, reconnecting
	// if needed.
	Ensure(ctx context.Context) bool
	Publish(ctx context.Context, deviceLabel string, values map[string]float64) error
}

// Recorder receives every successful flush.
type Recorder interface {
	RecordFlush(at time.Time, values map[string]float64)
}

type entry struct {
	value float64
	seq   uint64
}

// Batcher owns the pending batch and the flush timer.
type Batcher struct {
	mu          sync.Mutex
	deviceLabel string
	interval    uint32
	pending     map[string]entry
	seq         uint64
	lastFlush   clock.Timestamp
	flushes     uint64

	// flushMu serializes flushes without holding mu across network I/O.
	flushMu sync.Mutex

	publisher Publisher
	status    *status.Tracker
	recorder  Recorder
	logger    logger.Logger
}

// Option customizes a Batcher.
type Option func(*Batcher)

// WithRecorder reports successful flushes to r.
func WithRecorder(r Recorder) Option {
	return func(b *Batcher) {
		b.recorder = r
	}
}

// New returns a Batcher whose flush timer starts at start.
func New(
	deviceLabel string,
	interval time.Duration,
	start clock.Timestamp,
	publisher Publisher,
	tracker *status.Tracker,
	log logger.Logger,
	opts ...Option,
) *Batcher {
	b := &Batcher{
		deviceLabel: deviceLabel,
		interval:    clock.Millis(interval),
		pending:     make(map[string]entry),
		lastFlush:   start,
		publisher:   publisher,
		status:      tracker,
		logger:      log,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// AddValue stores value under label, replacing any value added since the
// previous flush.
func (b *Batcher) AddValue(label string, value float64) {
	b.mu.Lock()
	b.seq++
	b.pending[label] = entry{value: value, seq: b.seq}
	size := len(b.pending)
	b.mu.Unlock()

	b.status.Set(status.SendingData)
	b.logger.Debug().
		Str("label", label).
		Float64("value", value).
		Int("pending", size).
		Msg("Value added to batch")
}

// Tick flushes the batch if the interval since the previous flush has
// passed. It reports whether the broker was sent a batch.
//
// A window with nothing added restarts the timer without contacting the
// broker. When the broker is unreachable or the publish fails, the batch
// and the timer are kept so the next tick retries. Values added while a
// publish is in flight stay pending for the following window.
func (b *Batcher) Tick(ctx context.Context, now clock.Timestamp) bool {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if clock.Elapsed(now, b.lastFlush) <= b.interval {
		b.mu.Unlock()
		return false
	}

	if len(b.pending) == 0 {
		b.lastFlush = now
		b.mu.Unlock()
		return false
	}

	values := make(map[string]float64, len(b.pending))
	for label, e := range b.pending {
		values[label] = e.value
	}
	snapshot := b.seq
	b.mu.Unlock()

	if !b.publisher.Ensure(ctx) {
		b.logger.Debug().
			Int("pending", len(values)).
			Msg("Broker unavailable, keeping batch")
		return false
	}

	if err := b.publisher.Publish(ctx, b.deviceLabel, values); err != nil {
		b.logger.Warn().
			Err(err).
			Int("pending", len(values)).
			Msg("Publish failed, keeping batch for next tick")
		return false
	}

	b.mu.Lock()
	for label, e := range b.pending {
		if e.seq <= snapshot {
			delete(b.pending, label)
		}
	}
	b.lastFlush = now
	b.flushes++
	b.mu.Unlock()

	b.status.Set(status.Connected)

	b.logger.Info().
		Str("device", b.deviceLabel).
		Int("values", len(values)).
		Msg("Batch published")

	if b.recorder != nil {
		b.recorder.RecordFlush(time.Now(), values)
	}

	return true
}

// Pending returns a copy of the values waiting for the next flush.
func (b *Batcher) Pending() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	values := make(map[string]float64, len(b.pending))
	for label, e := range b.pending {
		values[label] = e.value
	}

	return values
}

// Flushes returns the number of batches published so far.
func (b *Batcher) Flushes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}
