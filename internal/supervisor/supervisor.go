// Package supervisor wraps every broker interaction. It reconnects when the
// session drops, re-issues the standing command subscriptions and keeps the
// shared connection status current.
package supervisor

import (
	"context"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/clock"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/status"
)

// Broker is the message broker session.
type Broker interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Subscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, deviceLabel string, values map[string]float64) error
}

// Backoff spaces out reconnect attempts. The zero value retries on every
// call to Ensure.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff doubles from 2s up to one minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
	}
}

func (b Backoff) enabled() bool {
	return b.Initial > 0
}

func (b Backoff) next(delay time.Duration) time.Duration {
	if delay == 0 {
		return b.Initial
	}

	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay = time.Duration(float64(delay) * mult)
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	return delay
}

// Stats counts connection events.
type Stats struct {
	Reconnects uint64   `json:"reconnects"`
	Failures   uint64   `json:"failures"`
	Topics     []string `json:"topics"`
	// Unissued lists standing topics not yet subscribed on the current session.
	Unissued []string `json:"unissued"`
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithBackoff enables backoff between failed reconnect attempts.
func WithBackoff(b Backoff) Option {
	return func(s *Supervisor) {
		s.backoff = b
	}
}

// Supervisor gates broker access on connectivity.
type Supervisor struct {
	// mu serializes reconnect attempts and guards the fields below it.
	mu sync.Mutex
	// topics are the standing subscriptions; issued marks the ones the
	// current session has accepted.
	topics      []string
	issued      map[string]bool
	backoff     Backoff
	delay       time.Duration
	lastAttempt clock.Timestamp
	waiting     bool
	reconnects  uint64
	failures    uint64

	broker Broker
	status *status.Tracker
	clock  clock.Clock
	logger logger.Logger
}

// New returns a Supervisor that has not connected yet.
func New(broker Broker, tracker *status.Tracker, clk clock.Clock, log logger.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		issued: make(map[string]bool),
		broker: broker,
		status: tracker,
		clock:  clk,
		logger: log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Ensure reports whether the broker is connected with every standing
// subscription issued. It reconnects and re-subscribes first when needed;
// a failed attempt is retried on a later call.
func (s *Supervisor) Ensure(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensureLocked(ctx) == nil
}

func (s *Supervisor) ensureLocked(ctx context.Context) error {
	errFactory := errors.New()

	reconnected := false
	if !s.broker.IsConnected() {
		s.status.Set(status.Disconnected)
		clear(s.issued)

		now := s.clock.Now()
		if s.waiting && s.backoff.enabled() && clock.Elapsed(now, s.lastAttempt) < clock.Millis(s.delay) {
			return errFactory.New(ErrNotConnected)
		}
		s.lastAttempt = now
		s.waiting = true

		if err := s.broker.Connect(ctx); err != nil {
			s.failures++
			if s.backoff.enabled() {
				s.delay = s.backoff.next(s.delay)
			}
			s.logger.Warn().
				Err(err).
				Dur("retry_in", s.delay).
				Msg("Broker reconnect failed")
			return errFactory.Wrap(ErrConnectFailed, err)
		}

		s.waiting = false
		s.delay = 0
		s.reconnects++
		reconnected = true
	}

	if err := s.issueLocked(ctx); err != nil {
		s.failures++
		s.status.Set(status.Disconnected)
		s.logger.Warn().
			Err(err).
			Msg("Standing subscription not issued, retrying")
		return err
	}

	if reconnected || s.status.Get() == status.Disconnected {
		s.status.Set(status.Connected)
		s.logger.Info().
			Int("subscriptions", len(s.topics)).
			Msg("Broker connected")
	}

	return nil
}

// issueLocked subscribes every standing topic the current session has not
// accepted yet, in registration order.
func (s *Supervisor) issueLocked(ctx context.Context) error {
	errFactory := errors.New()

	for _, topic := range s.topics {
		if s.issued[topic] {
			continue
		}
		if err := s.broker.Subscribe(ctx, topic); err != nil {
			return errFactory.Wrap(ErrSubscribeFailed, err).WithMessage("failed to subscribe to " + topic)
		}
		s.issued[topic] = true

		s.logger.Debug().Str("topic", topic).Msg("Subscribed")
	}

	return nil
}

// Subscribe registers topic as a standing subscription and issues it if
// the broker is reachable. A topic that cannot be issued now is retried by
// every later Ensure, and standing topics are re-issued after a reconnect.
func (s *Supervisor) Subscribe(ctx context.Context, topic string) error {
	errFactory := errors.New()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.topics, topic) {
		s.topics = append(s.topics, topic)
	}

	err := s.ensureLocked(ctx)
	switch {
	case err == nil:
		return nil
	case errors.HasCode(err, ErrSubscribeFailed):
		return err
	default:
		return errFactory.Wrap(ErrNotConnected, err).WithData(topic)
	}
}

// Publish sends values for deviceLabel. It does not reconnect; callers
// gate on Ensure first.
func (s *Supervisor) Publish(ctx context.Context, deviceLabel string, values map[string]float64) error {
	errFactory := errors.New()

	if !s.broker.IsConnected() {
		s.status.Set(status.Disconnected)
		return errFactory.WithData(ErrNotConnected, deviceLabel)
	}

	if err := s.broker.Publish(ctx, deviceLabel, values); err != nil {
		return errFactory.Wrap(ErrPublishFailed, err)
	}

	return nil
}

// Connected reports the broker session state without reconnecting.
func (s *Supervisor) Connected() bool {
	return s.broker.IsConnected()
}

// Stats returns the connection counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := slices.Clone(s.topics)
	unissued := []string{}
	for _, topic := range s.topics {
		if !s.issued[topic] {
			unissued = append(unissued, topic)
		}
	}

	return Stats{
		Reconnects: s.reconnects,
		Failures:   s.failures,
		Topics:     topics,
		Unissued:   unissued,
	}
}
