// Package hal provides a simulated greenhouse for hosts without sensor or
// actuator pins. Sensor values follow a bounded random walk that the fan
// and pump outputs push in the expected direction.
package hal

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/actuator"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/sensor"
)

const (
	defaultStep = 0.5
	// fanCooling and pumpWatering are the per-read drift while an output is on.
	fanCooling   = 0.8
	pumpWatering = 2.5
)

// Simulator implements both sensor.Bus and actuator.Bus.
type Simulator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	values    map[sensor.Channel]float64
	ranges    map[sensor.Channel]sensor.Range
	outputs   map[actuator.Kind]bool
	step      float64
	readDelay time.Duration
	logger    logger.Logger
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithSeed makes the random walk reproducible.
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithReadDelay simulates the conversion time of a real sensor.
func WithReadDelay(d time.Duration) Option {
	return func(s *Simulator) {
		s.readDelay = d
	}
}

// WithStep sets the largest random change per read.
func WithStep(step float64) Option {
	return func(s *Simulator) {
		s.step = step
	}
}

// NewSimulator starts every channel at a mild greenhouse reading.
func NewSimulator(log logger.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		values: map[sensor.Channel]float64{
			sensor.Temperature:  24,
			sensor.AirHumidity:  55,
			sensor.SoilMoisture: 35,
			sensor.Light:        60,
		},
		ranges:  sensor.DefaultRanges(),
		outputs: make(map[actuator.Kind]bool),
		step:    defaultStep,
		logger:  log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Read returns the next value of ch.
func (s *Simulator) Read(ctx context.Context, ch sensor.Channel) (float64, error) {
	errFactory := errors.New()

	if s.readDelay > 0 {
		timer := time.NewTimer(s.readDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, errFactory.Wrap(sensor.ErrReadFailed, ctx.Err())
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[ch]
	if !ok {
		return 0, errFactory.WithData(sensor.ErrUnknownChannel, ch.String())
	}

	v += (s.rng.Float64()*2 - 1) * s.step

	switch ch {
	case sensor.Temperature:
		if s.outputs[actuator.Fan] {
			v -= fanCooling
		}
	case sensor.SoilMoisture:
		if s.outputs[actuator.WaterPump] {
			v += pumpWatering
		}
	}

	r := s.ranges[ch]
	v = min(max(v, r.Min), r.Max)
	s.values[ch] = v

	return v, nil
}

// Write switches a simulated output.
func (s *Simulator) Write(kind actuator.Kind, on bool) error {
	s.mu.Lock()
	s.outputs[kind] = on
	s.mu.Unlock()

	s.logger.Info().
		Str("actuator", kind.String()).
		Bool("on", on).
		Msg("Simulated output switched")

	return nil
}

// Set overrides the current value of ch.
func (s *Simulator) Set(ch sensor.Channel, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[ch] = v
}

// Output reports whether the simulated output is on.
func (s *Simulator) Output(kind actuator.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[kind]
}
