// Package actuator implements the debounced ON/OFF state machine that
// reconciles sensor-derived decisions with remote commands.
package actuator

import (
	"sync"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
)

// Actuator owns the state of one output. Requests overwrite the current
// state; Commit drives the hardware and publishes only when the current
// state differs from the last published one.
type Actuator struct {
	kind          Kind
	label         string
	current       State
	lastPublished State
	mu            sync.Mutex

	bus      Bus
	sink     Sink
	recorder Recorder
	logger   logger.Logger
}

func newActuator(kind Kind, label string, bus Bus, sink Sink, recorder Recorder, log logger.Logger) *Actuator {
	return &Actuator{
		kind:          kind,
		label:         label,
		current:       Off,
		lastPublished: Off,
		bus:           bus,
		sink:          sink,
		recorder:      recorder,
		logger:        log,
	}
}

func (a *Actuator) Kind() Kind {
	return a.kind
}

func (a *Actuator) Label() string {
	return a.label
}

// Request records s as the desired state. The latest request wins.
func (a *Actuator) Request(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = s
}

// Commit applies the current state. It reports whether a transition was
// written and published.
func (a *Actuator) Commit() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commitLocked()
}

// Set requests s and commits it without letting another request
// interleave.
func (a *Actuator) Set(s State) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = s
	return a.commitLocked()
}

func (a *Actuator) commitLocked() (bool, error) {
	errFactory := errors.New()

	if a.current == a.lastPublished {
		return false, nil
	}

	if err := a.bus.Write(a.kind, bool(a.current)); err != nil {
		return false, errFactory.Wrap(ErrWriteFailed, err).WithMessage("failed to drive " + a.label)
	}

	a.sink.AddValue(a.label, a.current.Value())
	a.lastPublished = a.current

	a.logger.Info().
		Str("actuator", a.label).
		Str("state", a.current.String()).
		Msg("Actuator switched")

	if a.recorder != nil {
		a.recorder.RecordTransition(time.Now(), a.label, bool(a.current))
	}

	return true, nil
}

// Snapshot returns a copy of the actuator state.
func (a *Actuator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Current:       a.current,
		LastPublished: a.lastPublished,
	}
}
