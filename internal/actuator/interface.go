package actuator

import (
	"time"

	"codeberg.org/mutker/sensorbridge/internal/sensor"
)

// Bus drives the physical actuator outputs.
type Bus interface {
	Write(kind Kind, on bool) error
}

// Sink receives the digital value of every committed transition.
type Sink interface {
	AddValue(label string, value float64)
}

// Recorder is notified of committed transitions.
type Recorder interface {
	RecordTransition(at time.Time, label string, on bool)
}

// Controller reconciles sensor-driven and remote requests for every
// actuator.
type Controller interface {
	// Observe evaluates the threshold rules against r and commits any
	// resulting change.
	Observe(r sensor.Reading) (bool, error)
	// Apply commits a remote command.
	Apply(cmd Command) (bool, error)
	// Decode turns an inbound command payload addressed to label into a
	// Command.
	Decode(label string, payload []byte) (Command, error)
	Actuator(kind Kind) *Actuator
	Labels() []string
	States() map[string]Snapshot
}

// Domain types
type (
	// Kind identifies an actuator.
	Kind uint8

	// State is the digital output level of an actuator.
	State bool

	// Command is a decoded remote request.
	Command struct {
		Actuator  Kind
		Requested State
	}

	// Snapshot is a point-in-time copy of an actuator's state.
	Snapshot struct {
		Current       State `json:"current"`
		LastPublished State `json:"last_published"`
	}

	// Rules are the sensor thresholds driving automatic control.
	Rules struct {
		FanOnAbove  float64
		PumpOnBelow float64
	}
)

const (
	Fan Kind = iota
	WaterPump
)

const (
	Off State = false
	On  State = true
)

// DefaultRules switch the fan on above 30 degrees and the pump on below
// 20 percent soil moisture.
func DefaultRules() Rules {
	return Rules{
		FanOnAbove:  30,
		PumpOnBelow: 20,
	}
}

func (k Kind) String() string {
	switch k {
	case Fan:
		return "fan"
	case WaterPump:
		return "water_pump"
	default:
		return "unknown"
	}
}

func (s State) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// Value is the numeric form published to the broker.
func (s State) Value() float64 {
	if s {
		return 1
	}
	return 0
}

// MarshalText lets the state serialize as ON or OFF.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
