package uart

import (
	"io"
	"strconv"
	"sync"

	"codeberg.org/mutker/sensorbridge/internal/actuator"
	"codeberg.org/mutker/sensorbridge/internal/codec"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/sensor"
)

// ActuatorBus drives the actuators wired to the auxiliary board. Each
// write is one frame whose index follows the sensor channels: fan is 4,
// water pump is 5, and the value is 0 or 1.
type ActuatorBus struct {
	mu sync.Mutex
	w  io.Writer
}

// NewActuatorBus writes actuator frames to w.
func NewActuatorBus(w io.Writer) *ActuatorBus {
	return &ActuatorBus{w: w}
}

func (a *ActuatorBus) Write(kind actuator.Kind, on bool) error {
	errFactory := errors.New()

	value := "0"
	if on {
		value = "1"
	}
	frame := codec.Encode(strconv.Itoa(sensor.Count+int(kind)) + value)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.w.Write(frame); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	return nil
}
