package sensor

import (
	"context"
	"math"

	"codeberg.org/mutker/sensorbridge/internal/clock"
	"codeberg.org/mutker/sensorbridge/internal/errors"
)

// Channel identifies a logical sensor. The numeric value is the channel
// index used on the serial wire and in the configured label list.
type Channel uint8

const (
	Temperature Channel = iota
	SoilMoisture
	Light
	AirHumidity
)

// Count is the number of known channels.
const Count = 4

// Channels lists every channel in index order.
var Channels = [Count]Channel{Temperature, SoilMoisture, Light, AirHumidity}

func (c Channel) String() string {
	switch c {
	case Temperature:
		return "temperature"
	case SoilMoisture:
		return "soil_moisture"
	case Light:
		return "light"
	case AirHumidity:
		return "air_humidity"
	default:
		return "unknown"
	}
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c < Count
}

// FromIndex maps a wire index onto a Channel.
func FromIndex(index int) (Channel, bool) {
	if index < 0 || index >= Count {
		return 0, false
	}
	return Channel(index), true
}

// Reading is one validated sample. Readings are values and are not
// modified after creation.
type Reading struct {
	Channel   Channel
	Value     float64
	Timestamp clock.Timestamp
}

// Bus reads raw values from the sensor hardware.
type Bus interface {
	Read(ctx context.Context, ch Channel) (float64, error)
}

// Range is the inclusive interval of plausible values for a channel.
type Range struct {
	Min, Max float64
}

// Contains reports whether v lies inside r.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// DefaultRanges are the plausible ranges of the stock sensors: a DHT22 for
// climate and percent-scaled analog probes for soil and light.
func DefaultRanges() map[Channel]Range {
	return map[Channel]Range{
		Temperature:  {Min: -40, Max: 80},
		AirHumidity:  {Min: 0, Max: 100},
		SoilMoisture: {Min: 0, Max: 100},
		Light:        {Min: 0, Max: 100},
	}
}

// Validate rejects non-finite values and values outside the channel range.
func Validate(ch Channel, v float64, ranges map[Channel]Range) error {
	errFactory := errors.New()

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errFactory.WithData(ErrNotANumber, ch.String())
	}

	r, ok := ranges[ch]
	if !ok {
		return errFactory.WithData(ErrUnknownChannel, ch.String())
	}

	if !r.Contains(v) {
		return errFactory.WithData(ErrOutOfRange, struct {
			Channel string
			Value   float64
			Min     float64
			Max     float64
		}{
			Channel: ch.String(),
			Value:   v,
			Min:     r.Min,
			Max:     r.Max,
		})
	}

	return nil
}
