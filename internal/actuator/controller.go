package actuator

import (
	"regexp"
	"sort"
	"strings"

	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/sensor"
)

// Config names the actuator labels and thresholds.
type Config struct {
	FanLabel  string
	PumpLabel string
	Rules     Rules
}

// DefaultConfig uses the stock broker labels.
func DefaultConfig() Config {
	return Config{
		FanLabel:  Fan.String(),
		PumpLabel: WaterPump.String(),
		Rules:     DefaultRules(),
	}
}

// Option customizes a controller.
type Option func(*options)

type options struct {
	recorder Recorder
}

// WithRecorder reports committed transitions to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

type controller struct {
	actuators map[Kind]*Actuator
	byLabel   map[string]Kind
	rules     Rules
	logger    logger.Logger
}

// NewController returns a Controller with both actuators OFF.
func NewController(cfg Config, bus Bus, sink Sink, log logger.Logger, opts ...Option) Controller {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &controller{
		actuators: map[Kind]*Actuator{
			Fan:       newActuator(Fan, cfg.FanLabel, bus, sink, o.recorder, log),
			WaterPump: newActuator(WaterPump, cfg.PumpLabel, bus, sink, o.recorder, log),
		},
		byLabel: map[string]Kind{
			cfg.FanLabel:  Fan,
			cfg.PumpLabel: WaterPump,
		},
		rules:  cfg.Rules,
		logger: log,
	}

	return c
}

func (c *controller) Observe(r sensor.Reading) (bool, error) {
	switch r.Channel {
	case sensor.Temperature:
		return c.actuators[Fan].Set(r.Value > c.rules.FanOnAbove)
	case sensor.SoilMoisture:
		return c.actuators[WaterPump].Set(r.Value < c.rules.PumpOnBelow)
	default:
		return false, nil
	}
}

func (c *controller) Apply(cmd Command) (bool, error) {
	errFactory := errors.New()

	a, ok := c.actuators[cmd.Actuator]
	if !ok {
		return false, errFactory.WithData(ErrUnknownActuator, cmd.Actuator.String())
	}

	c.logger.Debug().
		Str("actuator", a.Label()).
		Str("requested", cmd.Requested.String()).
		Msg("Applying remote command")

	return a.Set(cmd.Requested)
}

func (c *controller) Decode(label string, payload []byte) (Command, error) {
	errFactory := errors.New()

	kind, ok := c.byLabel[label]
	if !ok {
		return Command{}, errFactory.WithData(ErrUnknownActuator, label)
	}

	state, err := ParseState(payload)
	if err != nil {
		return Command{}, err
	}

	return Command{Actuator: kind, Requested: state}, nil
}

func (c *controller) Actuator(kind Kind) *Actuator {
	return c.actuators[kind]
}

func (c *controller) Labels() []string {
	labels := make([]string, 0, len(c.byLabel))
	for label := range c.byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	return labels
}

func (c *controller) States() map[string]Snapshot {
	states := make(map[string]Snapshot, len(c.actuators))
	for _, a := range c.actuators {
		states[a.Label()] = a.Snapshot()
	}

	return states
}

// statePayload matches the accepted command payloads: 0 or 1 with an
// optional zero fraction.
var statePayload = regexp.MustCompile(`^[01](\.0+)?$`)

// ParseState accepts a payload equal to 0 or 1. Anything else is rejected
// rather than defaulted.
func ParseState(payload []byte) (State, error) {
	errFactory := errors.New()

	text := strings.TrimSpace(string(payload))
	if !statePayload.MatchString(text) {
		return Off, errFactory.WithData(ErrInvalidCommand, text)
	}

	return State(text[0] == '1'), nil
}
