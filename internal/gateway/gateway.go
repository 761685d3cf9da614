// Package gateway wires the sampling, actuation and publishing components
// together and runs them. Sampling tasks (or the serial receive loop) run
// on their own goroutines; a single network loop owns connectivity checks,
// batch flushes and inbound command delivery.
package gateway

import (
	"context"
	"io"
	"sync"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/actuator"
	"codeberg.org/mutker/sensorbridge/internal/clock"
	"codeberg.org/mutker/sensorbridge/internal/config"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/journal"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/mqtt"
	"codeberg.org/mutker/sensorbridge/internal/publish"
	"codeberg.org/mutker/sensorbridge/internal/sampler"
	"codeberg.org/mutker/sensorbridge/internal/sensor"
	"codeberg.org/mutker/sensorbridge/internal/status"
	"codeberg.org/mutker/sensorbridge/internal/statusapi"
	"codeberg.org/mutker/sensorbridge/internal/supervisor"
	"codeberg.org/mutker/sensorbridge/internal/uart"
	"golang.org/x/sync/errgroup"
)

// Broker is the broker session including inbound delivery.
type Broker interface {
	supervisor.Broker
	Incoming() <-chan mqtt.Message
	Disconnect()
}

// Deps are the external collaborators of a Gateway.
type Deps struct {
	Broker Broker
	// Sensors is read in sensor mode.
	Sensors sensor.Bus
	// Actuators defaults to the serial line in serial mode.
	Actuators actuator.Bus
	// Serial carries frames from the sensor board in serial mode.
	Serial  io.ReadWriteCloser
	Journal journal.Journal
	Clock   clock.Clock
}

type Gateway struct {
	cfg        *config.Config
	clock      clock.Clock
	status     *status.Tracker
	topics     mqtt.Topics
	broker     Broker
	supervisor *supervisor.Supervisor
	batcher    *publish.Batcher
	controller actuator.Controller
	sampler    *sampler.Scheduler
	bridge     *uart.Bridge
	serial     io.Closer
	journal    journal.Journal
	api        *statusapi.Server
	logger     logger.Logger

	closeSerial sync.Once
	closeOnce   sync.Once
}

// New assembles a Gateway from cfg and deps.
func New(cfg *config.Config, deps Deps, log logger.Logger) (*Gateway, error) {
	errFactory := errors.New()

	if deps.Broker == nil {
		return nil, errFactory.WithData(ErrMissingDep, "broker")
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Journal == nil {
		j, err := journal.New(journal.Config{}, log)
		if err != nil {
			return nil, err
		}
		deps.Journal = j
	}

	g := &Gateway{
		cfg:     cfg,
		clock:   deps.Clock,
		status:  status.NewTracker(log.With("status")),
		topics:  mqtt.NewTopics(cfg.Broker.TopicPrefix, cfg.DeviceLabel),
		broker:  deps.Broker,
		journal: deps.Journal,
		logger:  log,
	}

	var supOpts []supervisor.Option
	if cfg.Reconnect.Backoff {
		supOpts = append(supOpts, supervisor.WithBackoff(supervisor.Backoff{
			Initial:    time.Duration(cfg.Reconnect.InitialMs) * time.Millisecond,
			Max:        time.Duration(cfg.Reconnect.MaxMs) * time.Millisecond,
			Multiplier: cfg.Reconnect.Multiplier,
		}))
	}
	g.supervisor = supervisor.New(deps.Broker, g.status, g.clock, log.With("supervisor"), supOpts...)

	g.batcher = publish.New(
		cfg.DeviceLabel,
		cfg.PublishInterval(),
		g.clock.Now(),
		g.supervisor,
		g.status,
		log.With("publish"),
		publish.WithRecorder(g.journal),
	)

	switch cfg.Mode {
	case config.ModeSerial:
		if err := g.wireSerial(deps, log); err != nil {
			return nil, err
		}
	default:
		if err := g.wireSensors(deps, log); err != nil {
			return nil, err
		}
	}

	if cfg.Status.Listen != "" {
		g.api = statusapi.New(cfg.Status.Listen, g, g.controller, g.journal, log.With("statusapi"))
	}

	return g, nil
}

func (g *Gateway) newController(bus actuator.Bus, log logger.Logger) {
	g.controller = actuator.NewController(actuator.Config{
		FanLabel:  g.cfg.Actuators.FanLabel,
		PumpLabel: g.cfg.Actuators.PumpLabel,
		Rules: actuator.Rules{
			FanOnAbove:  g.cfg.Actuators.FanOnAbove,
			PumpOnBelow: g.cfg.Actuators.PumpOnBelow,
		},
	}, bus, g.batcher, log.With("actuator"), actuator.WithRecorder(g.journal))
}

func (g *Gateway) wireSerial(deps Deps, log logger.Logger) error {
	errFactory := errors.New()

	if deps.Serial == nil {
		return errFactory.WithData(ErrMissingDep, "serial port")
	}
	g.serial = deps.Serial

	bus := deps.Actuators
	if bus == nil {
		bus = uart.NewActuatorBus(deps.Serial)
	}
	g.newController(bus, log)

	bridge, err := uart.NewBridge(
		deps.Serial,
		g.cfg.ChannelLabels,
		g.batcher,
		g.clock,
		g.status,
		log.With("uart"),
		uart.WithObserver(g.controller),
		uart.WithIdleEOF(),
	)
	if err != nil {
		return err
	}
	g.bridge = bridge

	return nil
}

func (g *Gateway) wireSensors(deps Deps, log logger.Logger) error {
	errFactory := errors.New()

	if deps.Sensors == nil || deps.Actuators == nil {
		return errFactory.WithData(ErrMissingDep, "sensor and actuator buses")
	}
	g.newController(deps.Actuators, log)

	var labels [sensor.Count]string
	copy(labels[:], g.cfg.ChannelLabels)

	climate, soil, light := g.cfg.SampleIntervals()
	s, err := sampler.New(sampler.Config{
		Tasks:        sampler.DefaultTasks(climate, soil, light),
		Labels:       labels,
		LockTimeout:  g.cfg.LockTimeout(),
		PollInterval: g.cfg.LoopInterval(),
	}, deps.Sensors, g.clock, g.batcher, g.controller, g.status, log.With("sampler"))
	if err != nil {
		return err
	}
	g.sampler = s

	return nil
}

// Run blocks until ctx is done or a component fails.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	g.logger.Info().
		Str("mode", g.cfg.Mode.String()).
		Str("device", g.cfg.DeviceLabel).
		Dur("publish_interval", g.cfg.PublishInterval()).
		Msg("Gateway starting")

	eg.Go(func() error {
		return g.networkLoop(ctx)
	})

	if g.sampler != nil {
		eg.Go(func() error {
			return g.sampler.Run(ctx)
		})
	}

	if g.bridge != nil {
		eg.Go(func() error {
			return g.bridge.Run(ctx)
		})
		eg.Go(func() error {
			<-ctx.Done()
			g.closeSerialPort()
			return nil
		})
	}

	if g.api != nil {
		eg.Go(func() error {
			return g.api.Serve(ctx)
		})
	}

	return eg.Wait()
}

func (g *Gateway) networkLoop(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.LoopInterval())
	defer ticker.Stop()

	g.subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-g.broker.Incoming():
			g.HandleMessage(msg)
		case <-ticker.C:
			g.Step(ctx)
		}
	}
}

// subscribe registers the actuator command topics. Topics that cannot be
// subscribed yet stay standing and are retried by every connectivity check.
func (g *Gateway) subscribe(ctx context.Context) {
	for _, label := range g.controller.Labels() {
		topic := g.topics.Command(label)
		if err := g.supervisor.Subscribe(ctx, topic); err != nil {
			g.logger.Warn().
				Err(err).
				Str("topic", topic).
				Msg("Subscription deferred to the next connectivity check")
		}
	}
}

// Step runs one network loop iteration: a connectivity check and, when
// connected, a batch tick.
func (g *Gateway) Step(ctx context.Context) {
	if !g.supervisor.Ensure(ctx) {
		return
	}
	g.batcher.Tick(ctx, g.clock.Now())
}

// DispatchIncoming turns a broker delivery into an actuator command.
func (g *Gateway) DispatchIncoming(topic string, payload []byte) (actuator.Command, error) {
	errFactory := errors.New()

	label, ok := g.topics.Label(topic)
	if !ok {
		return actuator.Command{}, errFactory.WithData(mqtt.ErrInvalidTopic, topic)
	}

	return g.controller.Decode(label, payload)
}

// HandleMessage applies an inbound command. Unrecognized payloads are
// logged and ignored.
func (g *Gateway) HandleMessage(msg mqtt.Message) {
	cmd, err := g.DispatchIncoming(msg.Topic, msg.Payload)
	if err != nil {
		g.logger.Info().
			Err(err).
			Str("topic", msg.Topic).
			Msg("Ignoring command")
		return
	}

	if _, err := g.controller.Apply(cmd); err != nil {
		g.logger.Error().
			Err(err).
			Str("actuator", cmd.Actuator.String()).
			Msg("Failed to apply command")
	}
}

// Snapshot reports the gateway state for the status API.
func (g *Gateway) Snapshot() statusapi.Snapshot {
	details := map[string]any{
		"supervisor": g.supervisor.Stats(),
	}
	if g.sampler != nil {
		details["sampler"] = g.sampler.Stats()
	}
	if g.bridge != nil {
		details["uart"] = g.bridge.Stats()
	}
	if d, ok := g.broker.(interface{ Dropped() uint64 }); ok {
		details["dropped_commands"] = d.Dropped()
	}

	return statusapi.Snapshot{
		Status:    g.status.Get(),
		Mode:      g.cfg.Mode.String(),
		Device:    g.cfg.DeviceLabel,
		Connected: g.supervisor.Connected(),
		Pending:   g.batcher.Pending(),
		Flushes:   g.batcher.Flushes(),
		Actuators: g.controller.States(),
		Details:   details,
	}
}

// Status returns the shared connection status.
func (g *Gateway) Status() status.ConnectionStatus {
	return g.status.Get()
}

// Controller returns the actuator controller.
func (g *Gateway) Controller() actuator.Controller {
	return g.controller
}

func (g *Gateway) closeSerialPort() {
	if g.serial == nil {
		return
	}
	g.closeSerial.Do(func() {
		if err := g.serial.Close(); err != nil {
			g.logger.Debug().Err(err).Msg("Serial port close failed")
		}
	})
}

// Close releases the broker session, the serial port and the journal.
func (g *Gateway) Close() error {
	var err error

	g.closeOnce.Do(func() {
		g.closeSerialPort()
		g.broker.Disconnect()
		err = g.journal.Close()
		g.logger.Info().Msg("Gateway stopped")
	})

	return err
}
