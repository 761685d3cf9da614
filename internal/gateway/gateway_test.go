package gateway_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/actuator"
	"codeberg.org/mutker/sensorbridge/internal/clock"
	"codeberg.org/mutker/sensorbridge/internal/config"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/gateway"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/mqtt"
	"codeberg.org/mutker/sensorbridge/internal/sensor"
	"codeberg.org/mutker/sensorbridge/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu         sync.Mutex
	connected  bool
	subscribed []string
	published  []map[string]float64
	incoming   chan mqtt.Message
	dropped    uint64
}

func newFakeBroker(connected bool) *fakeBroker {
	return &fakeBroker{connected: connected, incoming: make(chan mqtt.Message, 4)}
}

func (b *fakeBroker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) setConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

func (b *fakeBroker) Subscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = append(b.subscribed, topic)
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, _ string, values map[string]float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, values)
	return nil
}

func (b *fakeBroker) Incoming() <-chan mqtt.Message {
	return b.incoming
}

func (b *fakeBroker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *fakeBroker) Disconnect() {
	b.setConnected(false)
}

func (b *fakeBroker) merged() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := make(map[string]float64)
	for _, batch := range b.published {
		for k, v := range batch {
			all[k] = v
		}
	}
	return all
}

type fixedSensors map[sensor.Channel]float64

func (s fixedSensors) Read(_ context.Context, ch sensor.Channel) (float64, error) {
	return s[ch], nil
}

type recordingBus struct {
	mu     sync.Mutex
	writes []string
}

func (b *recordingBus) Write(kind actuator.Kind, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, kind.String()+"="+actuator.State(on).String())
	return nil
}

func loadConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	t.Setenv("SENSORBRIDGE_CONFIG", "")
	cfg, err := config.Load(args)
	require.NoError(t, err)
	cfg.Status.Listen = ""
	return cfg
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := loadConfig(t)

	_, err := gateway.New(cfg, gateway.Deps{}, logger.Nop())
	assert.True(t, errors.HasCode(err, gateway.ErrMissingDep))

	_, err = gateway.New(cfg, gateway.Deps{Broker: newFakeBroker(true)}, logger.Nop())
	assert.True(t, errors.HasCode(err, gateway.ErrMissingDep))

	serialCfg := loadConfig(t, "--mode", "serial", "--serial-port", "/dev/null")
	_, err = gateway.New(serialCfg, gateway.Deps{Broker: newFakeBroker(true)}, logger.Nop())
	assert.True(t, errors.HasCode(err, gateway.ErrMissingDep))
}

func newSensorGateway(t *testing.T, broker *fakeBroker, clk clock.Clock, bus *recordingBus) *gateway.Gateway {
	t.Helper()
	cfg := loadConfig(t, "--publish-interval", "15000")

	g, err := gateway.New(cfg, gateway.Deps{
		Broker:    broker,
		Sensors:   fixedSensors{sensor.Temperature: 32},
		Actuators: bus,
		Clock:     clk,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	return g
}

func TestDispatchIncoming(t *testing.T) {
	g := newSensorGateway(t, newFakeBroker(true), clock.NewManual(0), &recordingBus{})

	cmd, err := g.DispatchIncoming("/v1.6/devices/esp32-edu-ciaa/water_pump/lv", []byte("1"))
	require.NoError(t, err)
	assert.Equal(t, actuator.Command{Actuator: actuator.WaterPump, Requested: actuator.On}, cmd)

	_, err = g.DispatchIncoming("/v1.6/devices/esp32-edu-ciaa/fan/lv", []byte("2"))
	assert.True(t, errors.HasCode(err, actuator.ErrInvalidCommand))

	_, err = g.DispatchIncoming("/v1.6/devices/other/fan/lv", []byte("1"))
	assert.True(t, errors.HasCode(err, mqtt.ErrInvalidTopic))
}

func TestInvalidCommandIsIgnored(t *testing.T) {
	bus := &recordingBus{}
	g := newSensorGateway(t, newFakeBroker(true), clock.NewManual(0), bus)

	g.HandleMessage(mqtt.Message{Topic: "/v1.6/devices/esp32-edu-ciaa/fan/lv", Payload: []byte("2")})

	assert.Empty(t, bus.writes)
	assert.Empty(t, g.Snapshot().Pending)
	assert.Equal(t, actuator.Off, g.Controller().Actuator(actuator.Fan).Snapshot().Current)
}

func TestSnapshotReportsDroppedCommands(t *testing.T) {
	broker := newFakeBroker(true)
	broker.dropped = 2
	g := newSensorGateway(t, broker, clock.NewManual(0), &recordingBus{})

	assert.Equal(t, uint64(2), g.Snapshot().Details["dropped_commands"])
}

func TestCommandPublishedOnNextWindow(t *testing.T) {
	broker := newFakeBroker(true)
	clk := clock.NewManual(0)
	bus := &recordingBus{}
	g := newSensorGateway(t, broker, clk, bus)
	ctx := context.Background()

	g.HandleMessage(mqtt.Message{Topic: "/v1.6/devices/esp32-edu-ciaa/fan/lv", Payload: []byte("1")})
	assert.Equal(t, []string{"fan=ON"}, bus.writes)
	assert.Equal(t, map[string]float64{"fan": 1}, g.Snapshot().Pending)

	clk.Set(15000)
	g.Step(ctx)
	assert.Empty(t, broker.merged())

	clk.Set(15001)
	g.Step(ctx)
	assert.Equal(t, map[string]float64{"fan": 1}, broker.merged())
	assert.Equal(t, uint64(1), g.Snapshot().Flushes)
}

func TestStepReconnectsBeforeFlush(t *testing.T) {
	broker := newFakeBroker(false)
	clk := clock.NewManual(0)
	g := newSensorGateway(t, broker, clk, &recordingBus{})
	ctx := context.Background()

	g.HandleMessage(mqtt.Message{Topic: "/v1.6/devices/esp32-edu-ciaa/water_pump/lv", Payload: []byte("1")})
	assert.False(t, broker.IsConnected())

	clk.Set(20000)
	g.Step(ctx)
	assert.True(t, broker.IsConnected())
	assert.Equal(t, status.Connected, g.Status())
	assert.Equal(t, map[string]float64{"water_pump": 1}, broker.merged())
	assert.Empty(t, g.Snapshot().Pending)
}

func TestRunSamplesActuatesAndPublishes(t *testing.T) {
	broker := newFakeBroker(true)
	bus := &recordingBus{}
	t.Setenv("SENSORBRIDGE_CONFIG", "")
	cfg, err := config.Load([]string{"--publish-interval", "20"})
	require.NoError(t, err)
	cfg.Status.Listen = ""
	cfg.LoopIntervalMs = 5
	cfg.SampleIntervalsMs = []int{3600000, 3600000, 3600000}

	g, err := gateway.New(cfg, gateway.Deps{
		Broker: broker,
		Sensors: fixedSensors{
			sensor.Temperature:  32,
			sensor.AirHumidity:  60,
			sensor.SoilMoisture: 45,
			sensor.Light:        70,
		},
		Actuators: bus,
	}, logger.Nop())
	require.NoError(t, err)
	defer g.Close()

	broker.incoming <- mqtt.Message{Topic: "/v1.6/devices/esp32-edu-ciaa/water_pump/lv", Payload: []byte("1")}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, g.Run(ctx))

	merged := broker.merged()
	assert.Equal(t, 32.0, merged["temperature"])
	assert.Equal(t, 45.0, merged["soil-humidity"])
	assert.Equal(t, 1.0, merged["fan"])

	bus.mu.Lock()
	assert.Contains(t, bus.writes, "fan=ON")
	bus.mu.Unlock()

	broker.mu.Lock()
	assert.ElementsMatch(t, []string{
		"/v1.6/devices/esp32-edu-ciaa/fan/lv",
		"/v1.6/devices/esp32-edu-ciaa/water_pump/lv",
	}, broker.subscribed)
	broker.mu.Unlock()

	snap := g.Snapshot()
	assert.Equal(t, "sensor", snap.Mode)
	assert.Contains(t, snap.Details, "sampler")
}

type fakeSerial struct {
	r      *io.PipeReader
	mu     sync.Mutex
	out    bytes.Buffer
	closed bool
}

func (s *fakeSerial) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *fakeSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *fakeSerial) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.r.Close()
}

func TestRunSerialMode(t *testing.T) {
	broker := newFakeBroker(true)
	pr, pw := io.Pipe()
	port := &fakeSerial{r: pr}

	t.Setenv("SENSORBRIDGE_CONFIG", "")
	cfg, err := config.Load([]string{"--mode", "serial", "--serial-port", "/dev/ttyUSB9", "--publish-interval", "20"})
	require.NoError(t, err)
	cfg.Status.Listen = ""
	cfg.LoopIntervalMs = 5

	g, err := gateway.New(cfg, gateway.Deps{Broker: broker, Serial: port}, logger.Nop())
	require.NoError(t, err)
	defer g.Close()

	go func() {
		_, _ = pw.Write([]byte("032\n1237\n9x\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, g.Run(ctx))

	merged := broker.merged()
	assert.Equal(t, 32.0, merged["temperature"])
	assert.Equal(t, 237.0, merged["soil-humidity"])
	assert.Equal(t, 1.0, merged["fan"])

	port.mu.Lock()
	assert.Equal(t, "41\n", port.out.String())
	assert.True(t, port.closed)
	port.mu.Unlock()

	assert.Contains(t, g.Snapshot().Details, "uart")
}
