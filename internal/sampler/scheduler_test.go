package sampler_test

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/clock"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/sampler"
	"codeberg.org/mutker/sensorbridge/internal/sensor"
	"codeberg.org/mutker/sensorbridge/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var labels = [sensor.Count]string{"temperature", "soil-humidity", "light", "air-humidity"}

type fakeBus struct {
	mu     sync.Mutex
	values map[sensor.Channel]float64
	errs   map[sensor.Channel]error
	reads  int

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (b *fakeBus) Read(_ context.Context, ch sensor.Channel) (float64, error) {
	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)
	for {
		m := b.maxInflight.Load()
		if n <= m || b.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if err := b.errs[ch]; err != nil {
		return 0, err
	}
	return b.values[ch], nil
}

type fakeSink struct {
	mu     sync.Mutex
	values map[string]float64
}

func (s *fakeSink) AddValue(label string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]float64)
	}
	s.values[label] = value
}

type fakeObserver struct {
	mu       sync.Mutex
	channels []sensor.Channel
}

func (o *fakeObserver) Observe(r sensor.Reading) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.channels = append(o.channels, r.Channel)
	return false, nil
}

func defaultValues() map[sensor.Channel]float64 {
	return map[sensor.Channel]float64{
		sensor.Temperature:  24.5,
		sensor.AirHumidity:  55,
		sensor.SoilMoisture: 40,
		sensor.Light:        70,
	}
}

func newScheduler(t *testing.T, bus sensor.Bus, cfg sampler.Config) (*sampler.Scheduler, *fakeSink, *fakeObserver, *status.Tracker) {
	t.Helper()

	if cfg.Tasks == nil {
		cfg.Tasks = sampler.DefaultTasks(2*time.Second, 5*time.Second, 10*time.Second)
	}
	cfg.Labels = labels

	sink := &fakeSink{}
	obs := &fakeObserver{}
	tracker := status.NewTracker(logger.Nop())

	s, err := sampler.New(cfg, bus, clock.NewManual(0), sink, obs, tracker, logger.Nop())
	require.NoError(t, err)

	return s, sink, obs, tracker
}

func TestNewRejectsBadConfig(t *testing.T) {
	bus := &fakeBus{}
	tracker := status.NewTracker(logger.Nop())

	_, err := sampler.New(sampler.Config{Labels: labels}, bus, clock.NewManual(0), &fakeSink{}, nil, tracker, logger.Nop())
	assert.True(t, errors.HasCode(err, sampler.ErrNoTasks))

	_, err = sampler.New(sampler.Config{
		Labels: labels,
		Tasks:  []sampler.Task{{Name: "soil", Channels: []sensor.Channel{sensor.SoilMoisture}}},
	}, bus, clock.NewManual(0), &fakeSink{}, nil, tracker, logger.Nop())
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))

	_, err = sampler.New(sampler.Config{
		Tasks: []sampler.Task{{Name: "soil", Channels: []sensor.Channel{sensor.SoilMoisture}, Interval: time.Second}},
	}, bus, clock.NewManual(0), &fakeSink{}, nil, tracker, logger.Nop())
	assert.True(t, errors.HasCode(err, sampler.ErrMissingLabel))

	_, err = sampler.New(sampler.Config{
		Labels: labels,
		Tasks:  []sampler.Task{{Name: "none", Interval: time.Second}},
	}, bus, clock.NewManual(0), &fakeSink{}, nil, tracker, logger.Nop())
	assert.True(t, errors.HasCode(err, sampler.ErrEmptyTask))
}

func TestRunDueFollowsInterval(t *testing.T) {
	bus := &fakeBus{values: defaultValues()}
	s, sink, _, _ := newScheduler(t, bus, sampler.Config{})
	ctx := context.Background()

	assert.True(t, s.RunDue(ctx, 0, 100), "first run samples immediately")
	assert.False(t, s.RunDue(ctx, 0, 1000))
	assert.False(t, s.RunDue(ctx, 0, 2099))
	assert.True(t, s.RunDue(ctx, 0, 2100))

	assert.Equal(t, map[string]float64{"temperature": 24.5, "air-humidity": 55}, sink.values)
	assert.Equal(t, 4, bus.reads)
}

func TestTasksAreIndependent(t *testing.T) {
	bus := &fakeBus{values: defaultValues()}
	s, sink, _, _ := newScheduler(t, bus, sampler.Config{})
	ctx := context.Background()

	assert.True(t, s.RunDue(ctx, 0, 0))
	assert.True(t, s.RunDue(ctx, 1, 0))
	assert.True(t, s.RunDue(ctx, 0, 2000))
	assert.False(t, s.RunDue(ctx, 1, 2000))

	assert.Len(t, sink.values, 3)
	assert.False(t, s.RunDue(ctx, 9, 0))
}

func TestFailedReadSkipsChannel(t *testing.T) {
	bus := &fakeBus{
		values: defaultValues(),
		errs:   map[sensor.Channel]error{sensor.Temperature: stderrors.New("dht timeout")},
	}
	s, sink, obs, _ := newScheduler(t, bus, sampler.Config{})
	ctx := context.Background()

	assert.True(t, s.RunDue(ctx, 0, 0))

	assert.Equal(t, map[string]float64{"air-humidity": 55}, sink.values)
	assert.Equal(t, []sensor.Channel{sensor.AirHumidity}, obs.channels)
	assert.Equal(t, sampler.Stats{Samples: 1, Failures: 1}, s.Stats())

	// the schedule advances even though the read failed
	assert.False(t, s.RunDue(ctx, 0, 1000))
}

func TestInvalidValueSetsDataError(t *testing.T) {
	values := defaultValues()
	values[sensor.Light] = math.NaN()
	bus := &fakeBus{values: values}
	s, sink, obs, tracker := newScheduler(t, bus, sampler.Config{})

	assert.True(t, s.RunDue(context.Background(), 2, 0))

	assert.Empty(t, sink.values)
	assert.Empty(t, obs.channels)
	assert.Equal(t, status.DataError, tracker.Get())
}

func TestOutOfRangeIsRejected(t *testing.T) {
	values := defaultValues()
	values[sensor.SoilMoisture] = 140
	bus := &fakeBus{values: values}
	s, sink, _, _ := newScheduler(t, bus, sampler.Config{})

	s.RunDue(context.Background(), 1, 0)

	assert.Empty(t, sink.values)
	assert.Equal(t, uint64(1), s.Stats().Failures)
}

func TestOnlyClimateAndSoilReachObserver(t *testing.T) {
	bus := &fakeBus{values: defaultValues()}
	s, _, obs, tracker := newScheduler(t, bus, sampler.Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.RunDue(ctx, i, 0)
	}

	assert.ElementsMatch(t, []sensor.Channel{sensor.Temperature, sensor.AirHumidity, sensor.SoilMoisture}, obs.channels)
	assert.Equal(t, status.ReadingData, tracker.Get())
}

type blockingBus struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBus) Read(_ context.Context, ch sensor.Channel) (float64, error) {
	if ch == sensor.SoilMoisture {
		close(b.entered)
		<-b.release
	}
	return 50, nil
}

func TestBusLockWaitIsBounded(t *testing.T) {
	bus := &blockingBus{entered: make(chan struct{}), release: make(chan struct{})}
	s, _, _, _ := newScheduler(t, bus, sampler.Config{LockTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunDue(ctx, 1, 0)
	}()
	<-bus.entered

	start := time.Now()
	assert.True(t, s.RunDue(ctx, 2, 0))
	assert.Less(t, time.Since(start), time.Second)

	close(bus.release)
	<-done

	assert.Equal(t, sampler.Stats{Samples: 1, Failures: 1}, s.Stats())
}

func TestRunSerializesBusAccess(t *testing.T) {
	bus := &fakeBus{values: defaultValues()}
	tasks := sampler.DefaultTasks(time.Millisecond, time.Millisecond, time.Millisecond)
	tracker := status.NewTracker(logger.Nop())

	s, err := sampler.New(sampler.Config{
		Tasks:        tasks,
		Labels:       labels,
		PollInterval: time.Millisecond,
		LockTimeout:  time.Second,
	}, bus, clock.System(), &fakeSink{}, &fakeObserver{}, tracker, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))

	assert.Positive(t, s.Stats().Samples)
	assert.Equal(t, int32(1), bus.maxInflight.Load())
}
