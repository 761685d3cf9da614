// Package sampler runs the periodic sensor sampling tasks. Every task reads
// its channels through a shared bus lock that covers exactly one channel
// read, then forwards validated readings to the batcher and the actuator
// controller outside the lock.
package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/clock"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/sensor"
	"codeberg.org/mutker/sensorbridge/internal/status"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultLockTimeout  = 500 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
)

// Sink receives every validated reading under its channel label.
type Sink interface {
	AddValue(label string, value float64)
}

// Observer evaluates readings that drive actuators.
type Observer interface {
	Observe(r sensor.Reading) (bool, error)
}

// Task is one periodic sampling job.
type Task struct {
	Name     string
	Channels []sensor.Channel
	Interval time.Duration
}

// DefaultTasks returns the climate, soil and light tasks with the given
// intervals.
func DefaultTasks(climate, soil, light time.Duration) []Task {
	return []Task{
		{Name: "climate", Channels: []sensor.Channel{sensor.Temperature, sensor.AirHumidity}, Interval: climate},
		{Name: "soil", Channels: []sensor.Channel{sensor.SoilMoisture}, Interval: soil},
		{Name: "light", Channels: []sensor.Channel{sensor.Light}, Interval: light},
	}
}

// Config holds the scheduler settings.
type Config struct {
	Tasks        []Task
	Labels       [sensor.Count]string
	Ranges       map[sensor.Channel]sensor.Range
	LockTimeout  time.Duration
	PollInterval time.Duration
}

type task struct {
	Task
	interval   uint32
	lastSample clock.Timestamp
	sampled    bool
}

// Stats counts sampling outcomes since start.
type Stats struct {
	Samples  uint64 `json:"samples"`
	Failures uint64 `json:"failures"`
}

// Scheduler owns the sensor bus lock.
type Scheduler struct {
	cfg   Config
	tasks []*task
	// mu guards the per-task timing state.
	mu  sync.Mutex
	bus *semaphore.Weighted

	sensors  sensor.Bus
	clock    clock.Clock
	sink     Sink
	observer Observer
	status   *status.Tracker
	logger   logger.Logger

	samples  atomic.Uint64
	failures atomic.Uint64
}

// New validates cfg and returns a Scheduler.
func New(
	cfg Config,
	sensors sensor.Bus,
	clk clock.Clock,
	sink Sink,
	observer Observer,
	tracker *status.Tracker,
	log logger.Logger,
) (*Scheduler, error) {
	errFactory := errors.New()

	if len(cfg.Tasks) == 0 {
		return nil, errFactory.New(ErrNoTasks)
	}

	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Ranges == nil {
		cfg.Ranges = sensor.DefaultRanges()
	}

	tasks := make([]*task, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		if len(t.Channels) == 0 {
			return nil, errFactory.WithData(ErrEmptyTask, t.Name)
		}
		if t.Interval <= 0 {
			return nil, errFactory.WithData(errors.ErrInvalidInterval, t.Name)
		}
		for _, ch := range t.Channels {
			if !ch.Valid() {
				return nil, errFactory.WithData(sensor.ErrUnknownChannel, t.Name)
			}
			if cfg.Labels[ch] == "" {
				return nil, errFactory.WithData(ErrMissingLabel, ch.String())
			}
		}
		tasks = append(tasks, &task{Task: t, interval: clock.Millis(t.Interval)})
	}

	return &Scheduler{
		cfg:      cfg,
		tasks:    tasks,
		bus:      semaphore.NewWeighted(1),
		sensors:  sensors,
		clock:    clk,
		sink:     sink,
		observer: observer,
		status:   tracker,
		logger:   log,
	}, nil
}

// Run starts one goroutine per task and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := range s.tasks {
		idx := i
		g.Go(func() error {
			ticker := time.NewTicker(s.cfg.PollInterval)
			defer ticker.Stop()

			s.logger.Debug().
				Str("task", s.tasks[idx].Name).
				Dur("interval", s.tasks[idx].Interval).
				Msg("Sampling task started")

			for {
				s.RunDue(ctx, idx, s.clock.Now())

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}

	return g.Wait()
}

// RunDue samples task idx if its interval has expired at now. The first
// call for a task always samples. It reports whether the task ran.
func (s *Scheduler) RunDue(ctx context.Context, idx int, now clock.Timestamp) bool {
	if idx < 0 || idx >= len(s.tasks) {
		return false
	}
	t := s.tasks[idx]

	s.mu.Lock()
	due := !t.sampled || clock.Elapsed(now, t.lastSample) >= t.interval
	if due {
		t.sampled = true
		t.lastSample = now
	}
	s.mu.Unlock()

	if !due {
		return false
	}

	for _, ch := range t.Channels {
		s.sample(ctx, t.Name, ch, now)
	}

	return true
}

func (s *Scheduler) sample(ctx context.Context, taskName string, ch sensor.Channel, now clock.Timestamp) {
	s.status.Set(status.ReadingData)

	value, err := s.read(ctx, ch)
	if err == nil {
		err = sensor.Validate(ch, value, s.cfg.Ranges)
	}
	if err != nil {
		s.failures.Add(1)
		s.status.Set(status.DataError)
		s.logger.Warn().
			Err(err).
			Str("task", taskName).
			Str("channel", ch.String()).
			Msg("Sensor sample skipped")
		return
	}

	s.samples.Add(1)
	reading := sensor.Reading{Channel: ch, Value: value, Timestamp: now}

	s.sink.AddValue(s.cfg.Labels[ch], value)

	switch ch {
	case sensor.Temperature, sensor.AirHumidity, sensor.SoilMoisture:
		if s.observer == nil {
			return
		}
		if _, err := s.observer.Observe(reading); err != nil {
			s.logger.Error().
				Err(err).
				Str("channel", ch.String()).
				Msg("Actuator update failed")
		}
	}
}

// read holds the bus lock for a single channel read, waiting at most
// LockTimeout for it.
func (s *Scheduler) read(ctx context.Context, ch sensor.Channel) (float64, error) {
	errFactory := errors.New()

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	if err := s.bus.Acquire(waitCtx, 1); err != nil {
		return 0, errFactory.Wrap(sensor.ErrBusBusy, err)
	}
	defer s.bus.Release(1)

	value, err := s.sensors.Read(ctx, ch)
	if err != nil {
		return 0, errFactory.Wrap(sensor.ErrReadFailed, err)
	}

	return value, nil
}

// Tasks returns the configured tasks.
func (s *Scheduler) Tasks() []Task {
	tasks := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		tasks[i] = t.Task
	}
	return tasks
}

// Stats returns the sampling counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Samples:  s.samples.Load(),
		Failures: s.failures.Load(),
	}
}
