package journal

import (
	"time"

	"codeberg.org/mutker/sensorbridge/internal/errors"
)

const (
	// DefaultRecentLimit applies when Recent is called without a limit.
	DefaultRecentLimit = 50

	// MemoryPath keeps the journal in memory for the life of the process.
	MemoryPath = ":memory:"

	defaultDirPerm       = 0o755
	defaultBatchSize     = 32
	defaultFlushInterval = 5 * time.Second
	defaultMaxEntries    = 10000
)

type Config struct {
	DBPath        string
	Enabled       bool
	BatchSize     int
	FlushInterval time.Duration
	// MaxEntries bounds the number of rows kept; older rows are pruned on
	// every flush. Zero keeps everything.
	MaxEntries int
}

func DefaultConfig() Config {
	return Config{
		DBPath:        MemoryPath,
		Enabled:       true,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		MaxEntries:    defaultMaxEntries,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.FlushInterval < 0 || c.MaxEntries < 0 {
		return errFactory.WithData(ErrInvalidConfig, "negative journal limits")
	}
	return nil
}

func (c Config) inMemory() bool {
	return c.DBPath == MemoryPath
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
