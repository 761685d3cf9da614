// Package journal records published batches and actuator transitions in
// SQLite for the diagnostics surface. It defaults to an in-memory database
// so nothing outlives the process.
package journal

import (
	"context"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
)

type noopJournal struct{}

// New opens the journal described by cfg, or returns a no-op journal when
// it is disabled.
func New(cfg Config, log logger.Logger) (Journal, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Journal disabled, using no-op journal")
		return noopJournal{}, nil
	}

	return newRepository(cfg, log)
}

func (noopJournal) RecordFlush(time.Time, map[string]float64) {}

func (noopJournal) RecordTransition(time.Time, string, bool) {}

func (noopJournal) Recent(context.Context, int) ([]Entry, error) {
	return nil, nil
}

func (noopJournal) Close() error {
	return nil
}
