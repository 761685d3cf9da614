// Package status holds the process-wide connection status shown to
// operators. The Tracker is passed explicitly to every component that
// reports progress instead of living in a global.
package status

import (
	"sync"

	"codeberg.org/mutker/sensorbridge/internal/logger"
)

// ConnectionStatus is the gateway state exposed for diagnostics.
type ConnectionStatus int

const (
	Init ConnectionStatus = iota
	Connected
	Disconnected
	ReadingData
	SendingData
	DataError
)

// String returns the diagnostic name of the status.
func (s ConnectionStatus) String() string {
	switch s {
	case Init:
		return "INIT"
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	case ReadingData:
		return "READING_DATA"
	case SendingData:
		return "SENDING_DATA"
	case DataError:
		return "DATA_ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets the status serialize as its diagnostic name.
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tracker serializes writes to the shared status value.
type Tracker struct {
	mu      sync.RWMutex
	current ConnectionStatus
	changes uint64
	logger  logger.Logger
}

// NewTracker returns a Tracker in the Init state.
func NewTracker(log logger.Logger) *Tracker {
	return &Tracker{
		current: Init,
		logger:  log,
	}
}

// Set records s and reports the previous value.
func (t *Tracker) Set(s ConnectionStatus) ConnectionStatus {
	t.mu.Lock()
	prev := t.current
	t.current = s
	if prev != s {
		t.changes++
	}
	t.mu.Unlock()

	if prev != s {
		t.logger.Debug().
			Str("from", prev.String()).
			Str("to", s.String()).
			Msg("Status changed")
	}

	return prev
}

// Get returns the current status.
func (t *Tracker) Get() ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Changes returns how many transitions have been recorded.
func (t *Tracker) Changes() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changes
}
