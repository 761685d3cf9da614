package journal

import (
	"context"
	"time"
)

// Journal keeps a diagnostics log of published batches and actuator
// transitions.
type Journal interface {
	RecordFlush(at time.Time, values map[string]float64)
	RecordTransition(at time.Time, label string, on bool)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Kind tells flushed values apart from actuator transitions.
type Kind string

const (
	KindFlush      Kind = "flush"
	KindTransition Kind = "transition"
)

// Entry is one journal row.
type Entry struct {
	Time  time.Time `json:"time"`
	Kind  Kind      `json:"kind"`
	Label string    `json:"label"`
	Value float64   `json:"value"`
}
