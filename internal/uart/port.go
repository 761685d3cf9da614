// Package uart connects the gateway to the auxiliary sensor board over a
// serial line.
package uart

import (
	"io"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/errors"
	"github.com/tarm/serial"
)

const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 2 * time.Second
)

// PortConfig selects and configures the serial device.
type PortConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the serial device as 8N1. With a read timeout set, an idle
// line surfaces as io.EOF from Read.
func Open(cfg PortConfig) (io.ReadWriteCloser, error) {
	errFactory := errors.New()

	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenFailed, err).WithMessage("failed to open " + cfg.Name)
	}

	return port, nil
}
