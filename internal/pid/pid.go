// Package pid keeps a single gateway instance per host; the serial port and
// the broker client id are exclusive.
package pid

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/sensorbridge/internal/errors"
)

const (
	pidFile = "sensorbridge.pid"
)

// DefaultPath is used when no PID file is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write creates path holding the current process ID. It fails with
// ErrAlreadyRunning when path names a live process; a stale file is
// replaced. Creation is exclusive, so of two instances starting together
// only one wins.
func Write(path string) error {
	errFactory := errors.New()
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	err := create(path)
	if !errors.Is(err, fs.ErrExist) {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if running(strings.TrimSpace(string(data))) {
		return errFactory.WithData(errors.ErrAlreadyRunning, path)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	err = create(path)
	if errors.Is(err, fs.ErrExist) {
		return errFactory.WithData(errors.ErrAlreadyRunning, path)
	}

	return err
}

// create publishes a complete PID file at path, failing with an unwrapped
// fs.ErrExist when one is already there. The file is written under a
// private name and hard linked into place, so readers never see it empty.
func create(path string) error {
	errFactory := errors.New()

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if err := f.Close(); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fs.ErrExist
		}
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove(path string) error {
	errFactory := errors.New()
	if path == "" {
		path = DefaultPath()
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func running(content string) bool {
	pid, err := strconv.Atoi(content)
	if err != nil || pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
