package config

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// Mode selects where readings come from.
type Mode string

const (
	// ModeSerial receives frames from the auxiliary board over UART.
	ModeSerial Mode = "serial"
	// ModeSensor samples locally attached sensors.
	ModeSensor Mode = "sensor"
)

// IsValid returns whether the mode is known
func (m Mode) IsValid() bool {
	return m == ModeSerial || m == ModeSensor
}

func (m Mode) String() string {
	return string(m)
}
