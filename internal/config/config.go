package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/publish"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "SENSORBRIDGE"
	DefaultConfigFile = "/etc/sensorbridge.toml"
	DefaultLogLevel   = "info"
	DefaultDevice     = "esp32-edu-ciaa"
	DefaultBaud       = 115200

	DefaultCommandBuffer = 16

	configEnvSuffix = "_CONFIG"
	channelCount    = 4
	samplingTasks   = 3
)

// DefaultChannelLabels are the broker labels of channels 0..3.
var DefaultChannelLabels = []string{"temperature", "soil-humidity", "light", "air-humidity"}

type WiFiConfig struct {
	SSID     string `mapstructure:"ssid"`
	Password string `mapstructure:"password"`
}

type BrokerConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
	// CommandBuffer bounds inbound commands awaiting the network loop.
	CommandBuffer int `mapstructure:"command_buffer"`
}

type SerialConfig struct {
	Port          string `mapstructure:"port"`
	Baud          int    `mapstructure:"baud"`
	ReadTimeoutMs int    `mapstructure:"read_timeout_ms"`
}

type ActuatorConfig struct {
	FanLabel    string  `mapstructure:"fan_label"`
	PumpLabel   string  `mapstructure:"pump_label"`
	FanOnAbove  float64 `mapstructure:"fan_on_above"`
	PumpOnBelow float64 `mapstructure:"pump_on_below"`
}

type ReconnectConfig struct {
	Backoff    bool    `mapstructure:"backoff"`
	InitialMs  int     `mapstructure:"initial_ms"`
	MaxMs      int     `mapstructure:"max_ms"`
	Multiplier float64 `mapstructure:"multiplier"`
}

type JournalConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxEntries int    `mapstructure:"max_entries"`
}

type StatusConfig struct {
	Listen string `mapstructure:"listen"`
}

type Config struct {
	LogLevel          string          `mapstructure:"log_level"`
	Mode              Mode            `mapstructure:"mode"`
	DeviceLabel       string          `mapstructure:"device_label"`
	ChannelLabels     []string        `mapstructure:"channel_labels"`
	PublishIntervalMs int             `mapstructure:"publish_interval_ms"`
	SampleIntervalsMs []int           `mapstructure:"sample_intervals_ms"`
	LoopIntervalMs    int             `mapstructure:"loop_interval_ms"`
	LockTimeoutMs     int             `mapstructure:"lock_timeout_ms"`
	PIDFile           string          `mapstructure:"pid_file"`
	WiFi              WiFiConfig      `mapstructure:"wifi"`
	Broker            BrokerConfig    `mapstructure:"broker"`
	Serial            SerialConfig    `mapstructure:"serial"`
	Actuators         ActuatorConfig  `mapstructure:"actuators"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect"`
	Journal           JournalConfig   `mapstructure:"journal"`
	Status            StatusConfig    `mapstructure:"status"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("mode", string(ModeSensor))
	v.SetDefault("device_label", DefaultDevice)
	v.SetDefault("channel_labels", DefaultChannelLabels)
	v.SetDefault("publish_interval_ms", 0)
	v.SetDefault("sample_intervals_ms", []int{2000, 5000, 10000})
	v.SetDefault("loop_interval_ms", 100)
	v.SetDefault("lock_timeout_ms", 500)
	v.SetDefault("pid_file", "/run/sensorbridge.pid")

	v.SetDefault("wifi.ssid", "")
	v.SetDefault("wifi.password", "")

	v.SetDefault("broker.url", "tcp://industrial.api.ubidots.com:1883")
	v.SetDefault("broker.token", "")
	v.SetDefault("broker.client_id", "")
	v.SetDefault("broker.topic_prefix", "/v1.6/devices")
	v.SetDefault("broker.qos", 0)
	v.SetDefault("broker.timeout_ms", 10000)
	v.SetDefault("broker.command_buffer", DefaultCommandBuffer)

	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", DefaultBaud)
	v.SetDefault("serial.read_timeout_ms", 2000)

	v.SetDefault("actuators.fan_label", "fan")
	v.SetDefault("actuators.pump_label", "water_pump")
	v.SetDefault("actuators.fan_on_above", 30.0)
	v.SetDefault("actuators.pump_on_below", 20.0)

	v.SetDefault("reconnect.backoff", false)
	v.SetDefault("reconnect.initial_ms", 2000)
	v.SetDefault("reconnect.max_ms", 60000)
	v.SetDefault("reconnect.multiplier", 2.0)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", ":memory:")
	v.SetDefault("journal.max_entries", 10000)

	v.SetDefault("status.listen", "127.0.0.1:8089")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sensorbridge", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("mode", string(ModeSensor), "Reading source: serial or sensor")
	fs.String("device", DefaultDevice, "Broker device label")
	fs.String("serial-port", "", "Serial device of the sensor board")
	fs.String("broker-url", "", "MQTT broker URL")
	fs.String("status-listen", "", "Listen address of the status API, empty to disable")
	fs.Int("publish-interval", 0, "Publish interval in milliseconds, 0 for the mode default")
	return fs
}

var flagKeys = map[string]string{
	"log-level":        "log_level",
	"mode":             "mode",
	"device":           "device_label",
	"serial-port":      "serial.port",
	"broker-url":       "broker.url",
	"status-listen":    "status.listen",
	"publish-interval": "publish_interval_ms",
}

// Load reads defaults, the configuration file, the environment and args,
// in increasing order of precedence, and validates the result.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	path, explicit := configPath(fs, o)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configPath resolves the file to read and whether it was asked for
// explicitly. A missing default file is not an error.
func configPath(fs *pflag.FlagSet, o options) (string, bool) {
	if p, _ := fs.GetString("config"); p != "" {
		return p, true
	}
	if o.configPath != "" {
		return o.configPath, true
	}
	if p := os.Getenv(o.envPrefix + configEnvSuffix); p != "" {
		return p, true
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile, false
	}
	return "", false
}

// Validate checks every field the gateway depends on.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() && !strings.EqualFold(c.LogLevel, "warn") {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if !c.Mode.IsValid() {
		return errFactory.WithData(errors.ErrInvalidConfig, "mode must be serial or sensor, got "+c.Mode.String())
	}

	if c.DeviceLabel == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "device_label is required")
	}

	if len(c.ChannelLabels) != channelCount {
		return errFactory.WithData(errors.ErrInvalidConfig, "channel_labels needs exactly 4 labels")
	}
	for _, label := range c.ChannelLabels {
		if label == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, "channel_labels must not be empty")
		}
	}

	if len(c.SampleIntervalsMs) != samplingTasks {
		return errFactory.WithData(errors.ErrInvalidInterval, "sample_intervals_ms needs climate, soil and light intervals")
	}
	for _, ms := range c.SampleIntervalsMs {
		if ms <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, ms)
		}
	}

	if c.PublishIntervalMs < 0 || c.LoopIntervalMs <= 0 || c.LockTimeoutMs <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "publish, loop and lock intervals must be positive")
	}

	if c.Broker.URL == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "broker.url is required")
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return errFactory.WithData(errors.ErrInvalidConfig, "broker.qos must be 0, 1 or 2")
	}
	if c.Broker.CommandBuffer <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "broker.command_buffer must be positive")
	}

	if c.Mode == ModeSerial && c.Serial.Port == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "serial.port is required in serial mode")
	}

	if c.Actuators.FanLabel == "" || c.Actuators.PumpLabel == "" || c.Actuators.FanLabel == c.Actuators.PumpLabel {
		return errFactory.WithData(errors.ErrInvalidConfig, "actuator labels must be distinct and non-empty")
	}

	if c.Reconnect.Backoff && (c.Reconnect.InitialMs <= 0 || c.Reconnect.Multiplier < 1) {
		return errFactory.WithData(errors.ErrInvalidInterval, "reconnect backoff needs initial_ms > 0 and multiplier >= 1")
	}

	return nil
}

// PublishInterval returns the flush window, falling back to the mode
// default.
func (c *Config) PublishInterval() time.Duration {
	if c.PublishIntervalMs > 0 {
		return millis(c.PublishIntervalMs)
	}
	if c.Mode == ModeSerial {
		return publish.DefaultSimpleInterval
	}
	return publish.DefaultBatchInterval
}

// SampleIntervals returns the climate, soil and light task intervals.
func (c *Config) SampleIntervals() (climate, soil, light time.Duration) {
	return millis(c.SampleIntervalsMs[0]), millis(c.SampleIntervalsMs[1]), millis(c.SampleIntervalsMs[2])
}

func (c *Config) LoopInterval() time.Duration {
	return millis(c.LoopIntervalMs)
}

func (c *Config) LockTimeout() time.Duration {
	return millis(c.LockTimeoutMs)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
