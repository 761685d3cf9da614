package gateway

import (
	"time"

	"codeberg.org/mutker/sensorbridge/internal/config"
	"codeberg.org/mutker/sensorbridge/internal/hal"
	"codeberg.org/mutker/sensorbridge/internal/journal"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/mqtt"
	"codeberg.org/mutker/sensorbridge/internal/uart"
)

// Build opens the real collaborators described by cfg and assembles a
// Gateway. Sensor mode runs against the simulated greenhouse.
func Build(cfg *config.Config, log logger.Logger) (*Gateway, error) {
	if cfg.WiFi.SSID != "" {
		log.Info().
			Str("ssid", cfg.WiFi.SSID).
			Msg("Network association is managed by the host")
	}

	broker, err := mqtt.New(mqtt.Config{
		URL:            cfg.Broker.URL,
		Token:          cfg.Broker.Token,
		ClientID:       cfg.Broker.ClientID,
		TopicPrefix:    cfg.Broker.TopicPrefix,
		QoS:            byte(cfg.Broker.QoS),
		ConnectTimeout: time.Duration(cfg.Broker.TimeoutMs) * time.Millisecond,
		IncomingBuffer: cfg.Broker.CommandBuffer,
	}, log.With("mqtt"))
	if err != nil {
		return nil, err
	}

	jcfg := journal.DefaultConfig()
	jcfg.Enabled = cfg.Journal.Enabled
	jcfg.DBPath = cfg.Journal.Path
	jcfg.MaxEntries = cfg.Journal.MaxEntries

	j, err := journal.New(jcfg, log.With("journal"))
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Broker:  broker,
		Journal: j,
	}

	switch cfg.Mode {
	case config.ModeSerial:
		port, err := uart.Open(uart.PortConfig{
			Name:        cfg.Serial.Port,
			Baud:        cfg.Serial.Baud,
			ReadTimeout: time.Duration(cfg.Serial.ReadTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			j.Close()
			return nil, err
		}
		deps.Serial = port
	default:
		sim := hal.NewSimulator(log.With("hal"))
		deps.Sensors = sim
		deps.Actuators = sim
	}

	g, err := New(cfg, deps, log)
	if err != nil {
		if deps.Serial != nil {
			deps.Serial.Close()
		}
		j.Close()
		return nil, err
	}

	return g, nil
}
