// Package mqtt is the broker session used by the gateway. It speaks the
// Ubidots MQTT layout: JSON batches on the device topic and plain numeric
// payloads on per-variable command topics.
package mqtt

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultIncomingBuffer = 16

	clientIDPrefix = "sensorbridge-"
	quiesceMillis  = 250
)

// Config holds the broker session settings.
type Config struct {
	URL            string
	Token          string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	IncomingBuffer int
}

// Message is an inbound command delivery.
type Message struct {
	Topic   string
	Payload []byte
}

// Client implements the broker session on top of paho.
type Client struct {
	cfg      Config
	client   paho.Client
	incoming chan Message
	dropped  atomic.Uint64
	logger   logger.Logger
}

// New builds a client for cfg. It does not connect.
func New(cfg Config, log logger.Logger) (*Client, error) {
	errFactory := errors.New()

	if cfg.URL == "" {
		return nil, errFactory.New(ErrMissingBroker)
	}

	cfg = withDefaults(cfg)

	c := &Client{
		cfg:      cfg,
		incoming: make(chan Message, cfg.IncomingBuffer),
		logger:   log,
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Token).
		SetPassword(cfg.Token).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("Broker connection lost")
		})

	c.client = paho.NewClient(opts)

	return c, nil
}

// NewWithClient wraps an existing paho client.
func NewWithClient(cfg Config, client paho.Client, log logger.Logger) *Client {
	cfg = withDefaults(cfg)
	return &Client{
		cfg:      cfg,
		client:   client,
		incoming: make(chan Message, cfg.IncomingBuffer),
		logger:   log,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.ClientID == "" {
		cfg.ClientID = clientIDPrefix + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.IncomingBuffer <= 0 {
		cfg.IncomingBuffer = DefaultIncomingBuffer
	}
	return cfg
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

func (c *Client) Connect(ctx context.Context) error {
	errFactory := errors.New()

	if err := wait(ctx, c.client.Connect()); err != nil {
		return errFactory.Wrap(ErrConnectFailed, err)
	}

	c.logger.Debug().
		Str("broker", c.cfg.URL).
		Str("client_id", c.cfg.ClientID).
		Msg("MQTT session established")

	return nil
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Subscribe delivers messages on topic to Incoming.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	errFactory := errors.New()

	token := c.client.Subscribe(topic, c.cfg.QoS, c.handle)
	if err := wait(ctx, token); err != nil {
		return errFactory.Wrap(ErrSubscribeFailed, err)
	}

	return nil
}

// Publish sends values as one JSON object to the device topic.
func (c *Client) Publish(ctx context.Context, deviceLabel string, values map[string]float64) error {
	errFactory := errors.New()

	payload, err := json.Marshal(values)
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}

	topic := NewTopics(c.cfg.TopicPrefix, deviceLabel).Publish()
	if err := wait(ctx, c.client.Publish(topic, c.cfg.QoS, false, payload)); err != nil {
		return errFactory.Wrap(ErrPublishFailed, err)
	}

	c.logger.Debug().
		Str("topic", topic).
		RawJSON("payload", payload).
		Msg("Published")

	return nil
}

// Incoming returns the channel of received command messages.
func (c *Client) Incoming() <-chan Message {
	return c.incoming
}

// Disconnect closes the session.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(quiesceMillis)
	}
}

func (c *Client) handle(_ paho.Client, msg paho.Message) {
	m := Message{
		Topic:   msg.Topic(),
		Payload: append([]byte(nil), msg.Payload()...),
	}

	select {
	case c.incoming <- m:
	default:
		dropped := c.dropped.Add(1)
		c.logger.Warn().
			Str("topic", m.Topic).
			Int("capacity", cap(c.incoming)).
			Uint64("dropped", dropped).
			Msg("Command queue full, dropping message")
	}
}

// Dropped counts inbound commands discarded because the queue was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
