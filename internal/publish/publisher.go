// Package publish forwards scan results to an MQTT broker as JSON.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
)

const DefaultPublishTimeout = 2 * time.Second

type Config struct {
	Broker   string
	ClientID string
	// Topic is the prefix; results go to <Topic>/<kind>.
	Topic          string
	QoS            byte
	PublishTimeout time.Duration
	Logger         *zap.SugaredLogger
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	cfg    Config
	client client
	log    *zap.SugaredLogger
}

var newClient = func(opts *mqtt.ClientOptions) (client, error) {
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// New connects to the broker.
func New(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("publish: broker is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	cfg.Topic = strings.TrimRight(cfg.Topic, "/")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)
	c, err := newClient(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "mqtt connect %s", cfg.Broker)
	}
	log := logging.OrNop(cfg.Logger)
	log.Infof("mqtt publishing to %s topic=%s/#", cfg.Broker, cfg.Topic)
	return &Publisher{cfg: cfg, client: c, log: log}, nil
}

// Publish sends v as JSON on <topic>/<kind>.
func (p *Publisher) Publish(kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode result")
	}
	topic := p.cfg.Topic + "/" + kind
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("publish %s: timed out after %s", topic, p.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.client.Disconnect(250)
	p.client = nil
	return nil
}
