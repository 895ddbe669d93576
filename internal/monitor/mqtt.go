package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"github.com/shaunagostinho/seymour-life/internal/bench"
	"github.com/shaunagostinho/seymour-life/internal/config"
	"github.com/shaunagostinho/seymour-life/internal/device"
)

const publishTimeout = 3 * time.Second

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher mirrors unit snapshots to retained MQTT topics
// <prefix>/<serial>/status.
type Publisher struct {
	client mqttClient
	prefix string
	log    logr.Logger
}

// DialMQTT connects to the configured broker.
func DialMQTT(cfg config.MQTTConfig, log logr.Logger) (*Publisher, error) {
	log = log.WithName("mqtt")
	clientID := fmt.Sprintf("%s:%d", cfg.ClientID, os.Getpid())

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error(err, "Broker connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	log.Info("Connected", "broker", cfg.Broker, "client", clientID)
	return newPublisher(client, cfg.Prefix, log), nil
}

func newPublisher(client mqttClient, prefix string, log logr.Logger) *Publisher {
	if prefix == "" {
		prefix = "seymour"
	}
	return &Publisher{client: client, prefix: prefix, log: log}
}

// Topic is where snapshots of s are published. Units without a serial yet
// are keyed by their port name.
func (p *Publisher) Topic(s bench.Snapshot) string {
	key := s.Serial
	if key == "" || key == device.Uninitialised {
		key = filepath.Base(s.Port)
	}
	return fmt.Sprintf("%s/%s/status", p.prefix, key)
}

// Observe publishes s, retained, at least once.
func (p *Publisher) Observe(s bench.Snapshot) {
	payload, err := json.Marshal(s)
	if err != nil {
		p.log.Error(err, "Snapshot not encodable", "port", s.Port)
		return
	}
	topic := p.Topic(s)
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.V(1).Info("Publish still pending", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.log.Error(err, "Publish failed", "topic", topic)
		return
	}
	p.log.V(2).Info("Published", "topic", topic)
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
