package output

import (
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/rjboer/gonrsc5/internal/decode"
	"github.com/rjboer/gonrsc5/internal/logging"
)

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// MQTT publishes payloads to <prefix>/pdu/<program> and
// <prefix>/ancillary/<kind>. Publishing does not wait for the broker.
type MQTT struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger logging.Logger
}

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig, logger logging.Logger) (*MQTT, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.Field{Key: "component", Value: "mqtt"})

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("nrsc5-" + uuid.New().String())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to broker", logging.Field{Key: "broker", Value: cfg.Broker})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", logging.Field{Key: "error", Value: err})
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	return newMQTT(client, cfg, logger), nil
}

func newMQTT(client mqtt.Client, cfg MQTTConfig, logger logging.Logger) *MQTT {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "nrsc5"
	}
	return &MQTT{client: client, prefix: prefix, qos: cfg.QoS, logger: logger}
}

func (m *MQTT) PushPDU(program int, data []byte) {
	m.publish(m.prefix+"/pdu/"+strconv.Itoa(program), data)
}

func (m *MQTT) PushAncillary(kind decode.AncillaryKind, data []byte) {
	m.publish(m.prefix+"/ancillary/"+kind.String(), data)
}

func (m *MQTT) publish(topic string, data []byte) {
	if !m.client.IsConnected() {
		return
	}
	m.client.Publish(topic, m.qos, false, data)
}

// Close disconnects, allowing a quarter second for in-flight messages.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
