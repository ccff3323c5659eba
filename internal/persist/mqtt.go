package persist

import (
	"context"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

const (
	mqttQoS            = 1 // at least once, duplicates are absorbed by the idempotency key
	mqttConnectTimeout = 30 * time.Second
	mqttDisconnectMs   = 250
)

// MQTTPersister publishes detections to {TopicPrefix}/detections/{id}.
type MQTTPersister struct {
	client      mqtt.Client
	broker      string
	topicPrefix string
	timeout     time.Duration
}

// NewMQTTPersister creates an unconnected MQTT persister.
func NewMQTTPersister(settings *conf.PersistenceSettings) *MQTTPersister {
	p := &MQTTPersister{
		broker:      settings.MQTT.Broker,
		topicPrefix: strings.TrimRight(settings.MQTT.TopicPrefix, "/"),
		timeout:     settings.Timeout,
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.MQTT.Broker)
	opts.SetClientID(settings.MQTT.ClientID)
	opts.SetUsername(settings.MQTT.Username)
	opts.SetPassword(settings.MQTT.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect establishes the broker connection.
func (p *MQTTPersister) Connect(ctx context.Context) error {
	timeout := mqttConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		return networkError(errors.NewStd("mqtt connection timeout"), "mqtt", "")
	}
	if err := token.Error(); err != nil {
		return networkError(err, "mqtt", "")
	}
	return nil
}

// Topic returns the topic a detection is published to.
func (p *MQTTPersister) Topic(id string) string {
	return p.topicPrefix + "/detections/" + id
}

// PersistDetection publishes one detection and waits for the broker acknowledgement.
func (p *MQTTPersister) PersistDetection(ctx context.Context, d *detection.Detection) error {
	if !p.client.IsConnected() {
		return networkError(errors.NewStd("not connected to MQTT broker"), "mqtt", d.ID)
	}

	body, err := json.Marshal(newPayload(d))
	if err != nil {
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryValidation).
			Context("detection_id", d.ID).
			Build()
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	topic := p.Topic(d.ID)
	token := p.client.Publish(topic, mqttQoS, false, body)
	if !token.WaitTimeout(timeout) {
		GetLogger().Warn("publish timeout", logger.String("topic", topic))
		return networkError(errors.NewStd("mqtt publish timeout"), "mqtt", d.ID)
	}
	if err := token.Error(); err != nil {
		return networkError(err, "mqtt", d.ID)
	}

	GetLogger().Debug("detection published", logger.String("topic", topic), logger.Int("bytes", len(body)))
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPersister) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(mqttDisconnectMs)
	}
	return nil
}

func (p *MQTTPersister) onConnect(mqtt.Client) {
	GetLogger().Info("connected to MQTT broker", logger.Redacted("broker", p.broker))
}

func (p *MQTTPersister) onConnectionLost(_ mqtt.Client, err error) {
	GetLogger().Warn("connection to MQTT broker lost", logger.Redacted("broker", p.broker), logger.Error(err))
}
