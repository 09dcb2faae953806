// Package publish forwards newly stored hourly records to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/types"
)

const publishTimeout = 5 * time.Second

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes every record as JSON to a topic. The zero value and
// a publisher without a broker drop records silently.
type MQTTPublisher struct {
	client publisher
	conn   mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(client publisher, topic string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, qos: qos}
}

// Configured registers the MQTT flags and connects once flags are parsed.
// Credentials are read from MQTT_USERNAME and MQTT_PASSWORD.
func Configured() *MQTTPublisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883); empty disables publishing")
	topic := lflag.String("mqtt-topic", "facilityenergy/records", "MQTT topic new records are published to")
	clientID := lflag.String("mqtt-client-id", "facilityenergy", "MQTT client id")

	p := &MQTTPublisher{qos: 1}
	lflag.Do(func() {
		if *broker == "" {
			return
		}
		p.topic = *topic

		opts := mqtt.NewClientOptions()
		opts.AddBroker(*broker)
		opts.SetClientID(*clientID)
		opts.SetUsername(os.Getenv("MQTT_USERNAME"))
		opts.SetPassword(os.Getenv("MQTT_PASSWORD"))
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(5 * time.Second)
		opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
			log.Ctx(context.Background()).Warn("mqtt connection lost", slog.Any("error", err))
		})
		opts.SetOnConnectHandler(func(client mqtt.Client) {
			log.Ctx(context.Background()).Info("connected to mqtt broker", slog.String("broker", *broker))
		})

		c := mqtt.NewClient(opts)
		// with connect retry enabled the token only completes once connected
		c.Connect()
		p.conn = c
		p.client = c
	})
	return p
}

// Enabled reports whether records are actually published.
func (p *MQTTPublisher) Enabled() bool {
	return p != nil && p.client != nil
}

// Publish sends rec to the configured topic.
func (p *MQTTPublisher) Publish(ctx context.Context, rec types.HourlyRecord) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "published record", slog.String("topic", p.topic), slog.Time("timestamp", rec.Timestamp))
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p != nil && p.conn != nil && p.conn.IsConnected() {
		p.conn.Disconnect(250)
	}
	return nil
}
