package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher mirrors decoded frames onto an MQTT broker for consumers
// that are not WebSocket clients (dashboards, recorders).
type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
}

func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("rfbridge_%d", time.Now().UnixNano())
	}
	return "rfbridge_" + hex.EncodeToString(b)
}

// NewMQTTPublisher connects to the broker. The connection auto-reconnects;
// publishes made while disconnected are dropped (QoS 0).
func NewMQTTPublisher(config *MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("MQTT connected to %s", config.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Printf("Warning: MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTPublisher{
		client:      client,
		topicPrefix: config.TopicPrefix,
	}, nil
}

// PublishFrame sends a frame to the broker, fire-and-forget.
func (p *MQTTPublisher) PublishFrame(frame Frame) {
	var topic string
	var msg interface{}

	switch f := frame.(type) {
	case SweepFrame:
		topic = p.topicPrefix + "/sweep"
		msg = SweepMessage{
			Type:      "sweep",
			Timestamp: f.Timestamp,
			Config:    f.Config,
			Data:      f.Points,
		}
	case ConfigFrame:
		topic = p.topicPrefix + "/config"
		msg = ConfigMessage{Type: "config", Config: f.Config}
	default:
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ERROR: Failed to encode MQTT message: %v", err)
		return
	}

	p.client.Publish(topic, 0, false, payload)
}

// Disconnect flushes in-flight work and closes the connection.
func (p *MQTTPublisher) Disconnect() {
	p.client.Disconnect(250)
}
