package control

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSource feeds command lines published on a control topic into the
// same queue stdin uses, so both arrive through one drain.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	qos    byte
	queue  *Queue
}

// NewMQTTSource creates a control source on an already connected client
func NewMQTTSource(client mqtt.Client, topic string, qos byte, queue *Queue) *MQTTSource {
	return &MQTTSource{
		client: client,
		topic:  topic,
		qos:    qos,
		queue:  queue,
	}
}

// Start subscribes to the control topic
func (s *MQTTSource) Start() error {
	slog.Info("control: subscribing to control topic", "topic", s.topic, "qos", s.qos)

	token := s.client.Subscribe(s.topic, s.qos, s.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control topic subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control topic subscription failed: %w", err)
	}
	return nil
}

// Stop unsubscribes from the control topic
func (s *MQTTSource) Stop() error {
	if s.client != nil && s.client.IsConnected() {
		token := s.client.Unsubscribe(s.topic)
		token.WaitTimeout(2 * time.Second)
	}
	slog.Info("control: mqtt control source stopped")
	return nil
}

// messageHandler is called by paho on its own goroutine
func (s *MQTTSource) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	s.handlePayload(msg.Payload())
}

func (s *MQTTSource) handlePayload(payload []byte) {
	if len(payload) == 0 {
		return
	}
	slog.Debug("control: command received over mqtt", "topic", s.topic, "size", len(payload))

	if !s.queue.TryPush(string(payload)) {
		slog.Warn("control: command queue full, dropping command", "topic", s.topic)
	}
}
