package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/e7canasta/orion-blink/internal/config"
)

// MQTTMirror republishes telemetry lines on an MQTT topic.
//
// Video frames are not mirrored. Publishing happens on a background
// goroutine; when it falls behind, lines are dropped rather than delaying
// the session loop.
type MQTTMirror struct {
	cfg            config.MQTTConfig
	Client         mqtt.Client // Exported for the control source
	connectTimeout time.Duration

	out    chan mirrored
	wg     sync.WaitGroup
	closed bool // guarded by mu

	mu        sync.RWMutex
	published map[string]uint64 // count per message key
	dropped   atomic.Uint64
	errors    uint64
	connected bool
}

type mirrored struct {
	key  string
	line []byte
}

// MQTTStats contains mirror statistics
type MQTTStats struct {
	Connected bool
	Published map[string]uint64
	Dropped   uint64
	Errors    uint64
}

// NewMQTTMirror creates a new MQTT mirror
func NewMQTTMirror(cfg config.MQTTConfig) *MQTTMirror {
	return &MQTTMirror{
		cfg:            cfg,
		connectTimeout: 5 * time.Second,
		out:            make(chan mirrored, 64),
		published:      make(map[string]uint64),
	}
}

// Connect establishes connection to the MQTT broker and starts publishing
func (m *MQTTMirror) Connect(ctx context.Context) error {
	broker := m.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}
	clientID := fmt.Sprintf("%s-%s", m.cfg.ClientID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		slog.Info("emitter: mqtt connection established",
			"broker", broker,
			"client_id", clientID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker)
	}

	m.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	// A failed Connect must not leave the retry loop running
	token := m.Client.Connect()
	if !token.WaitTimeout(m.connectTimeout) {
		m.Client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		m.Client.Disconnect(0)
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	m.setConnected(true)

	m.wg.Add(1)
	go m.publishLoop(ctx)

	return nil
}

// Mirror queues a line for publishing without blocking
func (m *MQTTMirror) Mirror(msg Message, line []byte) {
	if msg.Key() == KeyVideo {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.out <- mirrored{key: msg.Key(), line: line}:
	default:
		m.countDropped()
	}
}

func (m *MQTTMirror) publishLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.out:
			if !ok {
				return
			}
			if err := m.publish(msg); err != nil {
				slog.Debug("emitter: mqtt publish failed", "key", msg.key, "error", err)
			}
		}
	}
}

func (m *MQTTMirror) publish(msg mirrored) error {
	if !m.isConnected() {
		m.countError()
		return fmt.Errorf("mqtt not connected")
	}

	topic := fmt.Sprintf("%s/%s", m.cfg.Topics.Telemetry, msg.key)
	token := m.Client.Publish(topic, m.cfg.QoS, false, msg.line)
	if !token.WaitTimeout(2 * time.Second) {
		m.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	m.mu.Lock()
	m.published[msg.key]++
	m.mu.Unlock()
	return nil
}

// Disconnect stops publishing and closes the MQTT connection
func (m *MQTTMirror) Disconnect() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.out)
	}
	m.mu.Unlock()
	m.wg.Wait()

	if m.Client != nil && m.Client.IsConnected() {
		m.Client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	m.setConnected(false)
	return nil
}

// Stats returns mirror statistics
func (m *MQTTMirror) Stats() MQTTStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}
	return MQTTStats{
		Connected: m.connected,
		Published: published,
		Dropped:   m.dropped.Load(),
		Errors:    m.errors,
	}
}

func (m *MQTTMirror) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTTMirror) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTTMirror) countDropped() {
	m.dropped.Add(1)
}

func (m *MQTTMirror) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}
