package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/internal/logging"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// MQTT implements Connection over an MQTT broker bridging the host to a
// remote Universal Node's link endpoint: each message on the notify topic is
// already one discrete frame, so no StreamFramer is needed here, only the
// Reassembler for the '+'-prefix fragmentation scheme.
type MQTT struct {
	config config.MQTTConfig
	client mqtt.Client
	reasm  fleetproto.Reassembler
	notify chan []byte
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	stopCh    chan struct{}
}

// NewMQTT creates a new MQTT connection.
func NewMQTT(cfg config.MQTTConfig) (*MQTT, error) {
	return &MQTT{
		config: cfg,
		notify: make(chan []byte, 100),
		logger: logging.With(zap.String("connection", "mqtt")),
		stopCh: make(chan struct{}),
	}, nil
}

// Connect dials the broker and subscribes to the notify topic.
func (m *MQTT) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}

	m.logger.Info("connecting to mqtt broker",
		zap.String("broker", m.config.Broker),
		zap.String("topic", m.config.NotifyTopic))

	clientID := m.config.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("dcmesh-host-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.config.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(m.onConnectionLost).
		SetOnConnectHandler(m.onConnect)

	if m.config.Username != "" {
		opts.SetUsername(m.config.Username)
	}
	if m.config.Password != "" {
		opts.SetPassword(m.config.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to connect: %w", token.Error())
	}

	m.client = client
	m.stopCh = make(chan struct{})
	m.reasm.Reset()

	m.logger.Info("connected to mqtt broker")
	return nil
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.logger.Info("mqtt connected, subscribing to notify topic", zap.String("topic", m.config.NotifyTopic))

	token := client.Subscribe(m.config.NotifyTopic, 1, m.messageHandler)
	if token.Wait() && token.Error() != nil {
		m.logger.Error("failed to subscribe", zap.Error(token.Error()))
		return
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	m.logger.Info("subscribed to notify topic")
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.logger.Warn("mqtt connection lost", zap.Error(err))

	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

func (m *MQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()

	m.logger.Debug("received mqtt notification", zap.Int("size", len(payload)))

	full, complete := m.reasm.Feed(payload)
	if !complete {
		return
	}

	select {
	case m.notify <- full:
	default:
		m.logger.Warn("notification channel full, dropping message")
	}
}

// Notifications returns the channel of reassembled link-endpoint frames.
func (m *MQTT) Notifications() <-chan []byte {
	return m.notify
}

// Send publishes a command to the command topic.
func (m *MQTT) Send(_ context.Context, command []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	token := m.client.Publish(m.config.CommandTopic, 1, false, command)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Close disconnects from the broker and closes the Notifications channel.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.logger.Info("closing mqtt connection")
	close(m.stopCh)
	m.connected = false

	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(1000)
	}

	close(m.notify)
	return nil
}

// Name identifies this connection for logs and TUI display.
func (m *MQTT) Name() string {
	return fmt.Sprintf("mqtt:%s", m.config.Broker)
}

// IsConnected reports the current link state.
func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && m.client != nil && m.client.IsConnected()
}
