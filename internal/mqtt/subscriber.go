package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/g2-field-team/field-daq/internal/config"
	"github.com/g2-field-team/field-daq/internal/protocol"
)

// TelemetryMessage is one decoded snapshot as seen by a consumer.
type TelemetryMessage struct {
	Topic    string
	Node     string
	Received time.Time
	Readings []protocol.Reading
}

// Subscriber consumes telemetry published by driver hosts.
type Subscriber struct {
	client    mqtt.Client
	cfg       config.MQTT
	topic     string
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	// MessageHandler is called for each valid telemetry message
	MessageHandler func(msg TelemetryMessage) error
}

// SetMessageHandler sets the message handler for telemetry messages
func (s *Subscriber) SetMessageHandler(handler func(msg TelemetryMessage) error) {
	s.MessageHandler = handler
}

func NewSubscriber(cfg config.MQTT, topic string, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		cfg:    cfg,
		topic:  topic,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	s.client = mqtt.NewClient(clientOptions(cfg, s, logger, s.subscribe))
	return s
}

// Connect establishes connection to the MQTT broker. The subscription is
// (re)made by the connect handler.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			// With ConnectRetry paho keeps dialling and the connect
			// handler subscribes once it gets through.
			if !s.cfg.ConnectRetry {
				s.client.Disconnect(0)
			}
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
}

func (s *Subscriber) subscribe(mc mqtt.Client) {
	qos := byte(1) // At least once delivery

	token := mc.Subscribe(s.topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if err := wait(token, subscribeTimeout, "subscribe "+s.topic); err != nil {
		s.logger.Error("telemetry subscription failed", "error", err)
		return
	}
	s.logger.Info("subscribed to mqtt topic", "topic", s.topic, "qos", qos)
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	if protocol.DetectFormat(payload) != protocol.FormatJSON {
		s.logger.Warn("skipping telemetry without channel ids",
			"topic", topic,
			"format", protocol.FormatFloats,
		)
		return
	}

	readings, err := protocol.DecodeSnapshotJSON(payload)
	if err != nil {
		s.logger.Warn("failed to parse telemetry message",
			"topic", topic,
			"error", err,
		)
		return
	}

	if err := validateReadings(readings); err != nil {
		s.logger.Warn("invalid telemetry message", "topic", topic, "error", err)
		return
	}

	msg := TelemetryMessage{
		Topic:    topic,
		Node:     NodeFromTopic(topic),
		Received: time.Now().UTC(),
		Readings: readings,
	}

	if s.MessageHandler != nil {
		if err := s.MessageHandler(msg); err != nil {
			s.logger.Error("message handler failed",
				"topic", topic,
				"node", msg.Node,
				"error", err,
			)
		} else {
			s.logger.Debug("processed telemetry message",
				"node", msg.Node,
				"channels", len(readings),
			)
		}
	}
}

func validateReadings(readings []protocol.Reading) error {
	if len(readings) == 0 {
		return fmt.Errorf("snapshot has no channels")
	}
	for _, r := range readings {
		if len(r.ID) != 3 || strings.Trim(r.ID, "0123456789") != "" {
			return fmt.Errorf("hw_id %q must be 3 digits", r.ID)
		}
	}
	return nil
}

// NodeFromTopic returns the second topic level, e.g. "1" for
// "surfacecoils/1/telemetry", or "" when there is none.
func NodeFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.topic)
		token.WaitTimeout(2 * time.Second)
	}

	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
