package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/g2-field-team/field-daq/internal/config"
	"github.com/g2-field-team/field-daq/internal/faults"
	"github.com/g2-field-team/field-daq/internal/transport"
)

// Client is the driver host side of the transport. Paho delivers inbound
// commands on its own goroutines; they are only queued here and consumed by
// the control loop through Receive.
type Client struct {
	client    mqtt.Client
	cfg       config.MQTT
	topics    config.Topics
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	inbox chan transport.Request

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg config.MQTT, topics config.Topics, logger *slog.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		topics: topics,
		logger: logger,
		inbox:  make(chan transport.Request, transport.DefaultQueueLen),
		stopCh: make(chan struct{}),
	}
	// Clean sessions drop subscriptions, so subscribe on every (re)connect.
	c.client = mqtt.NewClient(clientOptions(cfg, c, logger, c.subscribe))
	return c
}

// Connect waits for the initial broker connection. Failure is a
// faults.Transport error; the caller treats it as fatal.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return faults.Wrap(faults.Transport, "connect",
					fmt.Errorf("mqtt connect %s:%d: %w", c.cfg.Broker, c.cfg.Port, err))
			}
			return nil
		}

		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

func (c *Client) subscribe(mc mqtt.Client) {
	token := mc.Subscribe(c.topics.Command, qosCommand, func(_ mqtt.Client, msg mqtt.Message) {
		c.handleCommand(msg.Topic(), msg.Payload())
	})
	if err := wait(token, subscribeTimeout, "subscribe "+c.topics.Command); err != nil {
		c.logger.Error("command subscription failed", "error", err)
		return
	}
	c.logger.Info("subscribed to mqtt topic", "topic", c.topics.Command, "qos", qosCommand)
}

func (c *Client) handleCommand(topic string, payload []byte) {
	req := transport.Request{
		Payload:  append([]byte(nil), payload...),
		Received: time.Now(),
	}
	if !transport.Offer(c.inbox, req) {
		c.logger.Warn("command queue full, dropping message", "topic", topic, "size", len(payload))
		return
	}
	c.logger.Debug("queued command", "topic", topic, "size", len(payload))
}

// Receive waits up to timeout for the next queued command.
func (c *Client) Receive(ctx context.Context, timeout time.Duration) (transport.Request, bool, error) {
	return transport.Receive(ctx, c.inbox, timeout)
}

// PublishTelemetry publishes at QoS 0 without retaining. The next cycle
// supersedes a lost message.
func (c *Client) PublishTelemetry(_ context.Context, payload []byte) error {
	return c.publish(c.topics.Telemetry, qosTelemetry, payload)
}

func (c *Client) Reply(_ context.Context, payload []byte) error {
	return c.publish(c.topics.Reply, qosCommand, payload)
}

func (c *Client) PublishAlarm(_ context.Context, payload []byte) error {
	return c.publish(c.topics.Alarm, qosCommand, payload)
}

func (c *Client) publish(topic string, qos byte, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	if err := wait(c.client.Publish(topic, qos, false, payload), publishTimeout, "publish "+topic); err != nil {
		return err
	}
	c.logger.Debug("published", "topic", topic, "size", len(payload))
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client. Idempotent.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
