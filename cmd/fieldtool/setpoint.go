package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/g2-field-team/field-daq/internal/config"
)

// sendSetpoint publishes payload on the command topic and waits for the
// first message on the reply topic.
func sendSetpoint(ctx context.Context, cfg config.ToolConfig, payload []byte, timeout time.Duration, logger *slog.Logger) ([]byte, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port))
	// Client ids must be unique on the broker.
	opts.SetClientID(cfg.MQTT.ClientID + "-" + uuid.NewString()[:8])
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if t := client.Connect(); !t.WaitTimeout(10*time.Second) || t.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s:%d: %v", cfg.MQTT.Broker, cfg.MQTT.Port, t.Error())
	}
	defer client.Disconnect(250)

	replies := make(chan []byte, 1)
	sub := client.Subscribe(cfg.Topics.Reply, 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case replies <- append([]byte(nil), msg.Payload()...):
		default:
		}
	})
	if !sub.WaitTimeout(5*time.Second) || sub.Error() != nil {
		return nil, fmt.Errorf("subscribe %s: %v", cfg.Topics.Reply, sub.Error())
	}

	logger.Debug("sending setpoint", "topic", cfg.Topics.Command, "payload", string(payload))
	pub := client.Publish(cfg.Topics.Command, 1, false, payload)
	if !pub.WaitTimeout(5*time.Second) || pub.Error() != nil {
		return nil, fmt.Errorf("publish %s: %v", cfg.Topics.Command, pub.Error())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-replies:
		return r, nil
	case <-timer.C:
		return nil, fmt.Errorf("no reply on %s within %v (is COMMAND_MODE=reply?)", cfg.Topics.Reply, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
