// Package mqtt carries telemetry, setpoint commands, replies and alarms over
// an MQTT broker.
package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/g2-field-team/field-daq/internal/config"
)

const (
	qosTelemetry byte = 0
	qosCommand   byte = 1

	publishTimeout   = 2 * time.Second
	subscribeTimeout = 5 * time.Second
)

// connState is shared by Client and Subscriber.
type connState interface {
	setConnected(bool)
}

func clientOptions(cfg config.MQTT, state connState, logger *slog.Logger, onConnect func(mqtt.Client)) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	// Without retry an unreachable broker fails Connect instead of blocking.
	opts.SetConnectRetry(cfg.ConnectRetry)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		state.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
		if onConnect != nil {
			onConnect(c)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		state.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})
	return opts
}

func wait(t mqtt.Token, timeout time.Duration, what string) error {
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("%s: timeout after %v", what, timeout)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
