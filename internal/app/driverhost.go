// Package app wires the binaries together.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/g2-field-team/field-daq/internal/alarm"
	"github.com/g2-field-team/field-daq/internal/config"
	"github.com/g2-field-team/field-daq/internal/control"
	"github.com/g2-field-team/field-daq/internal/httpapi"
	"github.com/g2-field-team/field-daq/internal/metrics"
	"github.com/g2-field-team/field-daq/internal/mqtt"
)

const connectTimeout = 15 * time.Second

// RunDriverHost runs the driver host until ctx is cancelled. Failing to
// reach the broker at startup is fatal.
func RunDriverHost(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"mqttBroker", cfg.MQTT.Broker,
		"mqttPort", cfg.MQTT.Port,
		"telemetryTopic", cfg.Topics.Telemetry,
		"commandTopic", cfg.Topics.Command,
		"channels", cfg.Topology.Len(),
		"hardware", cfg.Hardware,
		"pollPeriod", cfg.PollPeriod,
		"commandMode", cfg.CommandMode,
		"telemetryFormat", cfg.TelemetryFormat,
		"metricsAddr", cfg.MetricsAddr,
	)

	hw, err := newHardware(cfg, logger)
	if err != nil {
		return err
	}

	client := mqtt.NewClient(cfg.MQTT, cfg.Topics, logger.With("component", "mqtt"))
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("mqtt disconnecting")
		client.Disconnect()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewProm(reg)

	monitor := alarm.NewMonitor(
		alarm.Multi{alarm.NewTopicNotifier(client), alarm.NewLogNotifier(logger)},
		alarm.MonitorOptions{
			Threshold:        cfg.AlarmThreshold,
			CurrentTolerance: cfg.CurrentTolerance,
			MaxTemperature:   cfg.MaxTemperature,
			Logger:           logger.With("component", "alarm"),
		},
	)

	svc := control.New(cfg.Topology, hw, client, control.Options{
		Period:         cfg.PollPeriod,
		Format:         cfg.TelemetryFormat,
		Mode:           cfg.CommandMode,
		CommandTimeout: cfg.CommandTimeout,
		SettleDelay:    cfg.SettleDelay,
		Monitor:        monitor,
		Recorder:       rec,
		Logger:         logger,
	})

	if cfg.MetricsAddr == "" {
		return svc.Run(ctx)
	}

	mux := httpapi.NewMux(httpapi.ConnectedCheck("mqtt", client.IsConnected))
	mux.Handle("GET /metrics", metrics.Handler(reg))
	srv := startHTTP(httpapi.NewServer(cfg.MetricsAddr, mux, logger), logger)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopErr := make(chan error, 1)
	go func() { loopErr <- svc.Run(loopCtx) }()

	select {
	case err := <-loopErr:
		if stopErr := srv.Stop(); stopErr != nil {
			logger.Error("http shutdown", "error", stopErr)
		}
		return err
	case <-srv.Done():
		stopLoop()
		<-loopErr
		if err := srv.Err(); err != nil {
			return err
		}
		return ctx.Err()
	}
}
