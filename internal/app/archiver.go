package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/g2-field-team/field-daq/internal/archive"
	"github.com/g2-field-team/field-daq/internal/config"
	"github.com/g2-field-team/field-daq/internal/db"
	"github.com/g2-field-team/field-daq/internal/httpapi"
	"github.com/g2-field-team/field-daq/internal/migrate"
	"github.com/g2-field-team/field-daq/internal/mqtt"
)

// RunArchiver consumes telemetry into the archive database and serves the
// read API until ctx is cancelled.
func RunArchiver(ctx context.Context, cfg config.ArchiverConfig, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.Path,
		"dbMaxOpenConns", cfg.MaxOpenConns,
		"dbMaxIdleConns", cfg.MaxIdleConns,
		"dbConnMaxLifetime", cfg.ConnMaxLifetime,
		"mqttBroker", cfg.MQTT.Broker,
		"mqttPort", cfg.MQTT.Port,
		"telemetryTopic", cfg.TelemetryTopic,
	)

	dbConn, err := db.Open(cfg, logger.With("component", "db"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if _, err := migrate.Run(dbConn, logger); err != nil {
		return err
	}

	var ok int
	if err := dbConn.QueryRow(`SELECT 1`).Scan(&ok); err != nil {
		return err
	}
	if ok != 1 {
		return errors.New("database connection failed")
	}
	logger.Info("database connection successful")

	// The handler must be set before Connect; the broker may deliver right
	// after CONNACK.
	subscriber := mqtt.NewSubscriber(cfg.MQTT, cfg.TelemetryTopic, logger.With("component", "mqtt"))
	mux := httpapi.NewMux(httpapi.DBCheck(dbConn))
	if _, err := archive.RegisterFeature(mux, dbConn, subscriber, cfg.TelemetryTopic, logger); err != nil {
		return err
	}

	// Keep serving the read API while the broker is unreachable; paho keeps
	// retrying in the background.
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	err = subscriber.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Warn("mqtt not connected yet, continuing", "error", err)
	}

	srv := startHTTP(httpapi.NewServer(cfg.HTTPAddr, mux, logger), logger)

	select {
	case <-ctx.Done():
	case <-srv.Done():
		subscriber.Disconnect()
		return srv.Err()
	}

	logger.Info("mqtt disconnecting")
	subscriber.Disconnect()

	if err := srv.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}
