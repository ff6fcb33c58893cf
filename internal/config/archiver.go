package config

import (
	"fmt"
	"time"
)

// ArchiverConfig is the telemetry archiver configuration.
type ArchiverConfig struct {
	Common
	MQTT           MQTT
	TelemetryTopic string
	HTTPAddr       string

	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func LoadArchiverFromEnv() (ArchiverConfig, error) {
	common, err := loadCommon()
	if err != nil {
		return ArchiverConfig{}, err
	}
	mqttCfg, err := loadMQTT("field-archiver")
	if err != nil {
		return ArchiverConfig{}, err
	}
	// The archiver may start before the broker.
	mqttCfg.ConnectRetry = true

	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return ArchiverConfig{}, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return ArchiverConfig{}, err
	}
	if maxOpenConns < 0 || maxIdleConns < 0 {
		return ArchiverConfig{}, fmt.Errorf("DB_MAX_OPEN_CONNS and DB_MAX_IDLE_CONNS must not be negative")
	}
	connMaxLifetime, err := envDuration("DB_CONN_MAX_LIFETIME", 0)
	if err != nil {
		return ArchiverConfig{}, err
	}

	return ArchiverConfig{
		Common:          common,
		MQTT:            mqttCfg,
		TelemetryTopic:  envOr("TELEMETRY_TOPIC", "surfacecoils/+/telemetry"),
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		Driver:          envOr("DB_DRIVER", "sqlite3"),
		DSN:             envOr("DB_DSN", ""),
		Path:            envOr("SQLITE_PATH", "../dev/sqlite/archive.db"),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	}, nil
}
