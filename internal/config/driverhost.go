package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/g2-field-team/field-daq/internal/hardware"
	"github.com/g2-field-team/field-daq/internal/protocol"
	"github.com/g2-field-team/field-daq/internal/setpoint"
	"github.com/g2-field-team/field-daq/internal/topology"
)

// Hardware backends.
const (
	HardwareMock = "mock"
	HardwareSim  = "sim"
	HardwareExec = "exec"
)

type Topics struct {
	Telemetry string
	Command   string
	Reply     string
	Alarm     string
}

// DefaultTopics returns the topic layout for one node group.
func DefaultTopics(group int) Topics {
	base := fmt.Sprintf("surfacecoils/%d", group)
	return Topics{
		Telemetry: base + "/telemetry",
		Command:   base + "/setpoints",
		Reply:     base + "/setpoints/reply",
		Alarm:     "surfacecoils/alarms",
	}
}

// Config is the driver host configuration.
type Config struct {
	Common
	MQTT      MQTT
	NodeGroup int
	Topics    Topics

	PollPeriod      time.Duration
	CommandTimeout  time.Duration
	SettleDelay     time.Duration
	CommandMode     setpoint.Mode
	TelemetryFormat protocol.Format

	Hardware       string
	Exec           hardware.ExecConfig
	CardSelectGPIO []string

	AlarmThreshold   int
	CurrentTolerance float64
	MaxTemperature   float64

	// MetricsAddr serves /metrics and /healthz; empty disables it.
	MetricsAddr string

	Topology *topology.Topology
}

func LoadFromEnv() (Config, error) {
	common, err := loadCommon()
	if err != nil {
		return Config{}, err
	}
	mqttCfg, err := loadMQTT("field-driverhost")
	if err != nil {
		return Config{}, err
	}

	group, err := envInt("NODE_GROUP", 1)
	if err != nil {
		return Config{}, err
	}
	if group < 0 {
		return Config{}, fmt.Errorf("NODE_GROUP must not be negative, got %d", group)
	}
	topics := DefaultTopics(group)
	topics.Telemetry = envOr("TELEMETRY_TOPIC", topics.Telemetry)
	topics.Command = envOr("COMMAND_TOPIC", topics.Command)
	topics.Reply = envOr("REPLY_TOPIC", topics.Command+"/reply")
	topics.Alarm = envOr("ALARM_TOPIC", topics.Alarm)

	pollPeriod, err := envDuration("POLL_PERIOD", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	if pollPeriod <= 0 {
		return Config{}, fmt.Errorf("POLL_PERIOD must be positive, got %v", pollPeriod)
	}
	commandTimeout, err := envDuration("COMMAND_TIMEOUT", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	settleDelay, err := envDuration("SETTLE_DELAY", 0)
	if err != nil {
		return Config{}, err
	}

	mode, err := setpoint.ParseMode(envOr("COMMAND_MODE", string(setpoint.ModeReply)))
	if err != nil {
		return Config{}, fmt.Errorf("COMMAND_MODE: %w", err)
	}
	format, err := protocol.ParseFormat(envOr("TELEMETRY_FORMAT", string(protocol.FormatJSON)))
	if err != nil {
		return Config{}, fmt.Errorf("TELEMETRY_FORMAT: %w", err)
	}

	hw := strings.ToLower(envOr("HARDWARE", HardwareMock))
	switch hw {
	case HardwareMock, HardwareSim, HardwareExec:
	default:
		return Config{}, fmt.Errorf("invalid HARDWARE %q (allowed: mock, sim, exec)", hw)
	}
	hwTimeout, err := envDuration("HW_CMD_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	execCfg := hardware.ExecConfig{
		SelectCmd:      envOr("HW_SELECT_CMD", ""),
		ReadCurrentCmd: envOr("HW_READ_CURRENT_CMD", ""),
		ReadTempCmd:    envOr("HW_READ_TEMP_CMD", ""),
		SetCurrentCmd:  envOr("HW_SET_CURRENT_CMD", ""),
		Timeout:        hwTimeout,
	}
	if hw == HardwareExec && (execCfg.ReadCurrentCmd == "" || execCfg.ReadTempCmd == "" || execCfg.SetCurrentCmd == "") {
		return Config{}, fmt.Errorf("HARDWARE=exec requires HW_READ_CURRENT_CMD, HW_READ_TEMP_CMD and HW_SET_CURRENT_CMD")
	}

	threshold, err := envInt("ALARM_THRESHOLD", 3)
	if err != nil {
		return Config{}, err
	}
	if threshold < 1 {
		return Config{}, fmt.Errorf("ALARM_THRESHOLD must be at least 1, got %d", threshold)
	}
	tolerance, err := envFloat("CURRENT_TOLERANCE", 0.1)
	if err != nil {
		return Config{}, err
	}
	if tolerance <= 0 {
		return Config{}, fmt.Errorf("CURRENT_TOLERANCE must be positive, got %v", tolerance)
	}
	maxTemp, err := envFloat("MAX_TEMPERATURE", 60)
	if err != nil {
		return Config{}, err
	}

	topo, err := loadTopology()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Common:           common,
		MQTT:             mqttCfg,
		NodeGroup:        group,
		Topics:           topics,
		PollPeriod:       pollPeriod,
		CommandTimeout:   commandTimeout,
		SettleDelay:      settleDelay,
		CommandMode:      mode,
		TelemetryFormat:  format,
		Hardware:         hw,
		Exec:             execCfg,
		CardSelectGPIO:   envList("CARD_SELECT_GPIO"),
		AlarmThreshold:   threshold,
		CurrentTolerance: tolerance,
		MaxTemperature:   maxTemp,
		MetricsAddr:      envOrUnset("METRICS_ADDR", ":9100"),
		Topology:         topo,
	}, nil
}

// loadTopology prefers TOPOLOGY_FILE; otherwise the TOPOLOGY_* counts.
func loadTopology() (*topology.Topology, error) {
	if path := envOr("TOPOLOGY_FILE", ""); path != "" {
		return topology.Load(path)
	}

	groups, err := envInt("TOPOLOGY_GROUPS", 1)
	if err != nil {
		return nil, err
	}
	boards, err := envInt("TOPOLOGY_BOARDS", 2)
	if err != nil {
		return nil, err
	}
	offset, err := envInt("TOPOLOGY_CARD_OFFSET", 0)
	if err != nil {
		return nil, err
	}
	topo, err := topology.New(groups, boards, offset)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	return topo, nil
}
