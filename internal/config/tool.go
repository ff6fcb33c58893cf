package config

import (
	"fmt"

	"github.com/g2-field-team/field-daq/internal/topology"
)

// ToolConfig is what fieldtool needs to reach a driver host.
type ToolConfig struct {
	Common
	MQTT     MQTT
	Topics   Topics
	Topology *topology.Topology
}

func LoadToolFromEnv() (ToolConfig, error) {
	common, err := loadCommon()
	if err != nil {
		return ToolConfig{}, err
	}
	mqttCfg, err := loadMQTT("fieldtool")
	if err != nil {
		return ToolConfig{}, err
	}
	group, err := envInt("NODE_GROUP", 1)
	if err != nil {
		return ToolConfig{}, err
	}
	if group < 0 {
		return ToolConfig{}, fmt.Errorf("NODE_GROUP must not be negative, got %d", group)
	}
	topics := DefaultTopics(group)
	topics.Command = envOr("COMMAND_TOPIC", topics.Command)
	topics.Reply = envOr("REPLY_TOPIC", topics.Command+"/reply")

	topo, err := loadTopology()
	if err != nil {
		return ToolConfig{}, err
	}
	return ToolConfig{Common: common, MQTT: mqttCfg, Topics: topics, Topology: topo}, nil
}
