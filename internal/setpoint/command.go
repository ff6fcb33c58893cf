// Package setpoint receives setpoint commands, applies them to the hardware
// and optionally replies with the read-back currents.
package setpoint

import (
	"fmt"
	"math"
	"sort"

	"github.com/g2-field-team/field-daq/internal/faults"
	"github.com/g2-field-team/field-daq/internal/protocol"
	"github.com/g2-field-team/field-daq/internal/topology"
)

// Command is one target current for one channel.
type Command struct {
	ID     topology.ID
	Target float64
}

// Message is a parsed inbound payload. Format and Terminated are kept so the
// reply can be encoded the same way.
type Message struct {
	Format     protocol.Format
	Terminated bool
	Commands   []Command
}

// Parse validates payload against topo. A JSON payload maps hardware ids to
// targets; a floats payload addresses the first N ids of the topology in
// iteration order. Any malformed field rejects the whole message with
// faults.InvalidCommand.
func Parse(topo *topology.Topology, payload []byte) (Message, error) {
	body, terminated := protocol.StripTerminator(payload)
	msg := Message{
		Format:     protocol.DetectFormat(body),
		Terminated: terminated,
	}

	var err error
	switch msg.Format {
	case protocol.FormatJSON:
		msg.Commands, err = parseJSON(topo, body)
	default:
		msg.Commands, err = parseFloats(topo, body)
	}
	return msg, err
}

func parseJSON(topo *topology.Topology, body []byte) ([]Command, error) {
	raw, err := protocol.DecodeSetpointsJSON(body)
	if err != nil {
		return nil, faults.Wrap(faults.InvalidCommand, "parse_json", err)
	}
	if len(raw) == 0 {
		return nil, faults.New(faults.InvalidCommand, "parse_json", "no setpoints in message")
	}

	cmds := make([]Command, 0, len(raw))
	for key, v := range raw {
		id, err := topology.ParseID(key)
		if err != nil {
			return nil, faults.Wrap(faults.InvalidCommand, "parse_json", err)
		}
		if !topo.Contains(id) {
			return nil, faults.Wrap(faults.InvalidCommand, "parse_json",
				faults.New(faults.InvalidAddress, "parse_json", fmt.Sprintf("hw_id %s outside topology", key)))
		}
		if err := checkTarget(key, v); err != nil {
			return nil, err
		}
		cmds = append(cmds, Command{ID: id, Target: v})
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].ID.Less(cmds[j].ID) })
	return cmds, nil
}

func parseFloats(topo *topology.Topology, body []byte) ([]Command, error) {
	vals, err := protocol.ParseFloats(body)
	if err != nil {
		return nil, faults.Wrap(faults.InvalidCommand, "parse_floats", err)
	}
	ids := topo.IDs()
	if len(vals) > len(ids) {
		return nil, faults.New(faults.InvalidCommand, "parse_floats",
			fmt.Sprintf("%d values for %d channels", len(vals), len(ids)))
	}

	cmds := make([]Command, 0, len(vals))
	for i, v := range vals {
		if err := checkTarget(ids[i].String(), v); err != nil {
			return nil, err
		}
		cmds = append(cmds, Command{ID: ids[i], Target: v})
	}
	return cmds, nil
}

func checkTarget(id string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return faults.New(faults.InvalidCommand, "parse", fmt.Sprintf("hw_id %s: target %v is not finite", id, v))
	}
	return nil
}
