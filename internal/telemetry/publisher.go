// Package telemetry sweeps the channels of one bus and publishes the readings.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/g2-field-team/field-daq/internal/faults"
	"github.com/g2-field-team/field-daq/internal/hardware"
	"github.com/g2-field-team/field-daq/internal/metrics"
	"github.com/g2-field-team/field-daq/internal/protocol"
	"github.com/g2-field-team/field-daq/internal/topology"
)

// Sink is the outbound telemetry channel.
type Sink interface {
	PublishTelemetry(ctx context.Context, payload []byte) error
}

type Options struct {
	Format   protocol.Format
	Recorder metrics.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Publisher owns no state across cycles apart from the cycle counter; every
// sweep builds a fresh Snapshot.
type Publisher struct {
	topo   *topology.Topology
	hw     hardware.Adapter
	sink   Sink
	format protocol.Format
	rec    metrics.Recorder
	logger *slog.Logger
	now    func() time.Time

	cycle uint64
}

func NewPublisher(topo *topology.Topology, hw hardware.Adapter, sink Sink, opts Options) *Publisher {
	p := &Publisher{
		topo:   topo,
		hw:     hw,
		sink:   sink,
		format: opts.Format,
		rec:    opts.Recorder,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if p.format == "" {
		p.format = protocol.FormatJSON
	}
	if p.rec == nil {
		p.rec = metrics.Nop{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Sweep reads every channel once, selecting each card once. A card that
// cannot be selected and a channel that cannot be read are left out of the
// snapshot.
func (p *Publisher) Sweep(ctx context.Context) Snapshot {
	p.cycle++
	snap := Snapshot{
		Cycle:   p.cycle,
		Taken:   p.now(),
		Samples: make([]Sample, 0, p.topo.Len()),
	}

	for _, cc := range p.topo.Cards() {
		if err := p.hw.SelectCard(ctx, cc.Card); err != nil {
			p.rec.Fault(faults.CardSelectFailure)
			p.logger.Warn("card select failed, skipping card this cycle",
				"cycle", snap.Cycle,
				"card", cc.Card,
				"error", err,
			)
			snap.Missing = append(snap.Missing, cc.IDs...)
			continue
		}

		for _, id := range cc.IDs {
			smp, err := p.read(ctx, id)
			if err != nil {
				p.rec.Fault(faults.ChannelReadFailure)
				p.logger.Warn("channel read failed, omitting from snapshot",
					"cycle", snap.Cycle,
					"hw_id", id.String(),
					"card", cc.Card,
					"error", err,
				)
				snap.Missing = append(snap.Missing, id)
				continue
			}
			snap.Samples = append(snap.Samples, smp)
		}
	}
	return snap
}

func (p *Publisher) read(ctx context.Context, id topology.ID) (Sample, error) {
	phys, err := p.topo.ToPhysical(id)
	if err != nil {
		return Sample{}, err
	}
	current, err := p.hw.ReadCurrent(ctx, phys.Channel)
	if err != nil {
		return Sample{}, faults.Wrap(faults.ChannelReadFailure, "read_current", err)
	}
	temp, err := p.hw.ReadTemperature(ctx, phys.Channel)
	if err != nil {
		return Sample{}, faults.Wrap(faults.ChannelReadFailure, "read_temperature", err)
	}
	if math.IsNaN(current) || math.IsInf(current, 0) || math.IsNaN(temp) || math.IsInf(temp, 0) {
		return Sample{}, faults.New(faults.ChannelReadFailure, "read", fmt.Sprintf("non-finite reading current=%v temperature=%v", current, temp))
	}
	return Sample{ID: id, Current: current, Temperature: temp, Timestamp: p.now()}, nil
}

// Encode renders a snapshot in the configured wire format. The floats format
// is positional over the whole topology, so a missing channel renders as
// "NaN NaN" rather than shifting its neighbours.
func (p *Publisher) Encode(snap Snapshot) ([]byte, error) {
	switch p.format {
	case protocol.FormatFloats:
		byID := make(map[topology.ID]Sample, len(snap.Samples))
		for _, s := range snap.Samples {
			byID[s.ID] = s
		}
		ids := p.topo.IDs()
		vals := make([]float64, 0, 2*len(ids))
		for _, id := range ids {
			s, ok := byID[id]
			if !ok {
				vals = append(vals, math.NaN(), math.NaN())
				continue
			}
			vals = append(vals, s.Current, s.Temperature)
		}
		return protocol.EncodeFloats(vals), nil
	default:
		readings := make([]protocol.Reading, 0, len(snap.Samples))
		for _, s := range snap.Samples {
			readings = append(readings, protocol.Reading{ID: s.ID.String(), Current: s.Current, Temperature: s.Temperature})
		}
		return protocol.EncodeSnapshotJSON(readings)
	}
}

// PublishCycle sweeps and publishes one snapshot. The publish is fire and
// forget: a failure is logged and counted, and the next cycle supersedes it.
func (p *Publisher) PublishCycle(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	snap := p.Sweep(ctx)

	payload, err := p.Encode(snap)
	if err == nil {
		err = p.sink.PublishTelemetry(ctx, payload)
	}
	if err != nil {
		p.rec.PublishFailed()
		p.logger.Warn("telemetry publish failed", "cycle", snap.Cycle, "error", err)
	} else {
		p.logger.Debug("published telemetry",
			"cycle", snap.Cycle,
			"channels", len(snap.Samples),
			"missing", len(snap.Missing),
		)
	}
	p.rec.Cycle(time.Since(start), len(snap.Samples))
	return snap, err
}
