package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/g2-field-team/field-daq/internal/telemetry"
	"github.com/g2-field-team/field-daq/internal/topology"
)

const (
	DefaultThreshold        = 3
	DefaultCurrentTolerance = 0.1
	DefaultMaxTemperature   = 60.0
)

type MonitorOptions struct {
	// Threshold is the number of consecutive cycles a condition must hold
	// before an alarm is raised.
	Threshold        int
	CurrentTolerance float64
	MaxTemperature   float64
	Subsystem        string

	Logger *slog.Logger
	Now    func() time.Time
}

type condition struct {
	kind  Kind
	check string
	id    topology.ID
}

type state struct {
	count   int
	latched bool
}

// Monitor tracks channel health across snapshots. An alarm is raised once
// when a condition has held for Threshold cycles and stays latched until the
// condition clears.
type Monitor struct {
	opts     MonitorOptions
	notifier Notifier
	logger   *slog.Logger

	states map[condition]*state
}

func NewMonitor(n Notifier, opts MonitorOptions) *Monitor {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.CurrentTolerance <= 0 {
		opts.CurrentTolerance = DefaultCurrentTolerance
	}
	if opts.MaxTemperature == 0 {
		opts.MaxTemperature = DefaultMaxTemperature
	}
	if opts.Subsystem == "" {
		opts.Subsystem = SubsystemSurfaceCoils
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		opts:     opts,
		notifier: n,
		logger:   opts.Logger,
		states:   make(map[condition]*state),
	}
}

// Observe checks one snapshot against the applied setpoints.
func (m *Monitor) Observe(ctx context.Context, snap telemetry.Snapshot, setpoints map[topology.ID]float64) {
	active := make(map[condition]string)

	for _, s := range snap.Samples {
		if target, ok := setpoints[s.ID]; ok && math.Abs(s.Current-target) > m.opts.CurrentTolerance {
			active[condition{kind: KindWarning, check: "current", id: s.ID}] = fmt.Sprintf(
				"hw_id %s current %.3f A is off setpoint %.3f A by more than %.3f A",
				s.ID, s.Current, target, m.opts.CurrentTolerance)
		}
		if s.Temperature > m.opts.MaxTemperature {
			active[condition{kind: KindError, check: "temperature", id: s.ID}] = fmt.Sprintf(
				"hw_id %s temperature %.1f C above limit %.1f C",
				s.ID, s.Temperature, m.opts.MaxTemperature)
		}
	}
	for _, id := range snap.Missing {
		active[condition{kind: KindFailure, check: "hardware", id: id}] = fmt.Sprintf(
			"hw_id %s could not be read", id)
	}

	for _, c := range sortedConditions(active) {
		st, ok := m.states[c]
		if !ok {
			st = &state{}
			m.states[c] = st
		}
		st.count++
		if st.latched || st.count < m.opts.Threshold {
			continue
		}
		st.latched = true
		m.raise(ctx, c, fmt.Sprintf("%s for %d cycles", active[c], st.count))
	}

	for c, st := range m.states {
		if _, ok := active[c]; ok {
			continue
		}
		if st.latched {
			m.logger.Info("alarm condition cleared",
				"kind", c.kind,
				"check", c.check,
				"hw_id", c.id.String(),
			)
		}
		delete(m.states, c)
	}
}

// Latched reports how many alarms are currently latched.
func (m *Monitor) Latched() int {
	n := 0
	for _, st := range m.states {
		if st.latched {
			n++
		}
	}
	return n
}

func (m *Monitor) raise(ctx context.Context, c condition, text string) {
	a := Alarm{
		Kind:      c.kind,
		Subsystem: m.opts.Subsystem,
		Message:   m.opts.Subsystem + ": " + text,
		Raised:    m.opts.Now(),
	}
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, a); err != nil {
		m.logger.Warn("alarm notification failed", "kind", a.Kind, "error", err)
	}
}

func sortedConditions(active map[condition]string) []condition {
	out := make([]condition, 0, len(active))
	for c := range active {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].id != out[j].id {
			return out[i].id.Less(out[j].id)
		}
		return out[i].check < out[j].check
	})
	return out
}
