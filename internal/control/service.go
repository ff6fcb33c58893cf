// Package control runs the cooperative poll, sweep and publish loop for one
// hardware bus.
package control

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/g2-field-team/field-daq/internal/hardware"
	"github.com/g2-field-team/field-daq/internal/metrics"
	"github.com/g2-field-team/field-daq/internal/protocol"
	"github.com/g2-field-team/field-daq/internal/setpoint"
	"github.com/g2-field-team/field-daq/internal/telemetry"
	"github.com/g2-field-team/field-daq/internal/topology"
)

const DefaultPeriod = 500 * time.Millisecond

// Transport carries telemetry out and commands in.
type Transport interface {
	telemetry.Sink
	setpoint.Inbox
	setpoint.Replier
}

// Monitor inspects every snapshot after it has been published.
type Monitor interface {
	Observe(ctx context.Context, snap telemetry.Snapshot, setpoints map[topology.ID]float64)
}

type Options struct {
	Period         time.Duration
	Format         protocol.Format
	Mode           setpoint.Mode
	CommandTimeout time.Duration
	SettleDelay    time.Duration

	Monitor  Monitor
	Recorder metrics.Recorder
	Logger   *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Service owns the hardware adapter for its lifetime. Nothing else may use
// the adapter while Run is active.
type Service struct {
	pub     *telemetry.Publisher
	lst     *setpoint.Listener
	monitor Monitor
	period  time.Duration
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(topo *topology.Topology, hw hardware.Adapter, tr Transport, opts Options) *Service {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}

	return &Service{
		pub: telemetry.NewPublisher(topo, hw, tr, telemetry.Options{
			Format:   opts.Format,
			Recorder: opts.Recorder,
			Logger:   opts.Logger.With("loop", "telemetry"),
		}),
		lst: setpoint.NewListener(topo, hw, tr, tr, setpoint.Options{
			Mode:           opts.Mode,
			CommandTimeout: opts.CommandTimeout,
			SettleDelay:    opts.SettleDelay,
			Recorder:       opts.Recorder,
			Logger:         opts.Logger.With("loop", "setpoint"),
			Sleep:          opts.Sleep,
		}),
		monitor: opts.Monitor,
		period:  opts.Period,
		logger:  opts.Logger,
		now:     opts.Now,
		sleep:   opts.Sleep,
	}
}

// Step runs one cycle: a bounded wait for a command, one telemetry sweep and
// the health check. A command received in this step is reflected in the
// snapshot it returns.
func (s *Service) Step(ctx context.Context) (telemetry.Snapshot, error) {
	if _, err := s.lst.Poll(ctx); err != nil {
		return telemetry.Snapshot{}, err
	}

	// Publish failures are counted by the publisher and never stop the loop.
	snap, _ := s.pub.PublishCycle(ctx)

	if s.monitor != nil {
		s.monitor.Observe(ctx, snap, s.lst.Setpoints())
	}
	return snap, nil
}

// Run repeats Step until ctx is cancelled, sleeping for what is left of the
// period after each step. A slow step delays the next one; missed cycles are
// not made up.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("control loop started", "period", s.period)
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("control loop stopped")
			return err
		}

		start := s.now()
		if _, err := s.Step(ctx); err != nil {
			if ctx.Err() == nil {
				s.logger.Error("control loop aborted", "error", err)
			}
			return err
		}

		remaining := s.period - s.now().Sub(start)
		if remaining <= 0 {
			continue
		}
		if err := s.sleep(ctx, remaining); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
}

// Setpoints returns the last applied target per channel.
func (s *Service) Setpoints() map[topology.ID]float64 {
	return s.lst.Setpoints()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
