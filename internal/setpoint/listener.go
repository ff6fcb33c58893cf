package setpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/g2-field-team/field-daq/internal/faults"
	"github.com/g2-field-team/field-daq/internal/hardware"
	"github.com/g2-field-team/field-daq/internal/metrics"
	"github.com/g2-field-team/field-daq/internal/protocol"
	"github.com/g2-field-team/field-daq/internal/topology"
	"github.com/g2-field-team/field-daq/internal/transport"
)

// Mode selects whether commands are answered.
type Mode string

const (
	ModeReply     Mode = "reply"
	ModeSubscribe Mode = "subscribe"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReply:
		return ModeReply, nil
	case ModeSubscribe:
		return ModeSubscribe, nil
	default:
		return "", fmt.Errorf("invalid command mode %q (allowed: reply, subscribe)", s)
	}
}

// Inbox yields inbound command messages.
type Inbox interface {
	Receive(ctx context.Context, timeout time.Duration) (transport.Request, bool, error)
}

// Replier sends a reply to the last command.
type Replier interface {
	Reply(ctx context.Context, payload []byte) error
}

type Options struct {
	Mode Mode

	// CommandTimeout bounds the wait for a command. Zero only checks for an
	// already queued message.
	CommandTimeout time.Duration

	// SettleDelay is waited between applying and reading back.
	SettleDelay time.Duration

	Recorder metrics.Recorder
	Logger   *slog.Logger
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Result is the outcome of one command entry. Err is set when the target was
// not applied; ReadErr when it was applied but could not be read back.
type Result struct {
	Command
	Readback float64
	Err      error
	ReadErr  error
}

type Listener struct {
	topo    *topology.Topology
	hw      hardware.Adapter
	inbox   Inbox
	replier Replier
	opts    Options
	logger  *slog.Logger
	rec     metrics.Recorder

	mu        sync.Mutex
	setpoints map[topology.ID]float64
}

func NewListener(topo *topology.Topology, hw hardware.Adapter, inbox Inbox, replier Replier, opts Options) *Listener {
	if opts.Mode == "" {
		opts.Mode = ModeReply
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	l := &Listener{
		topo:      topo,
		hw:        hw,
		inbox:     inbox,
		replier:   replier,
		opts:      opts,
		logger:    opts.Logger,
		rec:       opts.Recorder,
		setpoints: make(map[topology.ID]float64),
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.rec == nil {
		l.rec = metrics.Nop{}
	}
	return l
}

// Poll waits up to CommandTimeout for one command and handles it. handled
// is false when the wait expired. A non-nil error means the inbox is closed
// or ctx is done; command faults are logged and never returned.
func (l *Listener) Poll(ctx context.Context) (handled bool, err error) {
	req, ok, err := l.inbox.Receive(ctx, l.opts.CommandTimeout)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	l.Handle(ctx, req.Payload)
	return true, nil
}

// Handle parses, applies and answers one command payload.
func (l *Listener) Handle(ctx context.Context, payload []byte) []Result {
	msg, err := Parse(l.topo, payload)
	if err != nil {
		l.rec.Command(metrics.CommandInvalid)
		l.rec.Fault(faults.InvalidCommand)
		l.logger.Warn("dropping setpoint command", "error", err, "bytes", len(payload))
		if l.opts.Mode == ModeReply {
			l.reply(ctx, protocol.Terminate([]byte("error "+err.Error()), msg.Terminated))
		}
		return nil
	}

	results := l.Apply(ctx, msg.Commands)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		l.rec.Command(metrics.CommandApplied)
	} else {
		l.rec.Command(metrics.CommandPartial)
	}
	l.logger.Info("applied setpoint command",
		"format", msg.Format,
		"channels", len(results),
		"failed", failed,
	)

	if l.opts.Mode != ModeReply {
		return results
	}

	if l.opts.SettleDelay > 0 {
		if err := l.opts.Sleep(ctx, l.opts.SettleDelay); err != nil {
			return results
		}
	}
	l.readBack(ctx, results)

	body, err := encodeReply(msg, results)
	if err != nil {
		l.logger.Error("encode setpoint reply", "error", err)
		return results
	}
	l.reply(ctx, body)
	return results
}

// Apply writes every command best effort. Commands on the same card share one
// select; a failure on one channel does not stop the others.
func (l *Listener) Apply(ctx context.Context, cmds []Command) []Result {
	results := make([]Result, len(cmds))
	for i, c := range cmds {
		results[i] = Result{Command: c, Readback: math.NaN()}
	}

	for _, g := range l.byCard(results) {
		if err := l.hw.SelectCard(ctx, g.card); err != nil {
			l.rec.Fault(faults.CardSelectFailure)
			l.logger.Warn("card select failed, setpoints not applied", "card", g.card, "error", err)
			for _, i := range g.idx {
				results[i].Err = faults.Wrap(faults.SetApplyFailure, "select_card", err)
				l.rec.Fault(faults.SetApplyFailure)
			}
			continue
		}

		for _, i := range g.idx {
			r := &results[i]
			if err := l.hw.SetCurrent(ctx, g.channel[i], r.Target); err != nil {
				r.Err = faults.Wrap(faults.SetApplyFailure, "set_current", err)
				l.rec.Fault(faults.SetApplyFailure)
				l.logger.Warn("setpoint not applied",
					"hw_id", r.ID.String(),
					"card", g.card,
					"target", r.Target,
					"error", err,
				)
				continue
			}
			l.remember(r.ID, r.Target)
		}
	}
	return results
}

// Setpoints returns the last target applied to each channel.
func (l *Listener) Setpoints() map[topology.ID]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[topology.ID]float64, len(l.setpoints))
	for id, v := range l.setpoints {
		out[id] = v
	}
	return out
}

func (l *Listener) remember(id topology.ID, v float64) {
	l.mu.Lock()
	l.setpoints[id] = v
	l.mu.Unlock()
}

func (l *Listener) readBack(ctx context.Context, results []Result) {
	for _, g := range l.byCard(results) {
		pending := make([]int, 0, len(g.idx))
		for _, i := range g.idx {
			if results[i].Err == nil {
				pending = append(pending, i)
			}
		}
		if len(pending) == 0 {
			continue
		}
		if err := l.hw.SelectCard(ctx, g.card); err != nil {
			l.rec.Fault(faults.CardSelectFailure)
			l.logger.Warn("card select failed during read back", "card", g.card, "error", err)
			for _, i := range pending {
				results[i].ReadErr = faults.Wrap(faults.CardSelectFailure, "read_back", err)
			}
			continue
		}
		for _, i := range pending {
			v, err := l.hw.ReadCurrent(ctx, g.channel[i])
			if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
				err = fmt.Errorf("non-finite reading current=%v", v)
			}
			if err != nil {
				results[i].ReadErr = faults.Wrap(faults.ChannelReadFailure, "read_back", err)
				l.rec.Fault(faults.ChannelReadFailure)
				l.logger.Warn("read back failed", "hw_id", results[i].ID.String(), "error", err)
				continue
			}
			results[i].Readback = v
		}
	}
}

func (l *Listener) reply(ctx context.Context, body []byte) {
	if err := l.replier.Reply(ctx, body); err != nil {
		l.logger.Warn("setpoint reply failed", "error", err)
	}
}

type cardGroup struct {
	card    int
	idx     []int
	channel map[int]int
}

// byCard groups result indices by card in order of first appearance.
func (l *Listener) byCard(results []Result) []*cardGroup {
	var groups []*cardGroup
	seen := make(map[int]*cardGroup)
	for i, r := range results {
		phys, err := l.topo.ToPhysical(r.ID)
		if err != nil {
			// Parse only yields ids inside the topology.
			results[i].Err = err
			continue
		}
		g, ok := seen[phys.Card]
		if !ok {
			g = &cardGroup{card: phys.Card, channel: make(map[int]int)}
			seen[phys.Card] = g
			groups = append(groups, g)
		}
		g.idx = append(g.idx, i)
		g.channel[i] = phys.Channel
	}
	return groups
}

// encodeReply answers in the format of the request. Floats replies list the
// read-back currents in command order with NaN for failed channels.
func encodeReply(msg Message, results []Result) ([]byte, error) {
	if msg.Format == protocol.FormatFloats {
		vals := make([]float64, len(results))
		for i, r := range results {
			vals[i] = r.Readback
		}
		return protocol.Terminate(protocol.EncodeFloats(vals), msg.Terminated), nil
	}

	reply := protocol.SetpointReply{Applied: make(map[string]float64, len(results))}
	for _, r := range results {
		switch {
		case r.Err != nil:
			if reply.Failed == nil {
				reply.Failed = make(map[string]string)
			}
			reply.Failed[r.ID.String()] = r.Err.Error()
		case r.ReadErr != nil || math.IsNaN(r.Readback):
			if reply.Unverified == nil {
				reply.Unverified = make(map[string]string)
			}
			reason := string(faults.ChannelReadFailure)
			if r.ReadErr != nil {
				reason = r.ReadErr.Error()
			}
			reply.Unverified[r.ID.String()] = reason
		default:
			reply.Applied[r.ID.String()] = r.Readback
		}
	}
	body, err := json.Marshal(reply)
	if err != nil {
		return nil, err
	}
	return protocol.Terminate(body, msg.Terminated), nil
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
