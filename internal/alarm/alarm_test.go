package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/g2-field-team/field-daq/internal/telemetry"
	"github.com/g2-field-team/field-daq/internal/topology"
	"github.com/g2-field-team/field-daq/internal/transport/transporttest"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"surface-coils: hw_id 111 could not be read", SubsystemSurfaceCoils},
		{"trolley:stuck", "trolley"},
		{"no prefix here", SubsystemGeneral},
		{"magnet: quench", SubsystemGeneral},
		{"", SubsystemGeneral},
	}
	for _, tt := range tests {
		if got := Route(tt.msg); got != tt.want {
			t.Errorf("Route(%q) = %q; want %q", tt.msg, got, tt.want)
		}
	}
}

func TestTopicNotifier(t *testing.T) {
	mem := transporttest.NewMemory(0)
	n := NewTopicNotifier(mem)

	if err := n.Notify(context.Background(), Alarm{Kind: KindError, Message: "flux-gates: offline"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	sent := mem.Alarms()
	if len(sent) != 1 {
		t.Fatalf("alarms = %d; want 1", len(sent))
	}
	var got Alarm
	if err := json.Unmarshal(sent[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindError || got.Subsystem != "flux-gates" {
		t.Errorf("alarm = %+v", got)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))
	_ = n.Notify(context.Background(), Alarm{Kind: KindFailure, Subsystem: SubsystemSurfaceCoils, Message: "x"})

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "alarm raised") {
		t.Errorf("log output = %q", out)
	}
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Alarm) error { return errors.New("smtp down") }

type captureNotifier struct{ alarms []Alarm }

func (c *captureNotifier) Notify(_ context.Context, a Alarm) error {
	c.alarms = append(c.alarms, a)
	return nil
}

func TestMulti_JoinsErrors(t *testing.T) {
	c := &captureNotifier{}
	err := Multi{failingNotifier{}, c}.Notify(context.Background(), Alarm{Kind: KindWarning})
	if err == nil {
		t.Fatal("Multi.Notify error = nil")
	}
	if len(c.alarms) != 1 {
		t.Errorf("second notifier got %d alarms; want 1", len(c.alarms))
	}
}

var (
	id111 = topology.ID{Group: 1, Board: 1, Slot: 1}
	id112 = topology.ID{Group: 1, Board: 1, Slot: 2}
)

func snapshot(samples ...telemetry.Sample) telemetry.Snapshot {
	return telemetry.Snapshot{Samples: samples}
}

func TestMonitor_RaisesAfterThresholdOnce(t *testing.T) {
	c := &captureNotifier{}
	m := NewMonitor(c, MonitorOptions{Threshold: 3, CurrentTolerance: 0.1})
	ctx := context.Background()
	setpoints := map[topology.ID]float64{id111: 2.0}
	off := snapshot(telemetry.Sample{ID: id111, Current: 1.5, Temperature: 20})

	for i := 0; i < 2; i++ {
		m.Observe(ctx, off, setpoints)
	}
	if len(c.alarms) != 0 {
		t.Fatalf("alarm raised before threshold: %+v", c.alarms)
	}

	for i := 0; i < 3; i++ {
		m.Observe(ctx, off, setpoints)
	}
	if len(c.alarms) != 1 {
		t.Fatalf("alarms = %d; want exactly 1 while latched", len(c.alarms))
	}
	a := c.alarms[0]
	if a.Kind != KindWarning || a.Subsystem != SubsystemSurfaceCoils {
		t.Errorf("alarm = %+v", a)
	}
	if Route(a.Message) != SubsystemSurfaceCoils {
		t.Errorf("message %q does not route to %s", a.Message, SubsystemSurfaceCoils)
	}
	if m.Latched() != 1 {
		t.Errorf("latched = %d; want 1", m.Latched())
	}

	// Recovery clears the latch; a new excursion needs the full threshold again.
	m.Observe(ctx, snapshot(telemetry.Sample{ID: id111, Current: 2.05, Temperature: 20}), setpoints)
	if m.Latched() != 0 {
		t.Errorf("latched after recovery = %d; want 0", m.Latched())
	}
	for i := 0; i < 3; i++ {
		m.Observe(ctx, off, setpoints)
	}
	if len(c.alarms) != 2 {
		t.Errorf("alarms after second excursion = %d; want 2", len(c.alarms))
	}
}

func TestMonitor_IntermittentConditionResetsCount(t *testing.T) {
	c := &captureNotifier{}
	m := NewMonitor(c, MonitorOptions{Threshold: 2})
	ctx := context.Background()

	missing := telemetry.Snapshot{Missing: []topology.ID{id112}}
	ok := snapshot(telemetry.Sample{ID: id112, Current: 0, Temperature: 20})

	m.Observe(ctx, missing, nil)
	m.Observe(ctx, ok, nil)
	m.Observe(ctx, missing, nil)
	if len(c.alarms) != 0 {
		t.Fatalf("intermittent fault raised %d alarms", len(c.alarms))
	}
	m.Observe(ctx, missing, nil)
	if len(c.alarms) != 1 || c.alarms[0].Kind != KindFailure {
		t.Fatalf("alarms = %+v; want one failure", c.alarms)
	}
}

func TestMonitor_TemperatureAndNotifyFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := NewMonitor(failingNotifier{}, MonitorOptions{
		Threshold:      1,
		MaxTemperature: 50,
		Logger:         logger,
		Now:            func() time.Time { return now },
	})
	m.Observe(context.Background(), snapshot(telemetry.Sample{ID: id111, Temperature: 55}), nil)

	if m.Latched() != 1 {
		t.Errorf("latched = %d; want 1", m.Latched())
	}
	if !strings.Contains(buf.String(), "alarm notification failed") {
		t.Errorf("notify failure not logged:\n%s", buf.String())
	}
}
