package hardware

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/g2-field-team/field-daq/internal/topology"
)

func TestMock_SetThenRead(t *testing.T) {
	ctx := context.Background()
	m := NewMock(MockOptions{Current: 1.0, Temperature: 20.0})

	if _, err := m.ReadCurrent(ctx, 1); !errors.Is(err, ErrNoCardSelected) {
		t.Fatalf("ReadCurrent before select: err = %v, want ErrNoCardSelected", err)
	}

	if err := m.SelectCard(ctx, 2); err != nil {
		t.Fatalf("SelectCard: %v", err)
	}
	if err := m.SetCurrent(ctx, 4, 3.25); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	got, err := m.ReadCurrent(ctx, 4)
	if err != nil {
		t.Fatalf("ReadCurrent: %v", err)
	}
	if got != 3.25 {
		t.Errorf("ReadCurrent = %v, want 3.25", got)
	}
	other, _ := m.ReadCurrent(ctx, 8)
	if other != 1.0 {
		t.Errorf("unset channel current = %v, want 1.0", other)
	}

	// The same channel number on another card is a different channel.
	if err := m.SelectCard(ctx, 3); err != nil {
		t.Fatalf("SelectCard: %v", err)
	}
	if v, _ := m.ReadCurrent(ctx, 4); v != 1.0 {
		t.Errorf("card 3 channel 4 = %v, want 1.0", v)
	}
	if m.Selects() != 2 || m.Sets() != 1 {
		t.Errorf("Selects=%d Sets=%d, want 2 and 1", m.Selects(), m.Sets())
	}
}

func TestMock_InjectedFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMock(MockOptions{})
	m.FailSelect(5)
	m.FailRead(topology.Physical{Card: 1, Channel: 2})
	m.FailSet(topology.Physical{Card: 1, Channel: 8})

	if err := m.SelectCard(ctx, 5); !errors.Is(err, ErrInjected) {
		t.Errorf("SelectCard(5) err = %v, want ErrInjected", err)
	}
	if err := m.SelectCard(ctx, 1); err != nil {
		t.Fatalf("SelectCard(1): %v", err)
	}
	if _, err := m.ReadTemperature(ctx, 2); !errors.Is(err, ErrInjected) {
		t.Errorf("ReadTemperature(2) err = %v, want ErrInjected", err)
	}
	if err := m.SetCurrent(ctx, 8, 1); !errors.Is(err, ErrInjected) {
		t.Errorf("SetCurrent(8) err = %v, want ErrInjected", err)
	}
	if _, ok := m.Current(topology.Physical{Card: 1, Channel: 8}); ok {
		t.Error("failed set must not change the channel")
	}
}

func TestSim_NoiseBounded(t *testing.T) {
	ctx := context.Background()
	m := NewSim(42)
	if err := m.SelectCard(ctx, 1); err != nil {
		t.Fatalf("SelectCard: %v", err)
	}
	if err := m.SetCurrent(ctx, 1, 2.3); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	for i := 0; i < 100; i++ {
		c, _ := m.ReadCurrent(ctx, 1)
		if math.Abs(c-2.3) > 0.1 {
			t.Fatalf("current %v outside 2.3±0.1", c)
		}
		temp, _ := m.ReadTemperature(ctx, 1)
		if math.Abs(temp-25.0) > 1.0 {
			t.Fatalf("temperature %v outside 25±1", temp)
		}
	}
}

func TestExec_Commands(t *testing.T) {
	var calls [][]string
	e, err := NewExec(ExecConfig{
		SelectCmd:      "SelCard.sh {card}",
		ReadCurrentCmd: "python REOCurr.py --chan {channel}",
		ReadTempCmd:    "python REOTemp.py --chan {channel}",
		SetCurrentCmd:  `python REOSetCurr.py "{channel}" {value}`,
	}, nil)
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}
	e.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		return []byte("  1.250000 \n"), nil
	}

	ctx := context.Background()
	if err := e.SelectCard(ctx, 3); err != nil {
		t.Fatalf("SelectCard: %v", err)
	}
	v, err := e.ReadCurrent(ctx, 4)
	if err != nil {
		t.Fatalf("ReadCurrent: %v", err)
	}
	if v != 1.25 {
		t.Errorf("ReadCurrent = %v, want 1.25", v)
	}
	if err := e.SetCurrent(ctx, 8, -0.5); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	want := [][]string{
		{"SelCard.sh", "3"},
		{"python", "REOCurr.py", "--chan", "4"},
		{"python", "REOSetCurr.py", "8", "-0.5"},
	}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %q, want %q", calls, want)
	}
}

func TestExec_BadOutputAndConfig(t *testing.T) {
	if _, err := NewExec(ExecConfig{ReadCurrentCmd: "a", ReadTempCmd: "b"}, nil); err == nil {
		t.Error("NewExec without set command: error = nil, want non-nil")
	}

	e, err := NewExec(ExecConfig{ReadCurrentCmd: "a", ReadTempCmd: "b", SetCurrentCmd: "c"}, nil)
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}
	e.run = func(context.Context, string, ...string) ([]byte, error) { return []byte("ERR"), nil }
	if err := e.SelectCard(context.Background(), 1); err != nil {
		t.Errorf("SelectCard without command: %v", err)
	}
	if _, err := e.ReadTemperature(context.Background(), 1); err == nil {
		t.Error("ReadTemperature on garbage output: error = nil, want non-nil")
	}
}

func TestGPIOCardSelect_DrivesAddressLines(t *testing.T) {
	pins := []*gpiotest.Pin{{N: "A0"}, {N: "A1"}, {N: "A2"}, {N: "A3"}}
	ios := make([]gpio.PinIO, len(pins))
	for i, p := range pins {
		ios[i] = p
	}
	m := NewMock(MockOptions{Current: 1})
	g, err := newGPIOCardSelect(m, ios)
	if err != nil {
		t.Fatalf("newGPIOCardSelect: %v", err)
	}

	if err := g.SelectCard(context.Background(), 10); err != nil {
		t.Fatalf("SelectCard: %v", err)
	}
	want := []gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.High}
	for i, p := range pins {
		if got := p.Read(); got != want[i] {
			t.Errorf("pin %s = %v, want %v", p.N, got, want[i])
		}
	}
	if m.Selects() != 1 {
		t.Errorf("inner Selects = %d, want 1", m.Selects())
	}
	if err := g.SelectCard(context.Background(), 16); err == nil {
		t.Error("SelectCard(16) with 4 lines: error = nil, want non-nil")
	}
}
