package hardware

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/g2-field-team/field-daq/internal/topology"
)

var (
	ErrNoCardSelected = errors.New("no card selected")
	ErrInjected       = errors.New("injected fault")
)

// MockOptions configures a Mock.
type MockOptions struct {
	Current     float64
	Temperature float64

	// CurrentNoise and TemperatureNoise add uniform noise in [-n, n] to reads.
	CurrentNoise     float64
	TemperatureNoise float64
	Seed             int64
}

// Mock is an in-memory bus. Set currents are read back exactly unless noise
// is configured.
type Mock struct {
	mu   sync.Mutex
	opts MockOptions
	rng  *rand.Rand

	selected int
	currents map[topology.Physical]float64
	temps    map[topology.Physical]float64

	failSelect map[int]bool
	failRead   map[topology.Physical]bool
	failSet    map[topology.Physical]bool

	selects int
	sets    int
}

var _ Adapter = (*Mock)(nil)

// NewMock returns a Mock where every channel reads opts.Current and
// opts.Temperature until set.
func NewMock(opts MockOptions) *Mock {
	return &Mock{
		opts:       opts,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		currents:   make(map[topology.Physical]float64),
		temps:      make(map[topology.Physical]float64),
		failSelect: make(map[int]bool),
		failRead:   make(map[topology.Physical]bool),
		failSet:    make(map[topology.Physical]bool),
	}
}

// NewSim returns a noisy Mock resembling the bench simulator: ±0.1 A on
// current and ±1 °C around 25 °C.
func NewSim(seed int64) *Mock {
	return NewMock(MockOptions{
		Temperature:      25.0,
		CurrentNoise:     0.1,
		TemperatureNoise: 1.0,
		Seed:             seed,
	})
}

func (m *Mock) SelectCard(_ context.Context, card int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selects++
	if m.failSelect[card] {
		m.selected = 0
		return fmt.Errorf("select card %d: %w", card, ErrInjected)
	}
	m.selected = card
	return nil
}

func (m *Mock) ReadCurrent(_ context.Context, channel int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.addr(channel)
	if err != nil {
		return 0, err
	}
	if m.failRead[p] {
		return 0, fmt.Errorf("read current card %d channel %d: %w", p.Card, p.Channel, ErrInjected)
	}
	v, ok := m.currents[p]
	if !ok {
		v = m.opts.Current
	}
	return v + m.noise(m.opts.CurrentNoise), nil
}

func (m *Mock) ReadTemperature(_ context.Context, channel int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.addr(channel)
	if err != nil {
		return 0, err
	}
	if m.failRead[p] {
		return 0, fmt.Errorf("read temperature card %d channel %d: %w", p.Card, p.Channel, ErrInjected)
	}
	v, ok := m.temps[p]
	if !ok {
		v = m.opts.Temperature
	}
	return v + m.noise(m.opts.TemperatureNoise), nil
}

func (m *Mock) SetCurrent(_ context.Context, channel int, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.addr(channel)
	if err != nil {
		return err
	}
	if m.failSet[p] {
		return fmt.Errorf("set current card %d channel %d: %w", p.Card, p.Channel, ErrInjected)
	}
	m.sets++
	m.currents[p] = value
	return nil
}

// FailSelect makes SelectCard(card) fail.
func (m *Mock) FailSelect(card int) {
	m.mu.Lock()
	m.failSelect[card] = true
	m.mu.Unlock()
}

// FailRead makes both reads of p fail.
func (m *Mock) FailRead(p topology.Physical) {
	m.mu.Lock()
	m.failRead[p] = true
	m.mu.Unlock()
}

// FailSet makes SetCurrent on p fail.
func (m *Mock) FailSet(p topology.Physical) {
	m.mu.Lock()
	m.failSet[p] = true
	m.mu.Unlock()
}

// SetTemperature overrides the temperature read from p.
func (m *Mock) SetTemperature(p topology.Physical, v float64) {
	m.mu.Lock()
	m.temps[p] = v
	m.mu.Unlock()
}

// Current returns the last value set on p, without noise.
func (m *Mock) Current(p topology.Physical) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.currents[p]
	return v, ok
}

// Selects counts SelectCard calls, successful or not.
func (m *Mock) Selects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selects
}

// Sets counts successful SetCurrent calls.
func (m *Mock) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

func (m *Mock) addr(channel int) (topology.Physical, error) {
	if m.selected == 0 {
		return topology.Physical{}, ErrNoCardSelected
	}
	return topology.Physical{Card: m.selected, Channel: channel}, nil
}

func (m *Mock) noise(n float64) float64 {
	if n == 0 {
		return 0
	}
	return (m.rng.Float64()*2 - 1) * n
}
