package hardware

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOCardSelect wraps an Adapter and selects cards by driving a
// binary-coded card address onto GPIO lines, least significant bit first.
type GPIOCardSelect struct {
	Adapter
	pins []gpio.PinIO
}

// NewGPIOCardSelect initialises the host drivers and resolves pinNames.
func NewGPIOCardSelect(next Adapter, pinNames []string) (*GPIOCardSelect, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host.Init: %w", err)
	}
	pins := make([]gpio.PinIO, 0, len(pinNames))
	for _, name := range pinNames {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("unknown gpio %q", name)
		}
		pins = append(pins, p)
	}
	return newGPIOCardSelect(next, pins)
}

func newGPIOCardSelect(next Adapter, pins []gpio.PinIO) (*GPIOCardSelect, error) {
	if len(pins) == 0 {
		return nil, fmt.Errorf("card select needs at least one gpio")
	}
	return &GPIOCardSelect{Adapter: next, pins: pins}, nil
}

func (g *GPIOCardSelect) SelectCard(ctx context.Context, card int) error {
	if card < 0 || card >= 1<<len(g.pins) {
		return fmt.Errorf("card %d not addressable with %d address lines", card, len(g.pins))
	}
	for i, p := range g.pins {
		level := gpio.Low
		if card&(1<<i) != 0 {
			level = gpio.High
		}
		if err := p.Out(level); err != nil {
			return fmt.Errorf("gpio %s: %w", p.Name(), err)
		}
	}
	return g.Adapter.SelectCard(ctx, card)
}
