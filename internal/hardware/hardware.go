// Package hardware is the access layer to the driver boards on one
// card-multiplexed bus.
//
// An Adapter is not safe for concurrent use: SelectCard changes global bus
// state that every following read or write depends on. Exactly one worker may
// own an Adapter.
package hardware

import (
	"context"
)

// Adapter reads and drives the analog channels of the currently selected card.
type Adapter interface {
	// SelectCard makes card the target of subsequent channel calls.
	SelectCard(ctx context.Context, card int) error
	// ReadCurrent returns the measured current of channel on the selected card.
	ReadCurrent(ctx context.Context, channel int) (float64, error)
	// ReadTemperature returns the temperature of channel on the selected card.
	ReadTemperature(ctx context.Context, channel int) (float64, error)
	// SetCurrent writes a new current setpoint to channel on the selected card.
	SetCurrent(ctx context.Context, channel int, value float64) error
}
