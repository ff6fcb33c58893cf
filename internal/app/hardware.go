package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/g2-field-team/field-daq/internal/config"
	"github.com/g2-field-team/field-daq/internal/hardware"
)

// newHardware builds the configured adapter. CardSelectGPIO replaces the
// adapter's own card select with GPIO address lines.
func newHardware(cfg config.Config, logger *slog.Logger) (hardware.Adapter, error) {
	var hw hardware.Adapter
	switch cfg.Hardware {
	case config.HardwareMock:
		hw = hardware.NewMock(hardware.MockOptions{Temperature: 25})
	case config.HardwareSim:
		hw = hardware.NewSim(time.Now().UnixNano())
	case config.HardwareExec:
		e, err := hardware.NewExec(cfg.Exec, logger.With("component", "hardware"))
		if err != nil {
			return nil, err
		}
		hw = e
	default:
		return nil, fmt.Errorf("unknown hardware %q", cfg.Hardware)
	}

	if len(cfg.CardSelectGPIO) == 0 {
		return hw, nil
	}
	g, err := hardware.NewGPIOCardSelect(hw, cfg.CardSelectGPIO)
	if err != nil {
		return nil, fmt.Errorf("card select gpio: %w", err)
	}
	logger.Info("card select on gpio", "pins", cfg.CardSelectGPIO)
	return g, nil
}
