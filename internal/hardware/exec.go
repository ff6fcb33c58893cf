package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
)

// ExecConfig holds the helper command lines the vendor ships for each bus
// operation. Arguments may contain the placeholders {card}, {channel} and
// {value}. SelectCmd may be empty when cards are selected another way (see
// GPIOCardSelect).
type ExecConfig struct {
	SelectCmd      string
	ReadCurrentCmd string
	ReadTempCmd    string
	SetCurrentCmd  string
	Timeout        time.Duration
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Exec drives the bus through external helper programs, one process per call.
type Exec struct {
	selectArgs  []string
	currentArgs []string
	tempArgs    []string
	setArgs     []string
	timeout     time.Duration
	logger      *slog.Logger
	run         runFunc
}

var _ Adapter = (*Exec)(nil)

func NewExec(cfg ExecConfig, logger *slog.Logger) (*Exec, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exec{
		timeout: cfg.Timeout,
		logger:  logger,
		run:     runCommand,
	}
	if e.timeout <= 0 {
		e.timeout = 2 * time.Second
	}

	var err error
	if strings.TrimSpace(cfg.SelectCmd) != "" {
		if e.selectArgs, err = splitCommand("select", cfg.SelectCmd); err != nil {
			return nil, err
		}
	}
	if e.currentArgs, err = splitCommand("read current", cfg.ReadCurrentCmd); err != nil {
		return nil, err
	}
	if e.tempArgs, err = splitCommand("read temperature", cfg.ReadTempCmd); err != nil {
		return nil, err
	}
	if e.setArgs, err = splitCommand("set current", cfg.SetCurrentCmd); err != nil {
		return nil, err
	}
	return e, nil
}

func splitCommand(op, line string) ([]string, error) {
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("%s command is required", op)
	}
	args, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("%s command %q: %w", op, line, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command is required", op)
	}
	return args, nil
}

func (e *Exec) SelectCard(ctx context.Context, card int) error {
	if e.selectArgs == nil {
		return nil
	}
	_, err := e.call(ctx, e.selectArgs, map[string]string{"{card}": strconv.Itoa(card)})
	return err
}

func (e *Exec) ReadCurrent(ctx context.Context, channel int) (float64, error) {
	out, err := e.call(ctx, e.currentArgs, map[string]string{"{channel}": strconv.Itoa(channel)})
	if err != nil {
		return 0, err
	}
	return parseReading(out)
}

func (e *Exec) ReadTemperature(ctx context.Context, channel int) (float64, error) {
	out, err := e.call(ctx, e.tempArgs, map[string]string{"{channel}": strconv.Itoa(channel)})
	if err != nil {
		return 0, err
	}
	return parseReading(out)
}

func (e *Exec) SetCurrent(ctx context.Context, channel int, value float64) error {
	_, err := e.call(ctx, e.setArgs, map[string]string{
		"{channel}": strconv.Itoa(channel),
		"{value}":   strconv.FormatFloat(value, 'f', -1, 64),
	})
	return err
}

func (e *Exec) call(ctx context.Context, tmpl []string, vars map[string]string) ([]byte, error) {
	args := make([]string, len(tmpl))
	for i, a := range tmpl {
		for k, v := range vars {
			a = strings.ReplaceAll(a, k, v)
		}
		args[i] = a
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := e.run(ctx, args[0], args[1:]...)
	e.logger.Debug("hardware helper", "cmd", args, "elapsed", time.Since(start), "error", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", args[0], err)
	}
	return out, nil
}

// parseReading takes the first whitespace-separated field of the helper output.
func parseReading(out []byte) (float64, error) {
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty reading")
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reading %q: %w", fields[0], err)
	}
	return v, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
