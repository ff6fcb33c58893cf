// Package alarm raises out-of-band notifications when channel health
// conditions persist across cycles.
package alarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind is the severity of an alarm. Receivers escalate error and failure
// alarms to subsystem experts; failure alarms also page.
type Kind string

const (
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindFailure Kind = "failure"
)

const (
	SubsystemGeneral      = "general"
	SubsystemSurfaceCoils = "surface-coils"
)

// Subsystems are the routing tags receivers know contact lists for.
var Subsystems = []string{
	SubsystemGeneral,
	"trolley",
	"fixed-probes",
	"absolute-probe",
	SubsystemSurfaceCoils,
	"flux-gates",
}

type Alarm struct {
	Kind      Kind      `json:"kind"`
	Subsystem string    `json:"subsystem"`
	Message   string    `json:"message"`
	Raised    time.Time `json:"raised"`
}

// Route returns the subsystem named by a "subsystem: text" message prefix,
// or SubsystemGeneral when the prefix is missing or unknown.
func Route(message string) string {
	prefix, _, ok := strings.Cut(message, ":")
	if !ok {
		return SubsystemGeneral
	}
	prefix = strings.TrimSpace(prefix)
	for _, s := range Subsystems {
		if s == prefix {
			return s
		}
	}
	return SubsystemGeneral
}

// Notifier delivers an alarm. Delivery is fire and forget; callers log the
// error and never retry.
type Notifier interface {
	Notify(ctx context.Context, a Alarm) error
}

// Publisher is the outbound alarm channel of a transport.
type Publisher interface {
	PublishAlarm(ctx context.Context, payload []byte) error
}

// TopicNotifier publishes alarms as JSON on the transport's alarm channel.
type TopicNotifier struct {
	pub Publisher
}

func NewTopicNotifier(pub Publisher) *TopicNotifier {
	return &TopicNotifier{pub: pub}
}

func (n *TopicNotifier) Notify(ctx context.Context, a Alarm) error {
	if a.Subsystem == "" {
		a.Subsystem = Route(a.Message)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alarm: %w", err)
	}
	return n.pub.PublishAlarm(ctx, payload)
}

// LogNotifier writes alarms to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a Alarm) error {
	level := slog.LevelWarn
	if a.Kind != KindWarning {
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, "alarm raised",
		"kind", a.Kind,
		"subsystem", a.Subsystem,
		"message", a.Message,
	)
	return nil
}

// Multi notifies every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alarm) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
