package archive

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/g2-field-team/field-daq/internal/mqtt"
)

// TelemetrySource is the part of the MQTT subscriber the archive needs.
type TelemetrySource interface {
	SetMessageHandler(handler func(msg mqtt.TelemetryMessage) error)
}

// Ingester writes every telemetry message under one archive run id.
type Ingester struct {
	repo   Repository
	runID  string
	logger *slog.Logger
}

// NewIngester records a new archive run for topic and returns an ingester
// tagging readings with its id.
func NewIngester(repo Repository, topic string, logger *slog.Logger) (*Ingester, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	if err := repo.StartRun(runID, topic, time.Now()); err != nil {
		return nil, err
	}
	logger.Info("archive run started", "run_id", runID, "topic", topic)
	return &Ingester{repo: repo, runID: runID, logger: logger}, nil
}

func (i *Ingester) RunID() string { return i.runID }

// Handle stores one decoded snapshot.
func (i *Ingester) Handle(msg mqtt.TelemetryMessage) error {
	i.logger.Debug("processing telemetry message",
		"node", msg.Node,
		"channels", len(msg.Readings),
	)
	if err := i.repo.InsertSnapshot(i.runID, msg.Node, msg.Received, msg.Readings); err != nil {
		i.logger.Error("failed to store snapshot", "node", msg.Node, "error", err)
		return err
	}
	return nil
}

// Register attaches the ingester to a telemetry source.
func (i *Ingester) Register(src TelemetrySource) {
	src.SetMessageHandler(i.Handle)
}
