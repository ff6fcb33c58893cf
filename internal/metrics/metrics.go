// Package metrics exposes control loop counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/g2-field-team/field-daq/internal/faults"
)

// Recorder receives loop events. Prom and Nop implement it.
type Recorder interface {
	Fault(code faults.Code)
	Cycle(elapsed time.Duration, channels int)
	Command(result string)
	PublishFailed()
}

// Command results.
const (
	CommandApplied = "applied"
	CommandPartial = "partial"
	CommandInvalid = "invalid"
)

type Prom struct {
	faults          *prometheus.CounterVec
	commands        *prometheus.CounterVec
	cycles          prometheus.Counter
	cycleSeconds    prometheus.Histogram
	channels        prometheus.Gauge
	publishFailures prometheus.Counter
}

var _ Recorder = (*Prom)(nil)

// NewProm registers the collectors on reg.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fielddaq_faults_total",
			Help: "Local faults recorded by the control loop, by code.",
		}, []string{"code"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fielddaq_setpoint_commands_total",
			Help: "Setpoint commands processed, by result.",
		}, []string{"result"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fielddaq_telemetry_cycles_total",
			Help: "Telemetry sweeps completed.",
		}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fielddaq_telemetry_cycle_seconds",
			Help:    "Duration of one telemetry sweep including the publish.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fielddaq_snapshot_channels",
			Help: "Channels present in the last published snapshot.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fielddaq_publish_failures_total",
			Help: "Telemetry publishes that failed and were dropped.",
		}),
	}
	reg.MustRegister(p.faults, p.commands, p.cycles, p.cycleSeconds, p.channels, p.publishFailures)

	// Expose every code at zero so alerts can use rate() from the start.
	for _, c := range faults.Codes {
		p.faults.WithLabelValues(string(c))
	}
	return p
}

func (p *Prom) Fault(code faults.Code) {
	p.faults.WithLabelValues(string(code)).Inc()
}

func (p *Prom) Cycle(elapsed time.Duration, channels int) {
	p.cycles.Inc()
	p.cycleSeconds.Observe(elapsed.Seconds())
	p.channels.Set(float64(channels))
}

func (p *Prom) Command(result string) {
	p.commands.WithLabelValues(result).Inc()
}

func (p *Prom) PublishFailed() {
	p.publishFailures.Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) Fault(faults.Code)        {}
func (Nop) Cycle(time.Duration, int) {}
func (Nop) Command(string)           {}
func (Nop) PublishFailed()           {}
