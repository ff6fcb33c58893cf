package telemetry

import (
	"time"

	"github.com/g2-field-team/field-daq/internal/topology"
)

// Sample is one channel reading taken during a sweep.
type Sample struct {
	ID          topology.ID
	Current     float64
	Temperature float64
	Timestamp   time.Time
}

// Snapshot is one complete sweep over the topology. Samples are ordered by
// id; channels that could not be read are listed in Missing instead.
type Snapshot struct {
	Cycle   uint64
	Taken   time.Time
	Samples []Sample
	Missing []topology.ID
}

// Lookup returns the sample for id, if it was read this cycle.
func (s Snapshot) Lookup(id topology.ID) (Sample, bool) {
	for _, smp := range s.Samples {
		if smp.ID == id {
			return smp, true
		}
	}
	return Sample{}, false
}
