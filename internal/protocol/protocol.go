// Package protocol implements the wire formats spoken on the telemetry and
// command channels.
//
// Two encodings coexist for backward compatibility with older driver hosts:
//
//   - json:   a flat object keyed by hardware id, e.g. {"111":[1.0,20.0]} for
//     telemetry and {"111":2.5} for setpoints.
//   - floats: space-separated %f fields, optionally NUL-terminated, e.g.
//     "1.000000 20.000000 2.000000 21.000000" or "2.5 3.0\x00".
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Format selects a payload encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatFloats Format = "floats"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatFloats:
		return FormatFloats, nil
	default:
		return "", fmt.Errorf("invalid format %q (allowed: json, floats)", s)
	}
}

// Terminator ends float payloads in the NUL-terminated protocol variant.
const Terminator byte = 0

// StripTerminator removes one trailing NUL and reports whether it was present.
func StripTerminator(b []byte) ([]byte, bool) {
	if n := len(b); n > 0 && b[n-1] == Terminator {
		return b[:n-1], true
	}
	return b, false
}

// Terminate appends a NUL when terminated is set.
func Terminate(b []byte, terminated bool) []byte {
	if !terminated {
		return b
	}
	return append(b, Terminator)
}

// DetectFormat guesses the encoding of an inbound payload from its first
// non-space byte.
func DetectFormat(b []byte) Format {
	t := bytes.TrimSpace(b)
	if len(t) > 0 && t[0] == '{' {
		return FormatJSON
	}
	return FormatFloats
}

// EncodeFloats renders vals as space-separated %f fields.
func EncodeFloats(vals []float64) []byte {
	var buf bytes.Buffer
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(&buf, "%f", v)
	}
	return buf.Bytes()
}

// ParseFloats parses space-separated fields. An empty payload is an error.
func ParseFloats(b []byte) ([]float64, error) {
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	out := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %q is not a number", i+1, f)
		}
		out = append(out, v)
	}
	return out, nil
}

// Reading is one channel's entry in a telemetry payload.
type Reading struct {
	ID          string
	Current     float64
	Temperature float64
}

// EncodeSnapshotJSON renders readings as {"<id>":[current, temperature], ...}.
func EncodeSnapshotJSON(readings []Reading) ([]byte, error) {
	m := make(map[string][2]float64, len(readings))
	for _, r := range readings {
		if !finite(r.Current) || !finite(r.Temperature) {
			return nil, fmt.Errorf("hw_id %s: non-finite reading", r.ID)
		}
		m[r.ID] = [2]float64{r.Current, r.Temperature}
	}
	return json.Marshal(m)
}

// DecodeSnapshotJSON is the inverse of EncodeSnapshotJSON; readings come back
// ordered by id.
func DecodeSnapshotJSON(b []byte) ([]Reading, error) {
	var m map[string][2]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	out := make([]Reading, 0, len(m))
	for id, v := range m {
		out = append(out, Reading{ID: id, Current: v[0], Temperature: v[1]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DecodeSetpointsJSON parses {"<id>": target, ...}. Every value must be a
// JSON number.
func DecodeSetpointsJSON(b []byte) (map[string]float64, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode setpoints: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for id, r := range raw {
		var v float64
		if bytes.Equal(bytes.TrimSpace(r), []byte("null")) {
			return nil, fmt.Errorf("hw_id %s: value is null", id)
		}
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("hw_id %s: value %s is not a number", id, string(r))
		}
		out[id] = v
	}
	return out, nil
}

// SetpointReply is the JSON reply to a JSON setpoint request. Unverified
// holds channels whose write succeeded but whose read-back did not.
type SetpointReply struct {
	Applied    map[string]float64 `json:"applied"`
	Unverified map[string]string  `json:"unverified,omitempty"`
	Failed     map[string]string  `json:"failed,omitempty"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
