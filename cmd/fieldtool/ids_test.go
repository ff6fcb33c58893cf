package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/g2-field-team/field-daq/internal/topology"
)

func TestPrintIDs(t *testing.T) {
	topo, err := topology.New(1, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printIDs(&buf, topo); err != nil {
		t.Fatalf("printIDs: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 9 {
		t.Fatalf("got %d lines, want header + 8", len(lines))
	}
	if f := strings.Fields(lines[0]); f[0] != "HW_ID" || f[5] != "CHANNEL" {
		t.Errorf("header = %q", lines[0])
	}
	first := strings.Fields(lines[1])
	if first[0] != "111" || first[3] != "1" || first[5] != "1" {
		t.Errorf("first row = %q", lines[1])
	}
	last := strings.Fields(lines[8])
	if last[0] != "124" || last[3] != "4" || last[5] != "8" {
		t.Errorf("last row = %q", lines[8])
	}
	if first[4] == last[4] {
		t.Errorf("boards 1 and 2 share card %s", first[4])
	}
}
