package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/g2-field-team/field-daq/internal/topology"
)

// printIDs writes one row per channel in publish order.
func printIDs(w io.Writer, topo *topology.Topology) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HW_ID\tGROUP\tBOARD\tSLOT\tCARD\tCHANNEL")
	for _, id := range topo.IDs() {
		p, err := topo.ToPhysical(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", id, id.Group, id.Board, id.Slot, p.Card, p.Channel)
	}
	return tw.Flush()
}
