package topology

import (
	"fmt"

	"github.com/g2-field-team/field-daq/internal/faults"
)

// ID is a logical hardware channel id: board group, board and channel slot.
type ID struct {
	Group int
	Board int
	Slot  int
}

// String renders the id as three decimal digits, e.g. "123".
func (id ID) String() string {
	return fmt.Sprintf("%d%d%d", id.Group, id.Board, id.Slot)
}

// ParseID parses the three-digit rendering produced by String. It only checks
// the shape; use Topology.Contains to check bounds.
func ParseID(s string) (ID, error) {
	if len(s) != 3 {
		return ID{}, faults.New(faults.InvalidAddress, "parse_id", fmt.Sprintf("hw_id %q must be 3 digits", s))
	}
	var d [3]int
	for i := 0; i < 3; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return ID{}, faults.New(faults.InvalidAddress, "parse_id", fmt.Sprintf("hw_id %q must be 3 digits", s))
		}
		d[i] = int(c - '0')
	}
	return ID{Group: d[0], Board: d[1], Slot: d[2]}, nil
}

// Less orders ids by group, then board, then slot.
func (id ID) Less(o ID) bool {
	if id.Group != o.Group {
		return id.Group < o.Group
	}
	if id.Board != o.Board {
		return id.Board < o.Board
	}
	return id.Slot < o.Slot
}
