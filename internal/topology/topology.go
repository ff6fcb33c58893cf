// Package topology describes the driver board wiring of one bus and translates
// logical hardware channel ids to physical (card, channel) addresses and back.
//
// A Topology is loaded once at process start and is read-only afterwards.
package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/g2-field-team/field-daq/internal/faults"
)

// SlotCount is the number of channel slots on every driver board.
const SlotCount = 4

// maxIndex bounds group and board indices so that an ID renders as exactly
// one decimal digit per component.
const maxIndex = 9

// DefaultSlots maps slot 1..4 to the physical channel number. The boards are
// wired binary-weighted, so this is a lookup table and not a formula.
var DefaultSlots = []int{1, 2, 4, 8}

// Topology is the static description of the boards served by one bus.
type Topology struct {
	Groups         int   `yaml:"groups"`
	BoardsPerGroup int   `yaml:"boards_per_group"`
	CardOffset     int   `yaml:"card_offset"`
	Slots          []int `yaml:"slots"`
}

// Physical is a hardware address on the card-multiplexed bus.
type Physical struct {
	Card    int
	Channel int
}

// CardChannels groups the ids served by one card.
type CardChannels struct {
	Card int
	IDs  []ID
}

// New returns a validated topology using DefaultSlots.
func New(groups, boardsPerGroup, cardOffset int) (*Topology, error) {
	t := &Topology{
		Groups:         groups,
		BoardsPerGroup: boardsPerGroup,
		CardOffset:     cardOffset,
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads a YAML topology file.
func Load(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var t Topology
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse topology %s: %w", path, err)
	}

	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("topology %s: %w", path, err)
	}
	return &t, nil
}

func (t *Topology) applyDefaults() {
	if len(t.Slots) == 0 {
		t.Slots = append([]int(nil), DefaultSlots...)
	}
}

// Validate checks the bounds that keep every id renderable and every
// physical address unique.
func (t *Topology) Validate() error {
	if t.Groups < 1 || t.Groups > maxIndex {
		return fmt.Errorf("groups must be in 1..%d, got %d", maxIndex, t.Groups)
	}
	if t.BoardsPerGroup < 1 || t.BoardsPerGroup > maxIndex {
		return fmt.Errorf("boards_per_group must be in 1..%d, got %d", maxIndex, t.BoardsPerGroup)
	}
	if t.CardOffset < 0 {
		return fmt.Errorf("card_offset must not be negative, got %d", t.CardOffset)
	}
	if len(t.Slots) != SlotCount {
		return fmt.Errorf("slots must have exactly %d entries, got %d", SlotCount, len(t.Slots))
	}
	seen := make(map[int]bool, SlotCount)
	for i, ch := range t.Slots {
		if ch <= 0 {
			return fmt.Errorf("slot %d: channel must be positive, got %d", i+1, ch)
		}
		if seen[ch] {
			return fmt.Errorf("slot %d: channel %d used twice", i+1, ch)
		}
		seen[ch] = true
	}
	return nil
}

// Len is the number of channels in the topology.
func (t *Topology) Len() int {
	return t.Groups * t.BoardsPerGroup * SlotCount
}

// FromIndices builds an ID after checking it lies inside the topology.
func (t *Topology) FromIndices(group, board, slot int) (ID, error) {
	id := ID{Group: group, Board: board, Slot: slot}
	if !t.Contains(id) {
		return ID{}, faults.New(faults.InvalidAddress, "from_indices", fmt.Sprintf("(%d, %d, %d) outside topology", group, board, slot))
	}
	return id, nil
}

// Contains reports whether id addresses a configured channel.
func (t *Topology) Contains(id ID) bool {
	return id.Group >= 1 && id.Group <= t.Groups &&
		id.Board >= 1 && id.Board <= t.BoardsPerGroup &&
		id.Slot >= 1 && id.Slot <= SlotCount
}

// ToPhysical resolves id to the card that owns it and its channel number.
func (t *Topology) ToPhysical(id ID) (Physical, error) {
	if !t.Contains(id) {
		return Physical{}, faults.New(faults.InvalidAddress, "to_physical", fmt.Sprintf("hw_id %s outside topology", id))
	}
	return Physical{
		Card:    t.cardOf(id.Group, id.Board),
		Channel: t.Slots[id.Slot-1],
	}, nil
}

// FromPhysical is the inverse of ToPhysical.
func (t *Topology) FromPhysical(p Physical) (ID, error) {
	idx := p.Card - t.CardOffset - 1
	if idx < 0 || idx >= t.Groups*t.BoardsPerGroup {
		return ID{}, faults.New(faults.InvalidAddress, "from_physical", fmt.Sprintf("card %d outside topology", p.Card))
	}
	for i, ch := range t.Slots {
		if ch == p.Channel {
			return ID{
				Group: idx/t.BoardsPerGroup + 1,
				Board: idx%t.BoardsPerGroup + 1,
				Slot:  i + 1,
			}, nil
		}
	}
	return ID{}, faults.New(faults.InvalidAddress, "from_physical", fmt.Sprintf("channel %d not in slot table", p.Channel))
}

// IDs returns every configured id ordered by group, then board, then slot.
func (t *Topology) IDs() []ID {
	out := make([]ID, 0, t.Len())
	for g := 1; g <= t.Groups; g++ {
		for b := 1; b <= t.BoardsPerGroup; b++ {
			for s := 1; s <= SlotCount; s++ {
				out = append(out, ID{Group: g, Board: b, Slot: s})
			}
		}
	}
	return out
}

// Cards returns the ids grouped by owning card, in IDs order, so a sweep
// selects each card exactly once.
func (t *Topology) Cards() []CardChannels {
	out := make([]CardChannels, 0, t.Groups*t.BoardsPerGroup)
	for g := 1; g <= t.Groups; g++ {
		for b := 1; b <= t.BoardsPerGroup; b++ {
			cc := CardChannels{Card: t.cardOf(g, b), IDs: make([]ID, 0, SlotCount)}
			for s := 1; s <= SlotCount; s++ {
				cc.IDs = append(cc.IDs, ID{Group: g, Board: b, Slot: s})
			}
			out = append(out, cc)
		}
	}
	return out
}

func (t *Topology) cardOf(group, board int) int {
	return t.CardOffset + (group-1)*t.BoardsPerGroup + board
}
