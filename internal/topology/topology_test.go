package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/g2-field-team/field-daq/internal/faults"
)

func mustNew(t *testing.T, groups, boards, offset int) *Topology {
	t.Helper()
	topo, err := New(groups, boards, offset)
	if err != nil {
		t.Fatalf("New(%d, %d, %d): %v", groups, boards, offset, err)
	}
	return topo
}

func TestToPhysical_RoundTrip(t *testing.T) {
	slotToChannel := map[int]int{1: 1, 2: 2, 3: 4, 4: 8}
	topo := mustNew(t, 2, 9, 1)

	for g := 1; g <= topo.Groups; g++ {
		for b := 1; b <= topo.BoardsPerGroup; b++ {
			for s := 1; s <= SlotCount; s++ {
				id, err := topo.FromIndices(g, b, s)
				if err != nil {
					t.Fatalf("FromIndices(%d, %d, %d): %v", g, b, s, err)
				}
				p, err := topo.ToPhysical(id)
				if err != nil {
					t.Fatalf("ToPhysical(%s): %v", id, err)
				}
				wantCard := 1 + (g-1)*9 + b
				if p.Card != wantCard || p.Channel != slotToChannel[s] {
					t.Errorf("ToPhysical(%s) = %+v, want card=%d channel=%d", id, p, wantCard, slotToChannel[s])
				}
				back, err := topo.FromPhysical(p)
				if err != nil {
					t.Fatalf("FromPhysical(%+v): %v", p, err)
				}
				if back != id {
					t.Errorf("FromPhysical(%+v) = %s, want %s", p, back, id)
				}
			}
		}
	}
}

func TestInvalidAddress(t *testing.T) {
	topo := mustNew(t, 1, 2, 0)

	bad := []ID{
		{Group: 0, Board: 1, Slot: 1},
		{Group: 2, Board: 1, Slot: 1},
		{Group: 1, Board: 3, Slot: 1},
		{Group: 1, Board: 1, Slot: 0},
		{Group: 1, Board: 1, Slot: 5},
	}
	for _, id := range bad {
		t.Run(id.String(), func(t *testing.T) {
			if _, err := topo.FromIndices(id.Group, id.Board, id.Slot); faults.Of(err) != faults.InvalidAddress {
				t.Errorf("FromIndices error = %v, want %s", err, faults.InvalidAddress)
			}
			p, err := topo.ToPhysical(id)
			if faults.Of(err) != faults.InvalidAddress {
				t.Errorf("ToPhysical error = %v, want %s", err, faults.InvalidAddress)
			}
			if p != (Physical{}) {
				t.Errorf("ToPhysical returned address %+v for invalid id", p)
			}
		})
	}

	if _, err := topo.FromPhysical(Physical{Card: 3, Channel: 1}); faults.Of(err) != faults.InvalidAddress {
		t.Errorf("FromPhysical(card 3) error = %v, want %s", err, faults.InvalidAddress)
	}
	if _, err := topo.FromPhysical(Physical{Card: 1, Channel: 3}); faults.Of(err) != faults.InvalidAddress {
		t.Errorf("FromPhysical(channel 3) error = %v, want %s", err, faults.InvalidAddress)
	}
}

func TestIDs_Order(t *testing.T) {
	topo := mustNew(t, 1, 2, 0)

	want := []string{"111", "112", "113", "114", "121", "122", "123", "124"}
	got := topo.IDs()
	if len(got) != len(want) {
		t.Fatalf("IDs: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("IDs[%d] = %s, want %s", i, got[i], want[i])
		}
		if i > 0 && !got[i-1].Less(got[i]) {
			t.Errorf("IDs not ordered at %d: %s !< %s", i, got[i-1], got[i])
		}
	}
}

func TestCards_GroupsChannelsPerCard(t *testing.T) {
	topo := mustNew(t, 2, 2, 1)

	cards := topo.Cards()
	if len(cards) != 4 {
		t.Fatalf("Cards: got %d, want 4", len(cards))
	}
	for i, cc := range cards {
		if cc.Card != i+2 {
			t.Errorf("cards[%d].Card = %d, want %d", i, cc.Card, i+2)
		}
		if len(cc.IDs) != SlotCount {
			t.Errorf("cards[%d]: %d ids, want %d", i, len(cc.IDs), SlotCount)
		}
		for _, id := range cc.IDs {
			p, err := topo.ToPhysical(id)
			if err != nil {
				t.Fatalf("ToPhysical(%s): %v", id, err)
			}
			if p.Card != cc.Card {
				t.Errorf("id %s on card %d, grouped under %d", id, p.Card, cc.Card)
			}
		}
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("195")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if id != (ID{Group: 1, Board: 9, Slot: 5}) {
		t.Errorf("ParseID = %+v", id)
	}

	for _, s := range []string{"", "11", "1111", "1a1", " 11"} {
		if _, err := ParseID(s); faults.Of(err) != faults.InvalidAddress {
			t.Errorf("ParseID(%q) error = %v, want %s", s, err, faults.InvalidAddress)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		topo Topology
	}{
		{name: "zero groups", topo: Topology{Groups: 0, BoardsPerGroup: 1, Slots: DefaultSlots}},
		{name: "ten boards", topo: Topology{Groups: 1, BoardsPerGroup: 10, Slots: DefaultSlots}},
		{name: "negative offset", topo: Topology{Groups: 1, BoardsPerGroup: 1, CardOffset: -1, Slots: DefaultSlots}},
		{name: "three slots", topo: Topology{Groups: 1, BoardsPerGroup: 1, Slots: []int{1, 2, 4}}},
		{name: "duplicate channel", topo: Topology{Groups: 1, BoardsPerGroup: 1, Slots: []int{1, 2, 2, 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.topo.Validate(); err == nil {
				t.Fatal("Validate() error = nil, want non-nil")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	body := "groups: 1\nboards_per_group: 9\ncard_offset: 1\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	topo, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if topo.Len() != 36 {
		t.Errorf("Len = %d, want 36", topo.Len())
	}
	p, err := topo.ToPhysical(ID{Group: 1, Board: 1, Slot: 3})
	if err != nil {
		t.Fatalf("ToPhysical: %v", err)
	}
	if p != (Physical{Card: 2, Channel: 4}) {
		t.Errorf("ToPhysical = %+v, want card 2 channel 4", p)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("groups: 1\nboards_per_group: 1\nslots: [1, 2]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("Load(bad) error = nil, want non-nil")
	}
}
