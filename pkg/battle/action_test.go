package battle

import (
	"errors"
	"testing"
)

func TestActionMappingIsBijection(t *testing.T) {
	seen := make(map[[3]int]bool, ActionSpace)
	for idx := 0; idx < ActionSpace; idx++ {
		slot, kind, cell, err := SplitAction(idx)
		if err != nil {
			t.Fatalf("index %d: %v", idx, err)
		}
		key := [3]int{slot, int(kind), cell.Index()}
		if seen[key] {
			t.Fatalf("index %d maps to a triple already seen", idx)
		}
		seen[key] = true

		back, err := EncodeAction(slot, kind, cell)
		if err != nil || back != idx {
			t.Fatalf("index %d round-tripped to %d (%v)", idx, back, err)
		}
	}
}

func TestDecodeActionDeterministic(t *testing.T) {
	b, err := New(DefaultDeployment(), DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	for _, idx := range []int{0, 1, Cells - 1, Cells, 3*Cells + 217, ActionSpace - 1} {
		first, err := b.DecodeAction(idx, Player0)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			again, _ := b.DecodeAction(idx, Player0)
			if again != first {
				t.Fatalf("index %d decoded to %+v then %+v", idx, first, again)
			}
		}
	}

	in, _ := b.DecodeAction(Cells+CellAt(42).Index(), Player1)
	if in.Slot != 0 || in.Kind != IntentAttack || in.Target != CellAt(42) || in.Player != Player1 {
		t.Errorf("unexpected intent %+v", in)
	}
	if u, _ := b.SlotUnit(Player1, 0); in.UnitID != u.ID {
		t.Errorf("expected unit %d, got %d", u.ID, in.UnitID)
	}
	in, _ = b.DecodeAction(7*2*Cells, Player0)
	if in.Slot != 7 || in.UnitID != -1 {
		t.Errorf("empty slot should decode with no unit, got %+v", in)
	}
}

func TestActionIndexOutOfRange(t *testing.T) {
	b, _ := New(DefaultDeployment(), DefaultRules())
	for _, idx := range []int{-1, ActionSpace, ActionSpace + 100} {
		if _, err := b.DecodeAction(idx, Player0); !errors.Is(err, ErrInvalidActionIndex) {
			t.Errorf("index %d: expected ErrInvalidActionIndex, got %v", idx, err)
		}
	}
	if _, err := EncodeAction(MaxSlots, IntentMove, Cell{}); !errors.Is(err, ErrInvalidActionIndex) {
		t.Errorf("expected ErrInvalidActionIndex, got %v", err)
	}
	if _, err := EncodeAction(0, IntentMove, Cell{0, 20}); !errors.Is(err, ErrInvalidActionIndex) {
		t.Errorf("expected ErrInvalidActionIndex, got %v", err)
	}
}

func TestLegalActionsAreAccepted(t *testing.T) {
	b, err := New(DefaultDeployment(), DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	legal := b.LegalActions()
	if len(legal) == 0 {
		t.Fatal("opening position should have legal actions")
	}
	for i := 1; i < len(legal); i++ {
		if legal[i] <= legal[i-1] {
			t.Fatalf("legal actions not ascending at %d", i)
		}
	}
	for _, a := range legal {
		if _, err := b.Clone().Step(a); err != nil {
			t.Fatalf("legal action %d rejected: %v", a, err)
		}
	}

	// every index not in the list is rejected
	isLegal := make(map[int]bool, len(legal))
	for _, a := range legal {
		isLegal[a] = true
	}
	for a := 0; a < 2*2*Cells; a++ {
		in, _ := b.DecodeAction(a, Player0)
		if err := b.Check(in); (err == nil) != isLegal[a] {
			t.Fatalf("action %d: Check=%v but listed=%v", a, err, isLegal[a])
		}
	}
}

func TestSnapshotEncoding(t *testing.T) {
	terrain := map[Cell]TerrainKind{{0, 0}: LowGround, {0, 1}: HighGround, {0, 2}: Trench}
	b := battleWith(t, DefaultRules(), terrain,
		place(Player0, Soldier, 0, 2),
		place(Player0, Mortar, 3, 3),
		place(Player1, Tank, 10, 10),
	)
	b.reg.ApplyDamage(1, 2)

	s := b.Snapshot()
	if s.Player != Player0 || s.Turn != 0 {
		t.Errorf("unexpected header %d %s", s.Turn, s.Player)
	}
	checks := []struct {
		plane int
		cell  Cell
		want  float32
	}{
		{PlaneTerrain, Cell{0, 0}, 0},
		{PlaneTerrain, Cell{0, 1}, 0.5},
		{PlaneTerrain, Cell{0, 2}, 0.75},
		{PlaneTerrain, Cell{5, 5}, 0.25},
		{PlaneOwner0, Cell{0, 2}, 1.0 / 3},
		{PlaneOwner0, Cell{3, 3}, 1},
		{PlaneOwner0, Cell{10, 10}, 0},
		{PlaneOwner1, Cell{10, 10}, 2.0 / 3},
		{PlaneHealth, Cell{3, 3}, 0.6},
		{PlaneHealth, Cell{10, 10}, 1},
		{PlaneHealth, Cell{7, 7}, 0},
	}
	for _, c := range checks {
		if got := s.CellValue(c.plane, c.cell); got != c.want {
			t.Errorf("plane %d %s: expected %v, got %v", c.plane, c.cell, c.want, got)
		}
	}

	flat := s.Flatten()
	if len(flat) != SnapshotSize {
		t.Fatalf("expected %d values, got %d", SnapshotSize, len(flat))
	}
	if flat[PlaneOwner1*Cells+Cell{10, 10}.Index()] != 2.0/3 {
		t.Error("flatten should be channel-major, row-major")
	}

	if len(s.Slots) != 2 || s.Slots[1].Kind != Mortar || s.Slots[1].Health != 3 || s.Slots[0].Range != 2 {
		t.Errorf("unexpected slots %+v", s.Slots)
	}
	if len(s.Legal) == 0 || !s.IsLegal(s.Legal[len(s.Legal)-1]) || s.IsLegal(-1) {
		t.Error("legal list should match IsLegal")
	}

	if s.Position != EncodeBFEN(b) {
		t.Errorf("snapshot position %q does not match the battle", s.Position)
	}

	other := b.SnapshotFor(Player1)
	if len(other.Legal) != 0 {
		t.Error("the waiting side should get no legal actions")
	}
	if len(other.Slots) != 1 || other.Slots[0].Kind != Tank {
		t.Errorf("unexpected slots for p1 %+v", other.Slots)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	b, _ := New(DefaultDeployment(), DefaultRules())
	s := b.Snapshot()
	s.Planes[PlaneOwner0][5][1] = 0
	s.Legal[0] = -5
	if b.Snapshot().Planes[PlaneOwner0][5][1] == 0 {
		t.Error("editing a snapshot changed the battle")
	}
}
