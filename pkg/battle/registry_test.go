package battle

import (
	"errors"
	"testing"
)

func testRegistry(t *testing.T, g *Grid) *Registry {
	t.Helper()
	r := newRegistry(g, Chebyshev)
	stats := DefaultStats()
	r.add(Player0, Soldier, stats.For(Soldier), 0, Cell{5, 5})
	r.add(Player0, Mortar, stats.For(Mortar), 1, Cell{5, 6})
	r.add(Player1, Tank, stats.For(Tank), 0, Cell{10, 10})
	return r
}

func TestRegistryLookups(t *testing.T) {
	r := testRegistry(t, &Grid{})

	u, ok := r.UnitAt(Cell{5, 6})
	if !ok || u.Kind != Mortar || u.Owner != Player0 || u.Health != 5 {
		t.Fatalf("unexpected unit %+v ok=%v", u, ok)
	}
	if _, ok := r.UnitAt(Cell{0, 0}); ok {
		t.Error("empty cell should have no unit")
	}
	if _, ok := r.UnitAt(Cell{-1, 0}); ok {
		t.Error("off-board cell should have no unit")
	}
	if got := len(r.UnitsOf(Player0)); got != 2 {
		t.Errorf("expected 2 units for p0, got %d", got)
	}
	if got := r.AliveCount(Player1); got != 1 {
		t.Errorf("expected 1 unit for p1, got %d", got)
	}
}

func TestRegistryMove(t *testing.T) {
	r := testRegistry(t, &Grid{})

	if err := r.Move(0, Cell{4, 4}); err != nil {
		t.Fatalf("diagonal move: %v", err)
	}
	if _, ok := r.UnitAt(Cell{5, 5}); ok {
		t.Error("old cell should be free after move")
	}
	if u, ok := r.UnitAt(Cell{4, 4}); !ok || u.ID != 0 {
		t.Error("unit should be at its new cell")
	}

	tests := []struct {
		name string
		id   int
		dest Cell
	}{
		{"too far", 0, Cell{4, 7}},
		{"occupied", 1, Cell{4, 5}},
		{"off board", 2, Cell{10, 20}},
		{"unknown unit", 9, Cell{0, 0}},
	}
	// occupy (4,5) so the mortar's move is blocked
	if err := r.Move(0, Cell{4, 5}); err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := r.All()
			err := r.Move(tt.id, tt.dest)
			if !errors.Is(err, ErrIllegalMove) {
				t.Fatalf("expected ErrIllegalMove, got %v", err)
			}
			after := r.All()
			for i := range before {
				if before[i] != after[i] {
					t.Errorf("unit %d changed: %+v -> %+v", i, before[i], after[i])
				}
			}
		})
	}
}

func TestRegistryApplyDamage(t *testing.T) {
	r := testRegistry(t, &Grid{})

	if killed := r.ApplyDamage(1, 3); killed {
		t.Error("3 damage should not kill a 5 health mortar")
	}
	if u, _ := r.Unit(1); u.Health != 2 {
		t.Errorf("expected health 2, got %d", u.Health)
	}
	if killed := r.ApplyDamage(1, 10); !killed {
		t.Error("overkill should report the kill")
	}
	u, _ := r.Unit(1)
	if u.Health != 0 || u.Alive() {
		t.Errorf("health should clamp at zero, got %d", u.Health)
	}
	if _, ok := r.UnitAt(Cell{5, 6}); ok {
		t.Error("dead unit should free its cell")
	}
	if killed := r.ApplyDamage(1, 1); killed {
		t.Error("damage to a dead unit is a no-op")
	}
	if u2, _ := r.Unit(1); u2 != u {
		t.Error("dead unit changed")
	}
	if r.ApplyDamage(42, 1) {
		t.Error("unknown unit should be ignored")
	}
	if r.AliveCount(Player0) != 1 {
		t.Errorf("expected 1 living p0 unit, got %d", r.AliveCount(Player0))
	}
	if err := r.Move(1, Cell{5, 7}); !errors.Is(err, ErrIllegalMove) {
		t.Errorf("dead unit should not move, got %v", err)
	}
	if err := r.Move(0, Cell{5, 6}); err != nil {
		t.Errorf("freed cell should accept a move, got %v", err)
	}
}

func TestRegistryCover(t *testing.T) {
	g, err := NewGrid(map[Cell]TerrainKind{{5, 5}: Trench, {5, 4}: Trench})
	if err != nil {
		t.Fatal(err)
	}
	r := testRegistry(t, &g)

	if u, _ := r.Unit(0); u.Cover != 1 {
		t.Fatalf("soldier deployed in a trench should have cover, got %d", u.Cover)
	}
	r.apply([]Hit{{UnitID: 0, Absorbed: 1}})
	if u, _ := r.Unit(0); u.Cover != 0 || u.Health != 1 {
		t.Fatalf("absorbed hit should spend cover only, got %+v", u)
	}
	if err := r.Move(0, Cell{5, 4}); err != nil {
		t.Fatal(err)
	}
	if u, _ := r.Unit(0); u.Cover != 0 {
		t.Fatalf("moving along a trench line should not restore cover, got %d", u.Cover)
	}
	if err := r.Move(0, Cell{4, 4}); err != nil {
		t.Fatal(err)
	}
	if err := r.Move(0, Cell{5, 4}); err != nil {
		t.Fatal(err)
	}
	if u, _ := r.Unit(0); u.Cover != 1 {
		t.Errorf("entering a trench from open ground should restore cover, got %d", u.Cover)
	}
}

func TestRegistryClone(t *testing.T) {
	r := testRegistry(t, &Grid{})
	c := r.clone(r.grid)
	if err := c.Move(0, Cell{4, 4}); err != nil {
		t.Fatal(err)
	}
	c.ApplyDamage(2, 1)
	if u, _ := r.Unit(0); u.Pos != (Cell{5, 5}) {
		t.Error("original unit moved with the clone")
	}
	if _, ok := r.UnitAt(Cell{10, 10}); !ok {
		t.Error("original tank died with the clone")
	}
}
