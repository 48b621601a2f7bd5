package battle

import (
	"errors"
	"testing"
)

func TestFootprintClipped(t *testing.T) {
	tests := []struct {
		name   string
		side   int
		anchor Cell
		want   []Cell
	}{
		{"single", 1, Cell{3, 3}, []Cell{{3, 3}}},
		{"full block", 2, Cell{5, 9}, []Cell{{5, 9}, {5, 10}, {6, 9}, {6, 10}}},
		{"bottom right corner", 2, Cell{19, 19}, []Cell{{19, 19}}},
		{"bottom edge", 2, Cell{19, 5}, []Cell{{19, 5}, {19, 6}}},
		{"right edge", 2, Cell{4, 19}, []Cell{{4, 19}, {5, 19}}},
		{"zero side treated as one", 0, Cell{0, 0}, []Cell{{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Footprint(tt.side, tt.anchor)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("cell %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestFootprintNeverLeavesBoard(t *testing.T) {
	for side := 1; side <= 3; side++ {
		for i := 0; i < Cells; i++ {
			for _, c := range Footprint(side, CellAt(i)) {
				if !c.InBounds() {
					t.Fatalf("side %d anchor %s produced %s", side, CellAt(i), c)
				}
			}
		}
	}
}

func TestComputeAttackDoesNotMutate(t *testing.T) {
	b := battleWith(t, DefaultRules(), map[Cell]TerrainKind{{0, 2}: Trench},
		place(Player0, Soldier, 0, 0),
		place(Player1, Soldier, 0, 2),
	)
	before := EncodeBFEN(b)
	attacker, _ := b.SlotUnit(Player0, 0)

	hits, err := ComputeAttack(b.Grid(), b.Registry(), attacker, Cell{0, 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Absorbed != 1 {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if EncodeBFEN(b) != before {
		t.Error("ComputeAttack changed the battle")
	}

	if _, err := ComputeAttack(b.Grid(), b.Registry(), attacker, Cell{0, 3}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := ComputeAttack(b.Grid(), b.Registry(), attacker, Cell{0, -1}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestHitOn(t *testing.T) {
	soldier := Unit{ID: 1, Kind: Soldier, Health: 1, Stats: DefaultStats().For(Soldier)}
	mortar := Unit{ID: 2, Kind: Mortar, Health: 5, Stats: DefaultStats().For(Mortar)}
	covered := soldier
	covered.Cover = 1

	tests := []struct {
		name     string
		attack   int
		target   Unit
		terrain  TerrainKind
		damage   int
		absorbed int
		lethal   bool
	}{
		{"soldier flat", 1, soldier, Flat, 1, 0, true},
		{"soldier trench absorbs", 1, covered, Trench, 0, 1, false},
		{"tank through trench", 5, covered, Trench, 1, 1, true},
		{"mortar flat wound", 1, mortar, Flat, 1, 0, false},
		{"mortar low ground", 1, mortar, LowGround, 5, 0, true},
		{"mortar high ground", 1, mortar, HighGround, 1, 0, false},
		{"tank on mortar clamps", 5, mortar, Flat, 5, 0, true},
		{"zero attack", 0, soldier, LowGround, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := hitOn(tt.attack, tt.target, tt.terrain)
			if h.Damage != tt.damage || h.Absorbed != tt.absorbed || h.Lethal != tt.lethal {
				t.Errorf("expected damage=%d absorbed=%d lethal=%v, got %+v", tt.damage, tt.absorbed, tt.lethal, h)
			}
		})
	}
}

func TestTerrainModifiers(t *testing.T) {
	if HighGround.RangeBonus() != 1 || Flat.RangeBonus() != 0 || Trench.RangeBonus() != 0 || LowGround.RangeBonus() != 0 {
		t.Error("only high ground should add range")
	}
	if d := Trench.DefenseModifier(Soldier); d.Cover != 1 || d.Fragile {
		t.Errorf("trench soldier: %+v", d)
	}
	if d := Trench.DefenseModifier(Mortar); d != (Defense{}) {
		t.Errorf("trench mortar: %+v", d)
	}
	if d := LowGround.DefenseModifier(Tank); !d.Fragile {
		t.Errorf("low ground tank: %+v", d)
	}
	if d := HighGround.DefenseModifier(Soldier); d != (Defense{}) {
		t.Errorf("high ground soldier: %+v", d)
	}
}
