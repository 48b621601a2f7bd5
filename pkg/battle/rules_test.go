package battle

import (
	"errors"
	"testing"
)

func TestParseNames(t *testing.T) {
	for _, m := range []Metric{Chebyshev, Manhattan} {
		if got, err := ParseMetric(m.String()); err != nil || got != m {
			t.Errorf("ParseMetric(%q) = %v, %v", m, got, err)
		}
	}
	for _, c := range []CeilingPolicy{CeilingDraw, CeilingMostUnits} {
		if got, err := ParseCeiling(c.String()); err != nil || got != c {
			t.Errorf("ParseCeiling(%q) = %v, %v", c, got, err)
		}
	}
	for _, m := range []MutualPolicy{MutualDraw, MutualAttackerWins} {
		if got, err := ParseMutual(m.String()); err != nil || got != m {
			t.Errorf("ParseMutual(%q) = %v, %v", m, got, err)
		}
	}
	for _, k := range []TerrainKind{Flat, HighGround, LowGround, Trench} {
		if got, err := ParseTerrain(k.String()); err != nil || got != k {
			t.Errorf("ParseTerrain(%q) = %v, %v", k, got, err)
		}
	}
	for _, k := range []UnitKind{Soldier, Tank, Mortar} {
		if got, err := ParseUnitKind(k.String()); err != nil || got != k {
			t.Errorf("ParseUnitKind(%q) = %v, %v", k, got, err)
		}
	}

	bad := []func() error{
		func() error { _, err := ParseMetric("hex"); return err },
		func() error { _, err := ParseCeiling("coin_flip"); return err },
		func() error { _, err := ParseMutual("both"); return err },
		func() error { _, err := ParseTerrain("swamp"); return err },
		func() error { _, err := ParseUnitKind("cavalry"); return err },
	}
	for i, f := range bad {
		if f() == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}

func TestRulesNormalize(t *testing.T) {
	var r Rules
	if err := r.normalize(); err != nil {
		t.Fatal(err)
	}
	if r.MaxTurns != DefaultMaxTurns || r.Stats != DefaultStats() {
		t.Errorf("zero rules should normalize to defaults, got %+v", r)
	}

	bad := []Rules{
		{MaxTurns: -1},
		{MoveMetric: Metric(7)},
		{Ceiling: CeilingPolicy(3)},
		{Mutual: MutualPolicy(3)},
	}
	for _, r := range bad {
		if err := r.normalize(); !errors.Is(err, ErrInvalidSetup) {
			t.Errorf("%+v: expected ErrInvalidSetup, got %v", r, err)
		}
	}

	r = DefaultRules()
	r.Stats[Tank].AoE = 0
	if err := r.normalize(); !errors.Is(err, ErrInvalidSetup) {
		t.Errorf("zero AoE should be rejected, got %v", err)
	}
}
