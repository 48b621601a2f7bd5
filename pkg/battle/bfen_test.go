package battle

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestBFENOpening(t *testing.T) {
	b, err := New(DefaultDeployment(), DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	got := EncodeBFEN(b)
	want := "0:0:o/" + strings.TrimSuffix(strings.Repeat("20.", BoardSize), ".") +
		"/s5.1:1,s6.2:1,s7.1:1,t6.0:1,m10.0:5,S5.18:1,S6.17:1,S7.18:1,T6.19:1,M10.19:5/-"
	if got != want {
		t.Errorf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestBFENRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := DefaultDeployment()
	d.Terrain = GenerateTerrain(rng)
	for _, p := range d.Units {
		delete(d.Terrain, p.Cell)
	}
	d.Terrain[Cell{5, 1}] = Trench

	b, err := New(d, mortarRules(4))
	if err != nil {
		t.Fatal(err)
	}
	mustStep(t, b, 4, IntentAttack, 10, 9)
	mustStep(t, b, 4, IntentAttack, 11, 10)
	mustStep(t, b, 0, IntentAttack, 5, 3)

	enc := EncodeBFEN(b)
	dec, err := DecodeBFEN(enc, mortarRules(4))
	if err != nil {
		t.Fatalf("decode %q: %v", enc, err)
	}
	if again := EncodeBFEN(dec); again != enc {
		t.Fatalf("round trip mismatch\n%s\n%s", enc, again)
	}
	if dec.Turn() != 3 || dec.Active() != Player1 || len(dec.Pending()) != 2 {
		t.Errorf("unexpected decoded state turn=%d active=%s pending=%d", dec.Turn(), dec.Active(), len(dec.Pending()))
	}

	// both copies evolve identically
	for i := 0; i < 4; i++ {
		legal := b.LegalActions()
		a := legal[rng.Intn(len(legal))]
		r1, err1 := b.Step(a)
		r2, err2 := dec.Step(a)
		if (err1 == nil) != (err2 == nil) || r1.Outcome != r2.Outcome || len(r1.Impacts) != len(r2.Impacts) {
			t.Fatalf("step %d diverged", i)
		}
	}
	if EncodeBFEN(b) != EncodeBFEN(dec) {
		t.Error("decoded battle diverged from the original")
	}
}

func TestBFENDeadUnitsAndOutcome(t *testing.T) {
	b := battleWith(t, DefaultRules(), nil,
		place(Player0, Soldier, 0, 0),
		place(Player1, Soldier, 0, 2),
	)
	mustStep(t, b, 0, IntentAttack, 0, 2)

	enc := EncodeBFEN(b)
	if !strings.HasPrefix(enc, "1:1:w0e/") || !strings.Contains(enc, "S0.2:0") {
		t.Fatalf("unexpected encoding %s", enc)
	}
	dec, err := DecodeBFEN(enc, DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Outcome() != b.Outcome() || dec.Phase() != PhaseTerminal {
		t.Errorf("expected %v, got %v", b.Outcome(), dec.Outcome())
	}
	if _, ok := dec.UnitAt(Cell{0, 2}); ok {
		t.Error("dead unit should not occupy a cell after decode")
	}
}

func TestBFENResignation(t *testing.T) {
	b, err := New(DefaultDeployment(), DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	mustStep(t, b, 0, IntentMove, 5, 6)
	if err := b.Resign(Player1); err != nil {
		t.Fatal(err)
	}

	enc := EncodeBFEN(b)
	if !strings.HasPrefix(enc, "1:1:w0r/") {
		t.Fatalf("unexpected encoding %s", enc)
	}
	dec, err := DecodeBFEN(enc, DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	want := Outcome{Kind: Win, Winner: Player0, Reason: ReasonResignation}
	if dec.Outcome() != want {
		t.Errorf("decoded outcome %+v, want %+v", dec.Outcome(), want)
	}
}

func TestBFENDecodeErrors(t *testing.T) {
	flat := strings.TrimSuffix(strings.Repeat("20.", BoardSize), ".")
	tests := []struct {
		name string
		in   string
	}{
		{"sections", "0:0:o/" + flat + "/s0.0:1"},
		{"header", "0:0/" + flat + "/s0.0:1/-"},
		{"active", "0:2:o/" + flat + "/s0.0:1/-"},
		{"outcome", "0:0:x/" + flat + "/s0.0:1/-"},
		{"reason", "0:0:w0q/" + flat + "/s0.0:1/-"},
		{"short row", "0:0:o/19." + flat[3:] + "/s0.0:1/-"},
		{"long row", "0:0:o/20h." + flat[3:] + "/s0.0:1/-"},
		{"terrain letter", "0:0:o/x19." + flat[3:] + "/s0.0:1/-"},
		{"no units", "0:0:o/" + flat + "/-/-"},
		{"unit kind", "0:0:o/" + flat + "/q0.0:1/-"},
		{"health", "0:0:o/" + flat + "/s0.0:2/-"},
		{"cell", "0:0:o/" + flat + "/s0.20:1/-"},
		{"overlap", "0:0:o/" + flat + "/s0.0:1,S0.0:1/-"},
		{"pending attacker", "0:0:o/" + flat + "/s0.0:1,M1.1:5/7:3.3@2"},
		{"pending in past", "4:0:o/" + flat + "/s0.0:1,M1.1:5/1:3.3@4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBFEN(tt.in, DefaultRules()); !errors.Is(err, ErrInvalidSetup) {
				t.Errorf("expected ErrInvalidSetup, got %v", err)
			}
		})
	}
}

func TestGenerateTerrainDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	counts := map[TerrainKind]int{}
	const boards = 50
	for i := 0; i < boards; i++ {
		layout := GenerateTerrain(rng)
		for _, k := range layout {
			counts[k]++
		}
		counts[Flat] += Cells - len(layout)
	}
	total := float64(boards * Cells)
	want := map[TerrainKind]float64{Flat: 0.5, HighGround: 0.2, Trench: 0.2, LowGround: 0.1}
	for k, p := range want {
		got := float64(counts[k]) / total
		if got < p-0.03 || got > p+0.03 {
			t.Errorf("%s: expected ~%.2f, got %.3f", k, p, got)
		}
	}
}
