package battle

import "fmt"

// DefaultMaxTurns is the turn ceiling used when Rules.MaxTurns is zero.
const DefaultMaxTurns = 300

// MaxSlots is the most units one side may deploy.
const MaxSlots = 8

// CeilingPolicy decides the outcome when the turn ceiling is reached.
type CeilingPolicy uint8

const (
	CeilingDraw      CeilingPolicy = iota
	CeilingMostUnits               // the side with more living units wins
)

func (c CeilingPolicy) String() string {
	if c == CeilingMostUnits {
		return "most_units"
	}
	return "draw"
}

// ParseCeiling accepts "draw" or "most_units".
func ParseCeiling(s string) (CeilingPolicy, error) {
	switch s {
	case "", "draw":
		return CeilingDraw, nil
	case "most_units":
		return CeilingMostUnits, nil
	}
	return CeilingDraw, fmt.Errorf("unknown ceiling policy %q", s)
}

// MutualPolicy decides the outcome when both sides lose their last unit in
// the same resolution step.
type MutualPolicy uint8

const (
	MutualDraw         MutualPolicy = iota
	MutualAttackerWins              // owner of the last resolving attack wins
)

func (m MutualPolicy) String() string {
	if m == MutualAttackerWins {
		return "attacker_wins"
	}
	return "draw"
}

// ParseMutual accepts "draw" or "attacker_wins".
func ParseMutual(s string) (MutualPolicy, error) {
	switch s {
	case "", "draw":
		return MutualDraw, nil
	case "attacker_wins":
		return MutualAttackerWins, nil
	}
	return MutualDraw, fmt.Errorf("unknown mutual elimination policy %q", s)
}

// Rules are the tunable parameters of a battle.
type Rules struct {
	MaxTurns   int           `json:"maxTurns"`
	MoveMetric Metric        `json:"moveMetric"`
	Ceiling    CeilingPolicy `json:"ceiling"`
	Mutual     MutualPolicy  `json:"mutual"`
	Stats      StatTable     `json:"stats"`
}

// DefaultRules returns the standard rule set.
func DefaultRules() Rules {
	return Rules{
		MaxTurns: DefaultMaxTurns,
		Stats:    DefaultStats(),
	}
}

func (r *Rules) normalize() error {
	if r.MaxTurns == 0 {
		r.MaxTurns = DefaultMaxTurns
	}
	if r.MaxTurns < 0 {
		return reject(ErrInvalidSetup, nil, "max turns %d", r.MaxTurns)
	}
	if r.MoveMetric > Manhattan {
		return reject(ErrInvalidSetup, nil, "unknown move metric %d", r.MoveMetric)
	}
	if r.Ceiling > CeilingMostUnits || r.Mutual > MutualAttackerWins {
		return reject(ErrInvalidSetup, nil, "unknown terminal policy")
	}
	if r.Stats == (StatTable{}) {
		r.Stats = DefaultStats()
	}
	return r.Stats.validate()
}

// Placement puts one unit on the board at setup.
type Placement struct {
	Owner Player
	Kind  UnitKind
	Cell  Cell
}

// Deployment is the initial configuration of a battle.
type Deployment struct {
	Terrain map[Cell]TerrainKind
	Units   []Placement
}

// DefaultDeployment returns the standard opening: three soldiers, a tank and
// a mortar per side on an all-flat board, mirrored across the centre line.
func DefaultDeployment() Deployment {
	side := []struct {
		kind     UnitKind
		row, col int
	}{
		{Soldier, 5, 1},
		{Soldier, 6, 2},
		{Soldier, 7, 1},
		{Tank, 6, 0},
		{Mortar, 10, 0},
	}
	d := Deployment{Terrain: map[Cell]TerrainKind{}}
	for _, p := range []Player{Player0, Player1} {
		for _, s := range side {
			col := s.col
			if p == Player1 {
				col = BoardSize - 1 - s.col
			}
			d.Units = append(d.Units, Placement{Owner: p, Kind: s.kind, Cell: Cell{Row: s.row, Col: col}})
		}
	}
	return d
}
