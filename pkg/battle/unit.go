package battle

import "fmt"

// Player identifies one of the two sides.
type Player int

const (
	Player0  Player = 0
	Player1  Player = 1
	NoPlayer Player = -1
)

// Other returns the opposing side.
func (p Player) Other() Player { return 1 - p }

// Valid reports whether p is 0 or 1.
func (p Player) Valid() bool { return p == Player0 || p == Player1 }

func (p Player) String() string {
	if !p.Valid() {
		return "none"
	}
	return fmt.Sprintf("p%d", int(p))
}

// UnitKind is the closed set of unit types.
type UnitKind uint8

const (
	Soldier UnitKind = iota
	Tank
	Mortar
	numKinds
)

var kindNames = [numKinds]string{"soldier", "tank", "mortar"}

// kindChars are the BFEN letters; upper case marks player 1.
var kindChars = [numKinds]byte{'s', 't', 'm'}

func (k UnitKind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Valid reports whether k names a known unit kind.
func (k UnitKind) Valid() bool { return k < numKinds }

// ParseUnitKind accepts the names produced by UnitKind.String.
func ParseUnitKind(s string) (UnitKind, error) {
	for i, n := range kindNames {
		if n == s {
			return UnitKind(i), nil
		}
	}
	return Soldier, fmt.Errorf("unknown unit kind %q", s)
}

// Stats is the fixed attribute record of a unit kind.
type Stats struct {
	MaxHealth int `yaml:"max_health" json:"maxHealth"`
	Attack    int `yaml:"attack" json:"attack"`
	Range     int `yaml:"range" json:"range"`
	Speed     int `yaml:"speed" json:"speed"`
	// AoE is the side of the square footprint anchored at the target cell.
	AoE int `yaml:"aoe" json:"aoe"`
	// FireDelay is the number of turns between order and impact. Zero
	// means the attack resolves immediately.
	FireDelay int `yaml:"fire_delay" json:"fireDelay"`
}

// Delayed reports whether attacks from this kind go through the scheduler.
func (s Stats) Delayed() bool { return s.FireDelay > 0 }

// StatTable holds one Stats record per unit kind.
type StatTable [numKinds]Stats

// DefaultStats returns the standard unit table.
func DefaultStats() StatTable {
	return StatTable{
		Soldier: {MaxHealth: 1, Attack: 1, Range: 2, Speed: 1, AoE: 1},
		Tank:    {MaxHealth: 1, Attack: 5, Range: 5, Speed: 1, AoE: 2},
		Mortar:  {MaxHealth: 5, Attack: 1, Range: 10, Speed: 1, AoE: 2, FireDelay: 1},
	}
}

// For returns the record for kind.
func (t StatTable) For(kind UnitKind) Stats { return t[kind] }

func (t *StatTable) validate() error {
	for k, s := range t {
		if s.MaxHealth < 1 || s.Attack < 0 || s.Range < 0 || s.Speed < 0 || s.AoE < 1 || s.FireDelay < 0 {
			return reject(ErrInvalidSetup, nil, "bad stats for %s: %+v", UnitKind(k), s)
		}
	}
	return nil
}

// Unit is a single piece on the board. Kind-derived attributes live in
// Stats and never change; Pos, Health and Cover do.
type Unit struct {
	ID     int
	Owner  Player
	Kind   UnitKind
	Slot   int // index among the owner's deployed units, used by the action space
	Pos    Cell
	Health int
	Cover  int // trench protection left to absorb damage
	Stats  Stats
}

// Alive reports whether the unit still has health.
func (u Unit) Alive() bool { return u.Health > 0 }

func (u Unit) String() string {
	return fmt.Sprintf("%s %s#%d at %s hp=%d", u.Owner, u.Kind, u.ID, u.Pos, u.Health)
}
