package battle

import (
	"fmt"
	"math/rand"
)

// BoardSize is the side length of the square battlefield.
const BoardSize = 20

// Cells is the number of cells on the board.
const Cells = BoardSize * BoardSize

// Cell is a board coordinate. Row and Col are zero based.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// InBounds reports whether the cell lies on the board.
func (c Cell) InBounds() bool {
	return c.Row >= 0 && c.Row < BoardSize && c.Col >= 0 && c.Col < BoardSize
}

// Index returns the row-major index of an in-bounds cell.
func (c Cell) Index() int {
	return c.Row*BoardSize + c.Col
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}

// CellAt is the inverse of Cell.Index.
func CellAt(idx int) Cell {
	return Cell{Row: idx / BoardSize, Col: idx % BoardSize}
}

// Metric selects how distance between two cells is measured.
type Metric uint8

const (
	Chebyshev Metric = iota // 8-directional, king moves
	Manhattan               // 4-directional
)

func (m Metric) String() string {
	if m == Manhattan {
		return "manhattan"
	}
	return "chebyshev"
}

// ParseMetric accepts "chebyshev" or "manhattan".
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", "chebyshev":
		return Chebyshev, nil
	case "manhattan":
		return Manhattan, nil
	}
	return Chebyshev, fmt.Errorf("unknown metric %q", s)
}

// Distance measures a to b under the metric.
func (m Metric) Distance(a, b Cell) int {
	dr, dc := abs(a.Row-b.Row), abs(a.Col-b.Col)
	if m == Manhattan {
		return dr + dc
	}
	return max(dr, dc)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// TerrainKind classifies a cell.
type TerrainKind uint8

const (
	Flat TerrainKind = iota
	HighGround
	LowGround
	Trench
	numTerrain
)

var terrainNames = [numTerrain]string{"flat", "high", "low", "trench"}

// terrainChars are the BFEN letters for each terrain kind.
var terrainChars = [numTerrain]byte{'f', 'h', 'l', 't'}

func (k TerrainKind) String() string {
	if k < numTerrain {
		return terrainNames[k]
	}
	return fmt.Sprintf("terrain(%d)", k)
}

// Valid reports whether k is one of the four terrain kinds.
func (k TerrainKind) Valid() bool { return k < numTerrain }

// ParseTerrain accepts the names produced by TerrainKind.String.
func ParseTerrain(s string) (TerrainKind, error) {
	for i, n := range terrainNames {
		if n == s {
			return TerrainKind(i), nil
		}
	}
	return Flat, fmt.Errorf("unknown terrain %q", s)
}

// RangeBonus is added to the range of a unit firing from this terrain.
func (k TerrainKind) RangeBonus() int {
	if k == HighGround {
		return 1
	}
	return 0
}

// Defense is the terrain effect on a unit standing in a cell.
type Defense struct {
	// Cover is the damage absorbed before health is touched.
	Cover int
	// Fragile units die from any hit that deals damage.
	Fragile bool
}

// DefenseModifier returns the protection terrain k gives a unit of the
// given kind. Only soldiers can use a trench.
func (k TerrainKind) DefenseModifier(kind UnitKind) Defense {
	switch k {
	case Trench:
		if kind == Soldier {
			return Defense{Cover: 1}
		}
	case LowGround:
		return Defense{Fragile: true}
	}
	return Defense{}
}

// Grid is the terrain layer of a battle. It is fixed once the battle is
// set up; the zero value is an all-flat board.
type Grid struct {
	terrain [Cells]TerrainKind
}

// NewGrid builds a grid from a sparse layout. Cells not listed are Flat.
func NewGrid(layout map[Cell]TerrainKind) (Grid, error) {
	var g Grid
	for c, k := range layout {
		if !c.InBounds() {
			return Grid{}, reject(ErrInvalidSetup, nil, "terrain cell %s off the board", c)
		}
		if !k.Valid() {
			return Grid{}, reject(ErrInvalidSetup, nil, "unknown terrain %d at %s", k, c)
		}
		g.terrain[c.Index()] = k
	}
	return g, nil
}

// TerrainAt returns the terrain of c.
func (g *Grid) TerrainAt(c Cell) (TerrainKind, error) {
	if !c.InBounds() {
		return Flat, reject(ErrOutOfBounds, nil, "cell %s", c)
	}
	return g.terrain[c.Index()], nil
}

// at is TerrainAt for cells already known to be on the board.
func (g *Grid) at(c Cell) TerrainKind {
	return g.terrain[c.Index()]
}

// Layout returns the non-flat cells of the grid.
func (g *Grid) Layout() map[Cell]TerrainKind {
	out := make(map[Cell]TerrainKind)
	for i, k := range g.terrain {
		if k != Flat {
			out[CellAt(i)] = k
		}
	}
	return out
}

// GenerateTerrain draws a random layout: half flat, a fifth high ground,
// a fifth trench and the rest low ground.
func GenerateTerrain(rng *rand.Rand) map[Cell]TerrainKind {
	layout := make(map[Cell]TerrainKind)
	for i := 0; i < Cells; i++ {
		var k TerrainKind
		switch r := rng.Float64(); {
		case r < 0.5:
			continue
		case r < 0.7:
			k = HighGround
		case r < 0.9:
			k = Trench
		default:
			k = LowGround
		}
		layout[CellAt(i)] = k
	}
	return layout
}
