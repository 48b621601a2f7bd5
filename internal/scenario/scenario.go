// Package scenario loads battle setups from YAML files.
package scenario

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/freeeve/kriegsim/pkg/battle"
)

// DefaultName is the built-in scenario reproducing battle.DefaultDeployment.
const DefaultName = "default"

// ErrNotFound is returned for an unknown scenario name.
var ErrNotFound = errors.New("scenario not found")

// Scenario is one setup file.
//
//	name: ridge
//	rules:
//	  max_turns: 200
//	  move_metric: manhattan
//	  stats:
//	    mortar: {max_health: 5, attack: 1, range: 10, speed: 1, aoe: 2, fire_delay: 2}
//	terrain:
//	  seed: 7
//	  cells:
//	    - {row: 6, col: 3, kind: trench}
//	units:
//	  - {owner: 0, kind: tank, row: 6, col: 0}
//	mirror: true
type Scenario struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Rules       Rules   `yaml:"rules"`
	Terrain     Terrain `yaml:"terrain"`
	Units       []Unit  `yaml:"units"`
	// Mirror copies player 0's units and terrain to player 1 across the
	// vertical centre line.
	Mirror bool `yaml:"mirror"`
}

// Rules overrides the defaults of battle.Rules. Empty fields keep them.
type Rules struct {
	MaxTurns   int                     `yaml:"max_turns"`
	MoveMetric string                  `yaml:"move_metric"`
	Ceiling    string                  `yaml:"ceiling"`
	Mutual     string                  `yaml:"mutual"`
	Stats      map[string]battle.Stats `yaml:"stats"`
}

// Terrain describes the board. Rows, when given, must be 20 strings of 20
// characters (f, h, l, t). Seed, when non-zero, generates a random layout
// first. Cells are applied last.
type Terrain struct {
	Seed  int64    `yaml:"seed"`
	Rows  []string `yaml:"rows"`
	Cells []Cell   `yaml:"cells"`
}

// Cell sets the terrain of one cell.
type Cell struct {
	Row  int    `yaml:"row"`
	Col  int    `yaml:"col"`
	Kind string `yaml:"kind"`
}

// Unit places one unit.
type Unit struct {
	Owner int    `yaml:"owner"`
	Kind  string `yaml:"kind"`
	Row   int    `yaml:"row"`
	Col   int    `yaml:"col"`
}

// Parse decodes a scenario and checks that it sets up a valid battle.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	d, rules, err := s.Build()
	if err == nil {
		_, err = battle.New(d, rules)
	}
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return &s, nil
}

// LoadFile reads one scenario file. A missing name is taken from the file
// name.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Build turns the scenario into engine setup values.
func (s *Scenario) Build() (battle.Deployment, battle.Rules, error) {
	rules, err := s.Rules.build()
	if err != nil {
		return battle.Deployment{}, rules, err
	}
	terrain, err := s.Terrain.build()
	if err != nil {
		return battle.Deployment{}, rules, err
	}

	d := battle.Deployment{Terrain: terrain}
	for i, u := range s.Units {
		kind, err := battle.ParseUnitKind(u.Kind)
		if err != nil {
			return d, rules, fmt.Errorf("unit %d: %w", i, err)
		}
		p := battle.Placement{Owner: battle.Player(u.Owner), Kind: kind, Cell: battle.Cell{Row: u.Row, Col: u.Col}}
		d.Units = append(d.Units, p)
	}
	if s.Mirror {
		mirror(&d)
	}
	return d, rules, nil
}

func (r Rules) build() (battle.Rules, error) {
	out := battle.DefaultRules()
	if r.MaxTurns != 0 {
		out.MaxTurns = r.MaxTurns
	}
	var err error
	if out.MoveMetric, err = battle.ParseMetric(r.MoveMetric); err != nil {
		return out, err
	}
	if out.Ceiling, err = battle.ParseCeiling(r.Ceiling); err != nil {
		return out, err
	}
	if out.Mutual, err = battle.ParseMutual(r.Mutual); err != nil {
		return out, err
	}
	for name, st := range r.Stats {
		kind, err := battle.ParseUnitKind(name)
		if err != nil {
			return out, fmt.Errorf("stats: %w", err)
		}
		out.Stats[kind] = st
	}
	return out, nil
}

func (t Terrain) build() (map[battle.Cell]battle.TerrainKind, error) {
	layout := map[battle.Cell]battle.TerrainKind{}
	if t.Seed != 0 {
		layout = battle.GenerateTerrain(rand.New(rand.NewSource(t.Seed)))
	}
	if len(t.Rows) > 0 {
		if len(t.Rows) != battle.BoardSize {
			return nil, fmt.Errorf("terrain: %d rows, want %d", len(t.Rows), battle.BoardSize)
		}
		for r, row := range t.Rows {
			if len(row) != battle.BoardSize {
				return nil, fmt.Errorf("terrain row %d: %d cells, want %d", r, len(row), battle.BoardSize)
			}
			for c := 0; c < len(row); c++ {
				k, ok := terrainChars[row[c]]
				if !ok {
					return nil, fmt.Errorf("terrain row %d: unknown cell %q", r, row[c])
				}
				layout[battle.Cell{Row: r, Col: c}] = k
			}
		}
	}
	for _, c := range t.Cells {
		k, err := battle.ParseTerrain(c.Kind)
		if err != nil {
			return nil, err
		}
		layout[battle.Cell{Row: c.Row, Col: c.Col}] = k
	}
	return layout, nil
}

var terrainChars = map[byte]battle.TerrainKind{
	'f': battle.Flat, '.': battle.Flat,
	'h': battle.HighGround,
	'l': battle.LowGround,
	't': battle.Trench,
}

// mirror reflects player 0's units to player 1 and copies the left half
// of the terrain onto the right half.
func mirror(d *battle.Deployment) {
	var mirrored []battle.Placement
	for _, p := range d.Units {
		if p.Owner != battle.Player0 {
			continue
		}
		p.Owner = battle.Player1
		p.Cell.Col = battle.BoardSize - 1 - p.Cell.Col
		mirrored = append(mirrored, p)
	}
	d.Units = append(d.Units, mirrored...)

	for c, k := range d.Terrain {
		if c.Col < battle.BoardSize/2 {
			d.Terrain[battle.Cell{Row: c.Row, Col: battle.BoardSize - 1 - c.Col}] = k
		}
	}
}

// Library is a set of scenarios keyed by name.
type Library struct {
	byName map[string]*Scenario
}

// Default returns the built-in scenario.
func Default() *Scenario {
	s := &Scenario{Name: DefaultName, Description: "three soldiers, a tank and a mortar per side on open ground"}
	for _, p := range battle.DefaultDeployment().Units {
		s.Units = append(s.Units, Unit{Owner: int(p.Owner), Kind: p.Kind.String(), Row: p.Cell.Row, Col: p.Cell.Col})
	}
	return s
}

// NewLibrary returns a library holding the built-in scenario and the given
// ones.
func NewLibrary(scenarios ...*Scenario) *Library {
	l := &Library{byName: map[string]*Scenario{DefaultName: Default()}}
	for _, s := range scenarios {
		l.byName[s.Name] = s
	}
	return l
}

// LoadDir reads every *.yaml and *.yml file in dir. An empty dir gives the
// built-in library.
func LoadDir(dir string) (*Library, error) {
	l := NewLibrary()
	if dir == "" {
		return l, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		s, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		l.byName[s.Name] = s
	}
	return l, nil
}

// Get returns the named scenario. An empty name means the default.
func (l *Library) Get(name string) (*Scenario, error) {
	if name == "" {
		name = DefaultName
	}
	s, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s, nil
}

// Names lists the scenarios in alphabetical order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.byName))
	for n := range l.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
