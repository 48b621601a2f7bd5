package battle

// Snapshot channels.
const (
	PlaneTerrain = iota
	PlaneOwner0
	PlaneOwner1
	PlaneHealth
	NumPlanes
)

// SnapshotSize is the length of a flattened snapshot.
const SnapshotSize = NumPlanes * Cells

// SlotView describes one of the active player's slots.
type SlotView struct {
	Slot   int      `json:"slot"`
	Kind   UnitKind `json:"kind"`
	Alive  bool     `json:"alive"`
	Pos    Cell     `json:"pos"`
	Health int      `json:"health"`
	// Range includes the terrain bonus of the current cell.
	Range int   `json:"range"`
	Stats Stats `json:"stats"`
}

// Snapshot is the observation handed to an agent. It is plain data and
// holds no references into the battle.
type Snapshot struct {
	Turn    int                                      `json:"turn"`
	Player  Player                                   `json:"player"`
	Outcome Outcome                                  `json:"outcome"`
	Planes  [NumPlanes][BoardSize][BoardSize]float32 `json:"planes"`
	Slots   []SlotView                               `json:"slots"`
	Legal   []int                                    `json:"legal"`
	// Position is the BFEN of the observed battle, for agents that run
	// their own copy of the rules.
	Position string `json:"position"`
}

// TerrainValue is the terrain channel encoding.
func TerrainValue(k TerrainKind) float32 {
	switch k {
	case LowGround:
		return 0
	case HighGround:
		return 0.5
	case Trench:
		return 0.75
	}
	return 0.25
}

// KindValue is the owner channel encoding of a unit kind.
func KindValue(k UnitKind) float32 {
	switch k {
	case Tank:
		return 2.0 / 3
	case Mortar:
		return 1
	}
	return 1.0 / 3
}

// Snapshot observes the battle from the active player's side.
func (b *Battle) Snapshot() *Snapshot {
	return b.SnapshotFor(b.active)
}

// SnapshotFor observes the battle for player p. Legal is only filled in
// when p is the side to act.
func (b *Battle) SnapshotFor(p Player) *Snapshot {
	s := &Snapshot{Turn: b.turn, Player: p, Outcome: b.outcome, Position: EncodeBFEN(b)}
	for i, k := range b.grid.terrain {
		c := CellAt(i)
		s.Planes[PlaneTerrain][c.Row][c.Col] = TerrainValue(k)
	}
	for _, u := range b.reg.units {
		if !u.Alive() {
			continue
		}
		plane := PlaneOwner0
		if u.Owner == Player1 {
			plane = PlaneOwner1
		}
		s.Planes[plane][u.Pos.Row][u.Pos.Col] = KindValue(u.Kind)
		s.Planes[PlaneHealth][u.Pos.Row][u.Pos.Col] = float32(u.Health) / float32(u.Stats.MaxHealth)
	}
	if p.Valid() {
		for slot, id := range b.slots[p] {
			u := b.reg.units[id]
			s.Slots = append(s.Slots, SlotView{
				Slot:   slot,
				Kind:   u.Kind,
				Alive:  u.Alive(),
				Pos:    u.Pos,
				Health: u.Health,
				Range:  EffectiveRange(b.grid, u),
				Stats:  u.Stats,
			})
		}
	}
	if p == b.active {
		s.Legal = b.LegalActions()
	}
	return s
}

// Flatten returns the planes as one channel-major vector.
func (s *Snapshot) Flatten() []float32 {
	out := make([]float32, 0, SnapshotSize)
	for p := range s.Planes {
		for r := range s.Planes[p] {
			out = append(out, s.Planes[p][r][:]...)
		}
	}
	return out
}

// IsLegal reports whether action is in the legal list.
func (s *Snapshot) IsLegal(action int) bool {
	for _, a := range s.Legal {
		if a == action {
			return true
		}
		if a > action {
			break
		}
	}
	return false
}

// CellValue reads one plane at c.
func (s *Snapshot) CellValue(plane int, c Cell) float32 {
	return s.Planes[plane][c.Row][c.Col]
}
