package battle

// Hit is the effect of one attack on one unit.
type Hit struct {
	UnitID int    `json:"unitId"`
	Owner  Player `json:"owner"`
	Cell   Cell   `json:"cell"`
	// Damage is the health actually removed.
	Damage int `json:"damage"`
	// Absorbed is the damage soaked up by trench cover.
	Absorbed int  `json:"absorbed,omitempty"`
	Lethal   bool `json:"lethal,omitempty"`
}

// EffectiveRange is the attacker's range from its current cell.
func EffectiveRange(g *Grid, attacker Unit) int {
	return attacker.Stats.Range + g.at(attacker.Pos).RangeBonus()
}

// CheckRange validates an attack anchor for attacker.
func CheckRange(g *Grid, attacker Unit, anchor Cell) error {
	if !anchor.InBounds() {
		return reject(ErrOutOfBounds, nil, "anchor %s off the board", anchor)
	}
	if d, r := Chebyshev.Distance(attacker.Pos, anchor), EffectiveRange(g, attacker); d > r {
		return reject(ErrOutOfRange, nil, "%s at %s: distance %d exceeds range %d", attacker.Kind, attacker.Pos, d, r)
	}
	return nil
}

// Footprint returns the cells covered by an attack of the given side
// anchored at anchor, extending toward higher rows and columns. Cells past
// the board edge are dropped, never wrapped.
func Footprint(side int, anchor Cell) []Cell {
	if side < 1 {
		side = 1
	}
	cells := make([]Cell, 0, side*side)
	for dr := 0; dr < side; dr++ {
		for dc := 0; dc < side; dc++ {
			c := Cell{Row: anchor.Row + dr, Col: anchor.Col + dc}
			if c.InBounds() {
				cells = append(cells, c)
			}
		}
	}
	return cells
}

// ComputeAttack evaluates an immediate attack without changing anything.
// It fails with ErrOutOfBounds or ErrOutOfRange when the anchor cannot be
// reached from the attacker's cell.
func ComputeAttack(g *Grid, r *Registry, attacker Unit, anchor Cell) ([]Hit, error) {
	if err := CheckRange(g, attacker, anchor); err != nil {
		return nil, err
	}
	return ResolveImpact(g, r, attacker.Owner, attacker.Stats.Attack, Footprint(attacker.Stats.AoE, anchor)), nil
}

// ResolveImpact computes the hits of an attack landing on footprint against
// the current occupants. Units belonging to owner are never hit.
func ResolveImpact(g *Grid, r *Registry, owner Player, attack int, footprint []Cell) []Hit {
	var hits []Hit
	for _, c := range footprint {
		u, ok := r.UnitAt(c)
		if !ok || u.Owner == owner {
			continue
		}
		hits = append(hits, hitOn(attack, u, g.at(c)))
	}
	return hits
}

// hitOn applies the terrain defense rules to a single hit. Cover absorbs
// first; on low ground any damage that gets through is lethal.
func hitOn(attack int, target Unit, terrain TerrainKind) Hit {
	h := Hit{UnitID: target.ID, Owner: target.Owner, Cell: target.Pos}
	h.Absorbed = min(attack, target.Cover)
	dmg := attack - h.Absorbed
	if dmg > 0 && terrain.DefenseModifier(target.Kind).Fragile {
		dmg = target.Health
	}
	h.Damage = min(dmg, target.Health)
	h.Lethal = h.Damage > 0 && h.Damage >= target.Health
	return h
}
