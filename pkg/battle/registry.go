package battle

// Registry owns the units of one battle and indexes them by id and by
// cell. Dead units stay in the id table but never occupy a cell.
type Registry struct {
	units  []Unit
	occ    [Cells]int // unit id + 1, zero when empty
	grid   *Grid
	metric Metric
}

func newRegistry(grid *Grid, metric Metric) *Registry {
	return &Registry{grid: grid, metric: metric}
}

// add places a new unit during setup. The caller has checked the cell.
func (r *Registry) add(owner Player, kind UnitKind, stats Stats, slot int, c Cell) int {
	id := len(r.units)
	u := Unit{
		ID:     id,
		Owner:  owner,
		Kind:   kind,
		Slot:   slot,
		Pos:    c,
		Health: stats.MaxHealth,
		Stats:  stats,
	}
	u.Cover = r.grid.at(c).DefenseModifier(kind).Cover
	r.units = append(r.units, u)
	r.occ[c.Index()] = id + 1
	return id
}

// Len returns the number of units ever deployed, dead ones included.
func (r *Registry) Len() int { return len(r.units) }

// Unit returns a copy of the unit with the given id.
func (r *Registry) Unit(id int) (Unit, bool) {
	if id < 0 || id >= len(r.units) {
		return Unit{}, false
	}
	return r.units[id], true
}

// UnitAt returns the living unit on c, if any.
func (r *Registry) UnitAt(c Cell) (Unit, bool) {
	if !c.InBounds() {
		return Unit{}, false
	}
	id := r.occ[c.Index()] - 1
	if id < 0 {
		return Unit{}, false
	}
	return r.units[id], true
}

func (r *Registry) occupied(c Cell) bool {
	return r.occ[c.Index()] != 0
}

// UnitsOf returns the living units of owner in slot order.
func (r *Registry) UnitsOf(owner Player) []Unit {
	var out []Unit
	for _, u := range r.units {
		if u.Owner == owner && u.Alive() {
			out = append(out, u)
		}
	}
	return out
}

// AliveCount returns how many units owner has left.
func (r *Registry) AliveCount(owner Player) int {
	n := 0
	for i := range r.units {
		if r.units[i].Owner == owner && r.units[i].Alive() {
			n++
		}
	}
	return n
}

// All returns every unit, dead ones included, ordered by id.
func (r *Registry) All() []Unit {
	out := make([]Unit, len(r.units))
	copy(out, r.units)
	return out
}

// Move relocates a living unit. It fails with ErrIllegalMove when the
// destination is off the board, occupied, or further than the unit's speed.
// A failed move leaves the registry untouched.
func (r *Registry) Move(id int, dest Cell) error {
	if id < 0 || id >= len(r.units) {
		return reject(ErrIllegalMove, nil, "no unit %d", id)
	}
	u := &r.units[id]
	if err := r.checkMove(*u, dest); err != nil {
		return err
	}

	// Cover spent in a trench stays spent along a trench line; only
	// entering from open ground digs in afresh.
	cover := r.grid.at(dest).DefenseModifier(u.Kind).Cover
	if r.grid.at(u.Pos).DefenseModifier(u.Kind).Cover > 0 {
		cover = min(cover, u.Cover)
	}

	r.occ[u.Pos.Index()] = 0
	r.occ[dest.Index()] = id + 1
	u.Pos = dest
	u.Cover = cover
	return nil
}

func (r *Registry) checkMove(u Unit, dest Cell) error {
	if !u.Alive() {
		return reject(ErrIllegalMove, nil, "unit %d is dead", u.ID)
	}
	if !dest.InBounds() {
		return reject(ErrIllegalMove, nil, "destination %s off the board", dest)
	}
	if dest == u.Pos {
		return reject(ErrIllegalMove, nil, "unit %d already at %s", u.ID, dest)
	}
	if r.occupied(dest) {
		return reject(ErrIllegalMove, nil, "destination %s occupied", dest)
	}
	if d := r.metric.Distance(u.Pos, dest); d > u.Stats.Speed {
		return reject(ErrIllegalMove, nil, "%s distance %d exceeds speed %d", r.metric, d, u.Stats.Speed)
	}
	return nil
}

// ApplyDamage lowers a unit's health, clamping at zero. A unit reaching
// zero frees its cell at once. Damage to a dead or unknown unit is ignored.
// It reports whether this call killed the unit.
func (r *Registry) ApplyDamage(id, amount int) bool {
	if id < 0 || id >= len(r.units) || amount <= 0 {
		return false
	}
	u := &r.units[id]
	if !u.Alive() {
		return false
	}
	u.Health = max(u.Health-amount, 0)
	if u.Health == 0 {
		u.Cover = 0
		r.occ[u.Pos.Index()] = 0
		return true
	}
	return false
}

// spendCover removes up to n points of cover from a unit.
func (r *Registry) spendCover(id, n int) {
	if id < 0 || id >= len(r.units) || n <= 0 {
		return
	}
	u := &r.units[id]
	u.Cover = max(u.Cover-n, 0)
}

// apply lands a set of hits, cover first.
func (r *Registry) apply(hits []Hit) {
	for _, h := range hits {
		r.spendCover(h.UnitID, h.Absorbed)
		r.ApplyDamage(h.UnitID, h.Damage)
	}
}

func (r *Registry) clone(grid *Grid) *Registry {
	c := &Registry{
		units:  make([]Unit, len(r.units)),
		occ:    r.occ,
		grid:   grid,
		metric: r.metric,
	}
	copy(c.units, r.units)
	return c
}
