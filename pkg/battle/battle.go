package battle

import (
	"errors"
	"fmt"
)

// Phase is a state of the turn machine.
type Phase uint8

const (
	PhaseAwaitingAction Phase = iota
	PhaseValidating
	PhaseApplying
	PhaseResolvingScheduled
	PhaseCheckingTerminal
	PhaseTerminal
)

var phaseNames = [...]string{"awaiting_action", "validating", "applying", "resolving_scheduled", "checking_terminal", "terminal"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", p)
}

// OutcomeKind classifies the result of a battle.
type OutcomeKind uint8

const (
	Ongoing OutcomeKind = iota
	Win
	Draw
)

func (k OutcomeKind) String() string {
	switch k {
	case Win:
		return "win"
	case Draw:
		return "draw"
	}
	return "ongoing"
}

// Outcome is the battle result. Winner is NoPlayer unless Kind is Win.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Winner Player      `json:"winner"`
	Reason string      `json:"reason,omitempty"`
}

// Done reports whether the battle has ended.
func (o Outcome) Done() bool { return o.Kind != Ongoing }

func (o Outcome) String() string {
	if o.Kind == Win {
		return fmt.Sprintf("win(%d)", o.Winner)
	}
	return o.Kind.String()
}

// Outcome reasons.
const (
	ReasonElimination = "elimination"
	ReasonMutual      = "mutual_elimination"
	ReasonCeiling     = "turn_ceiling"
	ReasonEmptySide   = "empty_side"
	ReasonResignation = "resignation"
)

// Impact is a scheduled attack that resolved, with the hits it landed.
type Impact struct {
	Attack PendingAttack `json:"attack"`
	Hits   []Hit         `json:"hits,omitempty"`
}

// StepResult is the feedback record for one submitted action.
type StepResult struct {
	Turn      int    `json:"turn"`
	Player    Player `json:"player"`
	Action    int    `json:"action"`
	Intent    Intent `json:"intent"`
	Accepted  bool   `json:"accepted"`
	Rejection string `json:"rejection,omitempty"`
	// From is the mover's cell before a move.
	From    Cell           `json:"from"`
	Hits    []Hit          `json:"hits,omitempty"`
	Queued  *PendingAttack `json:"queued,omitempty"`
	Impacts []Impact       `json:"impacts,omitempty"`
	Outcome Outcome        `json:"outcome"`
	Phases  []Phase        `json:"-"`
}

// Terminal reports whether this step ended the battle.
func (r *StepResult) Terminal() bool { return r.Outcome.Done() }

// AllHits returns the immediate hits followed by scheduled impact hits.
func (r *StepResult) AllHits() []Hit {
	out := append([]Hit(nil), r.Hits...)
	for _, im := range r.Impacts {
		out = append(out, im.Hits...)
	}
	return out
}

// Battle is the complete state of one battle. It is not safe for
// concurrent use; independent battles share nothing.
type Battle struct {
	rules   Rules
	grid    *Grid
	reg     *Registry
	sched   *Scheduler
	slots   [2][]int // unit ids by slot
	turn    int
	active  Player
	phase   Phase
	outcome Outcome
	trace   []Phase
}

// New validates a deployment and sets up a battle at turn 0 with player 0
// to act. A side deployed with no units loses at once.
func New(d Deployment, rules Rules) (*Battle, error) {
	if err := rules.normalize(); err != nil {
		return nil, err
	}
	g, err := NewGrid(d.Terrain)
	if err != nil {
		return nil, err
	}
	b := &Battle{
		rules:   rules,
		grid:    &g,
		sched:   NewScheduler(),
		outcome: Outcome{Winner: NoPlayer},
	}
	b.reg = newRegistry(b.grid, rules.MoveMetric)

	var seen [Cells]bool
	for i, p := range d.Units {
		switch {
		case !p.Owner.Valid():
			return nil, reject(ErrInvalidSetup, nil, "unit %d: bad owner %d", i, p.Owner)
		case !p.Kind.Valid():
			return nil, reject(ErrInvalidSetup, nil, "unit %d: unknown kind %d", i, p.Kind)
		case !p.Cell.InBounds():
			return nil, reject(ErrInvalidSetup, nil, "unit %d: %s off the board", i, p.Cell)
		case seen[p.Cell.Index()]:
			return nil, reject(ErrInvalidSetup, nil, "unit %d: %s already occupied", i, p.Cell)
		case len(b.slots[p.Owner]) == MaxSlots:
			return nil, reject(ErrInvalidSetup, nil, "%s deploys more than %d units", p.Owner, MaxSlots)
		}
		seen[p.Cell.Index()] = true
		id := b.reg.add(p.Owner, p.Kind, rules.Stats.For(p.Kind), len(b.slots[p.Owner]), p.Cell)
		b.slots[p.Owner] = append(b.slots[p.Owner], id)
	}
	if len(b.slots[0]) == 0 && len(b.slots[1]) == 0 {
		return nil, reject(ErrInvalidSetup, nil, "no units deployed")
	}
	for _, p := range []Player{Player0, Player1} {
		if len(b.slots[p]) == 0 {
			b.finish(Outcome{Kind: Win, Winner: p.Other(), Reason: ReasonEmptySide})
		}
	}
	return b, nil
}

// Turn returns the number of completed actions.
func (b *Battle) Turn() int { return b.turn }

// Active returns the player expected to act.
func (b *Battle) Active() Player { return b.active }

// Phase returns the current machine state: AwaitingAction or Terminal
// between calls.
func (b *Battle) Phase() Phase { return b.phase }

// Outcome returns the current result.
func (b *Battle) Outcome() Outcome { return b.outcome }

// Rules returns the rules the battle was created with.
func (b *Battle) Rules() Rules { return b.rules }

// Grid returns the terrain grid.
func (b *Battle) Grid() *Grid { return b.grid }

// Registry exposes the unit registry for read access.
func (b *Battle) Registry() *Registry { return b.reg }

// UnitAt returns the living unit on c.
func (b *Battle) UnitAt(c Cell) (Unit, bool) { return b.reg.UnitAt(c) }

// UnitsOf returns the living units of p.
func (b *Battle) UnitsOf(p Player) []Unit { return b.reg.UnitsOf(p) }

// SlotUnit returns the unit deployed in p's slot, dead or alive.
func (b *Battle) SlotUnit(p Player, slot int) (Unit, bool) {
	if !p.Valid() || slot < 0 || slot >= len(b.slots[p]) {
		return Unit{}, false
	}
	return b.reg.Unit(b.slots[p][slot])
}

// Pending lists the delayed attacks still in flight.
func (b *Battle) Pending() []PendingAttack { return b.sched.Pending() }

func (b *Battle) enter(p Phase) {
	b.phase = p
	b.trace = append(b.trace, p)
}

func (b *Battle) finish(o Outcome) {
	b.outcome = o
	b.phase = PhaseTerminal
}

// Apply runs one intent through the turn machine. A rejected intent
// returns an error wrapping one of the Err* kinds and leaves the battle
// exactly as it was; the same player must resubmit.
func (b *Battle) Apply(in Intent) (StepResult, error) {
	res := StepResult{Turn: b.turn, Player: in.Player, Action: -1, Intent: in}
	b.trace = nil
	b.enter(PhaseValidating)

	u, err := b.validate(in)
	if err != nil {
		b.trace = nil
		if b.outcome.Done() {
			b.phase = PhaseTerminal
		} else {
			b.phase = PhaseAwaitingAction
		}
		res.Rejection = err.Error()
		res.Outcome = b.outcome
		return res, err
	}

	b.enter(PhaseApplying)
	switch in.Kind {
	case IntentMove:
		res.From = u.Pos
		// validate already ran the same checks, Move cannot fail here
		_ = b.reg.Move(u.ID, in.Target)
	case IntentAttack:
		if u.Stats.Delayed() {
			p := PendingAttack{
				AttackerID:  u.ID,
				Owner:       u.Owner,
				Anchor:      in.Target,
				Attack:      u.Stats.Attack,
				AoE:         u.Stats.AoE,
				ResolveTurn: b.turn + u.Stats.FireDelay,
			}
			b.sched.Enqueue(p)
			res.Queued = &p
		} else {
			res.Hits = ResolveImpact(b.grid, b.reg, u.Owner, u.Stats.Attack, Footprint(u.Stats.AoE, in.Target))
			b.reg.apply(res.Hits)
		}
	}
	res.Accepted = true

	b.turn++
	b.active = b.active.Other()

	b.enter(PhaseCheckingTerminal)
	if !b.checkElimination(in.Player) {
		b.enter(PhaseResolvingScheduled)
		impacts, last := b.resolveScheduled()
		res.Impacts = impacts
		b.enter(PhaseCheckingTerminal)
		if !b.checkElimination(last) {
			b.checkCeiling()
		}
	}
	if !b.outcome.Done() {
		b.enter(PhaseAwaitingAction)
	} else {
		b.trace = append(b.trace, PhaseTerminal)
	}
	res.Outcome = b.outcome
	res.Phases = b.trace
	b.trace = nil
	return res, nil
}

// Step decodes an action index for the active player and applies it.
func (b *Battle) Step(action int) (StepResult, error) {
	in, err := b.DecodeAction(action, b.active)
	if err != nil {
		return StepResult{Turn: b.turn, Player: b.active, Action: action, Rejection: err.Error(), Outcome: b.outcome}, err
	}
	res, err := b.Apply(in)
	res.Action = action
	return res, err
}

// Resign ends the battle as a win for p's opponent. It fails with
// ErrIllegalAction once the battle is over. It may be called on either
// side's turn and does not advance the turn counter.
func (b *Battle) Resign(p Player) error {
	if !p.Valid() {
		return reject(ErrIllegalAction, nil, "no such player %d", p)
	}
	if b.outcome.Done() {
		return reject(ErrIllegalAction, nil, "battle already concluded")
	}
	b.finish(Outcome{Kind: Win, Winner: p.Other(), Reason: ReasonResignation})
	return nil
}

// Check reports whether in would be accepted, without applying it.
func (b *Battle) Check(in Intent) error {
	_, err := b.validate(in)
	return err
}

func (b *Battle) validate(in Intent) (Unit, error) {
	if b.outcome.Done() {
		return Unit{}, reject(ErrIllegalAction, &in, "battle already concluded")
	}
	if in.Player != b.active {
		return Unit{}, reject(ErrIllegalAction, &in, "not %s's turn", in.Player)
	}
	u, ok := b.reg.Unit(in.UnitID)
	if !ok {
		return Unit{}, reject(ErrIllegalAction, &in, "no unit in slot %d", in.Slot)
	}
	if u.Owner != in.Player {
		return Unit{}, reject(ErrIllegalAction, &in, "unit %d belongs to %s", u.ID, u.Owner)
	}
	if !u.Alive() {
		return Unit{}, reject(ErrIllegalAction, &in, "unit %d is dead", u.ID)
	}

	var err error
	switch in.Kind {
	case IntentMove:
		err = b.reg.checkMove(u, in.Target)
	case IntentAttack:
		err = CheckRange(b.grid, u, in.Target)
	default:
		return Unit{}, reject(ErrIllegalAction, &in, "unknown intent kind %d", in.Kind)
	}
	if err != nil {
		var re *RejectionError
		if errors.As(err, &re) {
			re.Intent = &in
		}
		return Unit{}, err
	}
	return u, nil
}

// resolveScheduled lands every pending attack due this turn and returns the
// owner of the last one that hit something.
func (b *Battle) resolveScheduled() ([]Impact, Player) {
	last := NoPlayer
	var impacts []Impact
	for _, p := range b.sched.DrainDue(b.turn) {
		hits := ResolveImpact(b.grid, b.reg, p.Owner, p.Attack, Footprint(p.AoE, p.Anchor))
		b.reg.apply(hits)
		if len(hits) > 0 {
			last = p.Owner
		}
		impacts = append(impacts, Impact{Attack: p, Hits: hits})
	}
	return impacts, last
}

// checkElimination ends the battle when a side has no units left. attacker
// is the side whose attack resolved last, used by MutualAttackerWins.
func (b *Battle) checkElimination(attacker Player) bool {
	a0, a1 := b.reg.AliveCount(Player0), b.reg.AliveCount(Player1)
	switch {
	case a0 == 0 && a1 == 0:
		if b.rules.Mutual == MutualAttackerWins && attacker.Valid() {
			b.finish(Outcome{Kind: Win, Winner: attacker, Reason: ReasonMutual})
		} else {
			b.finish(Outcome{Kind: Draw, Winner: NoPlayer, Reason: ReasonMutual})
		}
	case a0 == 0:
		b.finish(Outcome{Kind: Win, Winner: Player1, Reason: ReasonElimination})
	case a1 == 0:
		b.finish(Outcome{Kind: Win, Winner: Player0, Reason: ReasonElimination})
	default:
		return false
	}
	return true
}

func (b *Battle) checkCeiling() {
	if b.turn < b.rules.MaxTurns {
		return
	}
	o := Outcome{Kind: Draw, Winner: NoPlayer, Reason: ReasonCeiling}
	if b.rules.Ceiling == CeilingMostUnits {
		a0, a1 := b.reg.AliveCount(Player0), b.reg.AliveCount(Player1)
		if a0 != a1 {
			o.Kind = Win
			o.Winner = Player0
			if a1 > a0 {
				o.Winner = Player1
			}
		}
	}
	b.finish(o)
}

// Clone returns a deep copy that can be advanced independently.
func (b *Battle) Clone() *Battle {
	c := &Battle{
		rules:   b.rules,
		grid:    b.grid,
		sched:   b.sched.Clone(),
		turn:    b.turn,
		active:  b.active,
		phase:   b.phase,
		outcome: b.outcome,
	}
	c.reg = b.reg.clone(c.grid)
	for p := range b.slots {
		c.slots[p] = append([]int(nil), b.slots[p]...)
	}
	return c
}
