package battle

import "fmt"

// IntentKind distinguishes the two things a unit can be told to do.
type IntentKind uint8

const (
	IntentMove IntentKind = iota
	IntentAttack
	numIntentKinds
)

func (k IntentKind) String() string {
	if k == IntentAttack {
		return "attack"
	}
	return "move"
}

// ActionSpace is the number of distinct action indices. Each index names
// a (slot, intent kind, target cell) triple:
//
//	index = ((slot*2)+kind)*Cells + row*BoardSize + col
//
// The mapping is a bijection onto every triple with slot < MaxSlots, so it
// does not depend on the state of the battle. Indices naming an empty or
// dead slot decode fine and are rejected when applied.
const ActionSpace = MaxSlots * int(numIntentKinds) * Cells

// Intent is a decoded action for one player.
type Intent struct {
	Player Player     `json:"player"`
	Slot   int        `json:"slot"`
	Kind   IntentKind `json:"kind"`
	// UnitID is -1 when the slot holds no unit.
	UnitID int  `json:"unitId"`
	Target Cell `json:"target"`
}

// Describe renders the intent for logs and errors.
func (in Intent) Describe() string {
	return fmt.Sprintf("%s slot %d %s %s", in.Player, in.Slot, in.Kind, in.Target)
}

// EncodeAction packs a slot, kind and target into an action index.
func EncodeAction(slot int, kind IntentKind, target Cell) (int, error) {
	if slot < 0 || slot >= MaxSlots || kind >= numIntentKinds || !target.InBounds() {
		return 0, reject(ErrInvalidActionIndex, nil, "cannot encode slot %d %s %s", slot, kind, target)
	}
	return (slot*int(numIntentKinds)+int(kind))*Cells + target.Index(), nil
}

// SplitAction unpacks an action index without looking at any battle.
func SplitAction(index int) (slot int, kind IntentKind, target Cell, err error) {
	if index < 0 || index >= ActionSpace {
		return 0, 0, Cell{}, reject(ErrInvalidActionIndex, nil, "index %d outside [0,%d)", index, ActionSpace)
	}
	group := index / Cells
	return group / int(numIntentKinds), IntentKind(group % int(numIntentKinds)), CellAt(index % Cells), nil
}

// DecodeAction maps an action index to an intent for player.
func (b *Battle) DecodeAction(index int, player Player) (Intent, error) {
	slot, kind, target, err := SplitAction(index)
	if err != nil {
		return Intent{}, err
	}
	in := Intent{Player: player, Slot: slot, Kind: kind, Target: target, UnitID: -1}
	if player.Valid() && slot < len(b.slots[player]) {
		in.UnitID = b.slots[player][slot]
	}
	return in, nil
}

// LegalActions lists, in ascending order, every index the active player
// could submit right now. It is empty once the battle is over.
func (b *Battle) LegalActions() []int {
	if b.outcome.Done() {
		return nil
	}
	var out []int
	p := b.active
	for slot, id := range b.slots[p] {
		u, _ := b.reg.Unit(id)
		if !u.Alive() {
			continue
		}
		base := slot * int(numIntentKinds) * Cells
		sp := u.Stats.Speed
		for r := u.Pos.Row - sp; r <= u.Pos.Row+sp; r++ {
			for c := u.Pos.Col - sp; c <= u.Pos.Col+sp; c++ {
				dest := Cell{Row: r, Col: c}
				if b.reg.checkMove(u, dest) == nil {
					out = append(out, base+dest.Index())
				}
			}
		}
		base += Cells
		rng := EffectiveRange(b.grid, u)
		for r := max(u.Pos.Row-rng, 0); r <= min(u.Pos.Row+rng, BoardSize-1); r++ {
			for c := max(u.Pos.Col-rng, 0); c <= min(u.Pos.Col+rng, BoardSize-1); c++ {
				out = append(out, base+Cell{Row: r, Col: c}.Index())
			}
		}
	}
	return out
}
