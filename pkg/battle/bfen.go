package battle

import (
	"fmt"
	"strconv"
	"strings"
)

// BFEN is a compact text form of a battle position:
//
//	header/terrain/units/pending
//
//	header   turn:active:outcome       e.g. 12:1:o, 40:0:w0e, 300:1:dc
//	terrain  20 rows joined by '.'; a number is a run of flat cells,
//	         h/l/t are single high, low and trench cells
//	units    every unit in id order: kind letter (upper case for player 1),
//	         row.col, ':' health, optional '+' cover; '-' when empty
//	pending  attackerId:row.col@turn entries in queue order; '-' when empty
//
// Rules are not encoded; the decoder is handed the rules to rebuild under.

var reasonChars = map[string]byte{
	ReasonElimination: 'e',
	ReasonMutual:      'm',
	ReasonCeiling:     'c',
	ReasonEmptySide:   's',
	ReasonResignation: 'r',
}

var charToReason = map[byte]string{
	'e': ReasonElimination,
	'm': ReasonMutual,
	'c': ReasonCeiling,
	's': ReasonEmptySide,
	'r': ReasonResignation,
}

// EncodeBFEN serializes b. The output is deterministic.
func EncodeBFEN(b *Battle) string {
	var sb strings.Builder
	sb.Grow(256)

	encodeHeader(&sb, b)
	sb.WriteByte('/')
	encodeTerrain(&sb, b.grid)
	sb.WriteByte('/')
	encodeUnits(&sb, b.reg.units)
	sb.WriteByte('/')
	encodePending(&sb, b.sched.Pending())

	return sb.String()
}

func encodeHeader(sb *strings.Builder, b *Battle) {
	sb.WriteString(strconv.Itoa(b.turn))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(int(b.active)))
	sb.WriteByte(':')
	switch b.outcome.Kind {
	case Ongoing:
		sb.WriteByte('o')
		return
	case Win:
		sb.WriteByte('w')
		sb.WriteString(strconv.Itoa(int(b.outcome.Winner)))
	case Draw:
		sb.WriteByte('d')
	}
	if c, ok := reasonChars[b.outcome.Reason]; ok {
		sb.WriteByte(c)
	}
}

func encodeTerrain(sb *strings.Builder, g *Grid) {
	for r := 0; r < BoardSize; r++ {
		if r > 0 {
			sb.WriteByte('.')
		}
		run := 0
		for c := 0; c < BoardSize; c++ {
			k := g.at(Cell{Row: r, Col: c})
			if k == Flat {
				run++
				continue
			}
			if run > 0 {
				sb.WriteString(strconv.Itoa(run))
				run = 0
			}
			sb.WriteByte(terrainChars[k])
		}
		if run > 0 {
			sb.WriteString(strconv.Itoa(run))
		}
	}
}

func encodeUnits(sb *strings.Builder, units []Unit) {
	if len(units) == 0 {
		sb.WriteByte('-')
		return
	}
	for i, u := range units {
		if i > 0 {
			sb.WriteByte(',')
		}
		ch := kindChars[u.Kind]
		if u.Owner == Player1 {
			ch -= 'a' - 'A'
		}
		sb.WriteByte(ch)
		writeCell(sb, u.Pos)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(u.Health))
		if u.Cover > 0 {
			sb.WriteByte('+')
			sb.WriteString(strconv.Itoa(u.Cover))
		}
	}
}

func encodePending(sb *strings.Builder, pending []PendingAttack) {
	if len(pending) == 0 {
		sb.WriteByte('-')
		return
	}
	for i, p := range pending {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(p.AttackerID))
		sb.WriteByte(':')
		writeCell(sb, p.Anchor)
		sb.WriteByte('@')
		sb.WriteString(strconv.Itoa(p.ResolveTurn))
	}
}

func writeCell(sb *strings.Builder, c Cell) {
	sb.WriteString(strconv.Itoa(c.Row))
	sb.WriteByte('.')
	sb.WriteString(strconv.Itoa(c.Col))
}

// DecodeBFEN rebuilds a battle from its BFEN form under rules.
func DecodeBFEN(s string, rules Rules) (*Battle, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return nil, bfenErr("expected 4 sections separated by '/', got %d", len(parts))
	}
	if err := rules.normalize(); err != nil {
		return nil, err
	}

	b := &Battle{rules: rules, grid: &Grid{}, sched: NewScheduler()}
	if err := decodeHeader(parts[0], b); err != nil {
		return nil, err
	}
	if err := decodeTerrain(parts[1], b.grid); err != nil {
		return nil, err
	}
	b.reg = newRegistry(b.grid, rules.MoveMetric)
	if err := decodeUnits(parts[2], b); err != nil {
		return nil, err
	}
	if err := decodePending(parts[3], b); err != nil {
		return nil, err
	}

	if b.outcome.Done() {
		b.phase = PhaseTerminal
	} else if !b.checkElimination(NoPlayer) {
		b.checkCeiling()
	}
	return b, nil
}

func bfenErr(format string, args ...any) error {
	return reject(ErrInvalidSetup, nil, "bfen: "+format, args...)
}

func decodeHeader(s string, b *Battle) error {
	f := strings.Split(s, ":")
	if len(f) != 3 {
		return bfenErr("header %q", s)
	}
	turn, err := strconv.Atoi(f[0])
	if err != nil || turn < 0 {
		return bfenErr("invalid turn %q", f[0])
	}
	b.turn = turn
	switch f[1] {
	case "0":
		b.active = Player0
	case "1":
		b.active = Player1
	default:
		return bfenErr("invalid active player %q", f[1])
	}

	o := f[2]
	b.outcome = Outcome{Winner: NoPlayer}
	switch {
	case o == "o":
		return nil
	case strings.HasPrefix(o, "w") && len(o) >= 2 && (o[1] == '0' || o[1] == '1'):
		b.outcome.Kind = Win
		b.outcome.Winner = Player(o[1] - '0')
		o = o[2:]
	case strings.HasPrefix(o, "d"):
		b.outcome.Kind = Draw
		o = o[1:]
	default:
		return bfenErr("invalid outcome %q", f[2])
	}
	if o != "" {
		reason, ok := charToReason[o[0]]
		if !ok || len(o) > 1 {
			return bfenErr("invalid outcome reason %q", o)
		}
		b.outcome.Reason = reason
	}
	return nil
}

func decodeTerrain(s string, g *Grid) error {
	rows := strings.Split(s, ".")
	if len(rows) != BoardSize {
		return bfenErr("expected %d terrain rows, got %d", BoardSize, len(rows))
	}
	for r, row := range rows {
		col := 0
		for i := 0; i < len(row); {
			ch := row[i]
			if ch >= '0' && ch <= '9' {
				j := i
				for j < len(row) && row[j] >= '0' && row[j] <= '9' {
					j++
				}
				n, _ := strconv.Atoi(row[i:j])
				col += n
				i = j
				continue
			}
			k, ok := terrainFromChar(ch)
			if !ok {
				return bfenErr("row %d: unknown terrain %q", r, ch)
			}
			if col >= BoardSize {
				return bfenErr("row %d longer than %d cells", r, BoardSize)
			}
			g.terrain[Cell{Row: r, Col: col}.Index()] = k
			col++
			i++
		}
		if col != BoardSize {
			return bfenErr("row %d covers %d cells", r, col)
		}
	}
	return nil
}

func terrainFromChar(ch byte) (TerrainKind, bool) {
	for k, c := range terrainChars {
		if c == ch && TerrainKind(k) != Flat {
			return TerrainKind(k), true
		}
	}
	return Flat, false
}

func decodeUnits(s string, b *Battle) error {
	if s == "-" {
		return bfenErr("no units")
	}
	for i, tok := range strings.Split(s, ",") {
		if len(tok) < 4 {
			return bfenErr("unit %d: %q too short", i, tok)
		}
		owner := Player0
		ch := tok[0]
		if ch >= 'A' && ch <= 'Z' {
			owner = Player1
			ch += 'a' - 'A'
		}
		kind, ok := kindFromChar(ch)
		if !ok {
			return bfenErr("unit %d: unknown kind %q", i, tok[0])
		}

		rest := tok[1:]
		cover := 0
		if j := strings.IndexByte(rest, '+'); j >= 0 {
			n, err := strconv.Atoi(rest[j+1:])
			if err != nil || n < 0 {
				return bfenErr("unit %d: invalid cover %q", i, rest[j+1:])
			}
			cover = n
			rest = rest[:j]
		}
		cellStr, hpStr, found := strings.Cut(rest, ":")
		if !found {
			return bfenErr("unit %d: missing health in %q", i, tok)
		}
		c, err := parseCell(cellStr)
		if err != nil {
			return bfenErr("unit %d: %v", i, err)
		}
		stats := b.rules.Stats.For(kind)
		hp, err := strconv.Atoi(hpStr)
		if err != nil || hp < 0 || hp > stats.MaxHealth {
			return bfenErr("unit %d: invalid health %q", i, hpStr)
		}
		if len(b.slots[owner]) == MaxSlots {
			return bfenErr("%s has more than %d units", owner, MaxSlots)
		}
		if hp > 0 && b.reg.occupied(c) {
			return bfenErr("unit %d: %s already occupied", i, c)
		}

		slot := len(b.slots[owner])
		var id int
		if hp == 0 {
			id = len(b.reg.units)
			b.reg.units = append(b.reg.units, Unit{ID: id, Owner: owner, Kind: kind, Slot: slot, Pos: c, Stats: stats})
		} else {
			id = b.reg.add(owner, kind, stats, slot, c)
			b.reg.units[id].Health = hp
			b.reg.units[id].Cover = cover
		}
		b.slots[owner] = append(b.slots[owner], id)
	}
	return nil
}

func kindFromChar(ch byte) (UnitKind, bool) {
	for k, c := range kindChars {
		if c == ch {
			return UnitKind(k), true
		}
	}
	return Soldier, false
}

func parseCell(s string) (Cell, error) {
	rs, cs, ok := strings.Cut(s, ".")
	if !ok {
		return Cell{}, fmt.Errorf("invalid cell %q", s)
	}
	r, err1 := strconv.Atoi(rs)
	c, err2 := strconv.Atoi(cs)
	cell := Cell{Row: r, Col: c}
	if err1 != nil || err2 != nil || !cell.InBounds() {
		return Cell{}, fmt.Errorf("invalid cell %q", s)
	}
	return cell, nil
}

func decodePending(s string, b *Battle) error {
	if s == "-" {
		return nil
	}
	for i, tok := range strings.Split(s, ",") {
		idStr, rest, ok1 := strings.Cut(tok, ":")
		cellStr, turnStr, ok2 := strings.Cut(rest, "@")
		if !ok1 || !ok2 {
			return bfenErr("pending %d: %q", i, tok)
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return bfenErr("pending %d: invalid attacker %q", i, idStr)
		}
		u, ok := b.reg.Unit(id)
		if !ok {
			return bfenErr("pending %d: no unit %d", i, id)
		}
		anchor, err := parseCell(cellStr)
		if err != nil {
			return bfenErr("pending %d: %v", i, err)
		}
		turn, err := strconv.Atoi(turnStr)
		if err != nil || turn <= b.turn {
			return bfenErr("pending %d: resolve turn %q not after turn %d", i, turnStr, b.turn)
		}
		b.sched.Enqueue(PendingAttack{
			AttackerID:  id,
			Owner:       u.Owner,
			Anchor:      anchor,
			Attack:      u.Stats.Attack,
			AoE:         u.Stats.AoE,
			ResolveTurn: turn,
		})
	}
	return nil
}
