package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/freeeve/kriegsim/internal/agent"
	"github.com/freeeve/kriegsim/internal/model"
	"github.com/freeeve/kriegsim/pkg/battle"
)

type tools struct {
	client *agent.Client
}

// ScenarioListInput takes no arguments.
type ScenarioListInput struct{}

// ScenarioListResult names the available scenarios.
type ScenarioListResult struct {
	Scenarios []string `json:"scenarios" jsonschema:"scenario names"`
}

// BattleCreateInput sets up a battle against a built-in agent.
type BattleCreateInput struct {
	Scenario string `json:"scenario,omitempty" jsonschema:"scenario name; the default scenario when empty"`
	Name     string `json:"name,omitempty" jsonschema:"display name of the battle"`
	Player   int    `json:"player,omitempty" jsonschema:"the seat you play, 0 or 1; 0 moves first"`
	Opponent string `json:"opponent,omitempty" jsonschema:"agent on the other seat: random, greedy or onnx; greedy when empty"`
	MaxTurns int    `json:"max_turns,omitempty" jsonschema:"turn ceiling; the scenario's when zero"`
}

// BattleCreateResult identifies the new battle and your seat.
type BattleCreateResult struct {
	BattleID string `json:"battle_id" jsonschema:"battle id"`
	Player   int    `json:"player" jsonschema:"your seat"`
	Token    string `json:"token" jsonschema:"seat token; keep it to rejoin from another session"`
	Turn     int    `json:"turn" jsonschema:"turn counter"`
	Active   int    `json:"active" jsonschema:"seat to act"`
}

// BattleJoinInput takes a seat token.
type BattleJoinInput struct {
	Token string `json:"token" jsonschema:"seat token issued when the battle was created"`
}

// BattleJoinResult is the seat the token is for.
type BattleJoinResult struct {
	BattleID string `json:"battle_id" jsonschema:"battle id"`
	Player   int    `json:"player" jsonschema:"your seat"`
}

// BattleRefInput names a battle.
type BattleRefInput struct {
	BattleID string `json:"battle_id" jsonschema:"battle id"`
}

// BattleStateResult summarises a battle.
type BattleStateResult struct {
	BattleID string `json:"battle_id"`
	Name     string `json:"name"`
	Scenario string `json:"scenario,omitempty"`
	Status   string `json:"status" jsonschema:"active, finished or aborted"`
	Turn     int    `json:"turn"`
	Active   int    `json:"active" jsonschema:"seat to act"`
	Outcome  string `json:"outcome" jsonschema:"ongoing, draw or win(N)"`
	Reason   string `json:"reason,omitempty"`
	Winner   *int   `json:"winner,omitempty"`
	Deadline string `json:"deadline,omitempty" jsonschema:"RFC 3339 time by which the seat to act must play"`
	Position string `json:"position" jsonschema:"BFEN of the battle"`
}

// BattleObserveInput names a battle and the seat to observe.
type BattleObserveInput struct {
	BattleID string `json:"battle_id" jsonschema:"battle id"`
	Player   int    `json:"player,omitempty" jsonschema:"seat to observe, 0 or 1"`
}

// UnitView is one unit as a tool sees it.
type UnitView struct {
	Slot   int    `json:"slot,omitempty"`
	Kind   string `json:"kind"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Health int    `json:"health,omitempty"`
	// HealthPct is set for enemy units, whose exact health is hidden.
	HealthPct int  `json:"health_pct,omitempty"`
	Range     int  `json:"range,omitempty"`
	Alive     bool `json:"alive"`
}

// ActionView is one legal action.
type ActionView struct {
	Index int    `json:"index"`
	Slot  int    `json:"slot"`
	Kind  string `json:"kind"`
	Row   int    `json:"row"`
	Col   int    `json:"col"`
}

// BattleObserveResult is a seat's view of the battle.
type BattleObserveResult struct {
	Turn    int          `json:"turn"`
	Player  int          `json:"player"`
	ToAct   bool         `json:"to_act" jsonschema:"whether this seat is to act"`
	Outcome string       `json:"outcome"`
	Units   []UnitView   `json:"units"`
	Enemies []UnitView   `json:"enemies"`
	Legal   []ActionView `json:"legal" jsonschema:"legal actions, empty unless this seat is to act"`
	// LegalTotal can exceed len(Legal); the list is truncated.
	LegalTotal int `json:"legal_total"`
}

// BattleActInput is an action for your seat. Index wins when set; otherwise
// slot, kind and target are encoded.
type BattleActInput struct {
	BattleID string `json:"battle_id" jsonschema:"battle id"`
	Player   int    `json:"player,omitempty" jsonschema:"your seat"`
	Index    *int   `json:"index,omitempty" jsonschema:"action index from battle_observe"`
	Slot     int    `json:"slot,omitempty" jsonschema:"unit slot"`
	Kind     string `json:"kind,omitempty" jsonschema:"move or attack"`
	Row      int    `json:"row,omitempty" jsonschema:"target row"`
	Col      int    `json:"col,omitempty" jsonschema:"target column"`
}

// BattleActResult reports the action and any agent replies.
type BattleActResult struct {
	Action   int      `json:"action"`
	Reward   float64  `json:"reward"`
	Events   []string `json:"events" jsonschema:"what happened, in order"`
	Replies  int      `json:"replies" jsonschema:"actions the opposing agent played after yours"`
	Outcome  string   `json:"outcome"`
	Active   int      `json:"active"`
	Position string   `json:"position"`
}

// BattleResignInput names the battle and your seat.
type BattleResignInput struct {
	BattleID string `json:"battle_id" jsonschema:"battle id"`
	Player   int    `json:"player,omitempty" jsonschema:"your seat"`
}

// BattleResignResult confirms the resignation.
type BattleResignResult struct {
	Resigned bool `json:"resigned"`
}

// BattleTurnsInput selects part of a battle's history.
type BattleTurnsInput struct {
	BattleID string `json:"battle_id" jsonschema:"battle id"`
	Since    int    `json:"since,omitempty" jsonschema:"first turn to return"`
}

// TurnView is one recorded turn.
type TurnView struct {
	Turn   int     `json:"turn"`
	Player int     `json:"player"`
	Action int     `json:"action"`
	Reward float64 `json:"reward"`
}

// BattleTurnsResult is the requested history.
type BattleTurnsResult struct {
	Turns []TurnView `json:"turns"`
}

func (t *tools) scenarioList(ctx context.Context, _ *mcp.CallToolRequest, _ ScenarioListInput) (*mcp.CallToolResult, ScenarioListResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	names, err := t.client.Scenarios(ctx)
	if err != nil {
		return nil, ScenarioListResult{}, fmt.Errorf("list scenarios: %w", err)
	}
	return nil, ScenarioListResult{Scenarios: names}, nil
}

func (t *tools) battleCreate(ctx context.Context, _ *mcp.CallToolRequest, in BattleCreateInput) (*mcp.CallToolResult, BattleCreateResult, error) {
	if in.Player != 0 && in.Player != 1 {
		return nil, BattleCreateResult{}, fmt.Errorf("player must be 0 or 1, got %d", in.Player)
	}
	opponent := strings.TrimSpace(in.Opponent)
	if opponent == "" {
		opponent = agent.KindGreedy
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	info, err := t.client.CreateBattle(ctx, agent.CreateRequest{
		Name:     in.Name,
		Scenario: in.Scenario,
		MaxTurns: in.MaxTurns,
		Seats: []agent.SeatRequest{
			{Player: in.Player, Kind: model.SeatHuman},
			{Player: 1 - in.Player, Kind: model.SeatAgent, Agent: opponent},
		},
	})
	if err != nil {
		return nil, BattleCreateResult{}, fmt.Errorf("create battle: %w", err)
	}
	return nil, BattleCreateResult{
		BattleID: info.ID,
		Player:   in.Player,
		Token:    t.client.Token(in.Player),
		Turn:     info.Turn,
		Active:   info.Active,
	}, nil
}

func (t *tools) battleJoin(_ context.Context, _ *mcp.CallToolRequest, in BattleJoinInput) (*mcp.CallToolResult, BattleJoinResult, error) {
	battleID, player, err := agent.SeatFromToken(strings.TrimSpace(in.Token))
	if err != nil {
		return nil, BattleJoinResult{}, err
	}
	t.client.SetToken(player, in.Token)
	return nil, BattleJoinResult{BattleID: battleID, Player: player}, nil
}

func (t *tools) battleState(ctx context.Context, _ *mcp.CallToolRequest, in BattleRefInput) (*mcp.CallToolResult, BattleStateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	info, err := t.client.GetBattle(ctx, in.BattleID)
	if err != nil {
		return nil, BattleStateResult{}, fmt.Errorf("get battle: %w", err)
	}
	out := BattleStateResult{
		BattleID: info.ID,
		Name:     info.Name,
		Scenario: info.Scenario,
		Status:   info.Status,
		Turn:     info.Turn,
		Active:   info.Active,
		Outcome:  "ongoing",
		Reason:   info.Reason,
		Winner:   info.Winner,
		Position: info.Position,
	}
	switch {
	case info.Winner != nil:
		out.Outcome = fmt.Sprintf("win(%d)", *info.Winner)
	case info.Outcome != "":
		out.Outcome = info.Outcome
	}
	if info.Deadline != nil {
		out.Deadline = info.Deadline.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return nil, out, nil
}

func (t *tools) battleObserve(ctx context.Context, _ *mcp.CallToolRequest, in BattleObserveInput) (*mcp.CallToolResult, BattleObserveResult, error) {
	if in.Player != 0 && in.Player != 1 {
		return nil, BattleObserveResult{}, fmt.Errorf("player must be 0 or 1, got %d", in.Player)
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	snap, err := t.client.Snapshot(ctx, in.BattleID, in.Player)
	if err != nil {
		return nil, BattleObserveResult{}, fmt.Errorf("snapshot: %w", err)
	}
	return nil, observe(snap), nil
}

// observe turns a snapshot into the tool view.
func observe(snap *battle.Snapshot) BattleObserveResult {
	out := BattleObserveResult{
		Turn:       snap.Turn,
		Player:     int(snap.Player),
		ToAct:      len(snap.Legal) > 0,
		Outcome:    snap.Outcome.String(),
		Units:      []UnitView{},
		Enemies:    []UnitView{},
		Legal:      []ActionView{},
		LegalTotal: len(snap.Legal),
	}
	for _, s := range snap.Slots {
		out.Units = append(out.Units, UnitView{
			Slot:   s.Slot,
			Kind:   s.Kind.String(),
			Row:    s.Pos.Row,
			Col:    s.Pos.Col,
			Health: s.Health,
			Range:  s.Range,
			Alive:  s.Alive,
		})
	}

	enemyPlane := battle.PlaneOwner1
	if snap.Player == battle.Player1 {
		enemyPlane = battle.PlaneOwner0
	}
	for idx := 0; idx < battle.Cells; idx++ {
		c := battle.CellAt(idx)
		v := snap.CellValue(enemyPlane, c)
		if v == 0 {
			continue
		}
		out.Enemies = append(out.Enemies, UnitView{
			Kind:      kindOf(v),
			Row:       c.Row,
			Col:       c.Col,
			HealthPct: int(snap.CellValue(battle.PlaneHealth, c)*100 + 0.5),
			Alive:     true,
		})
	}

	for _, a := range snap.Legal {
		if len(out.Legal) == maxListedActions {
			break
		}
		slot, kind, target, err := battle.SplitAction(a)
		if err != nil {
			continue
		}
		out.Legal = append(out.Legal, ActionView{Index: a, Slot: slot, Kind: kind.String(), Row: target.Row, Col: target.Col})
	}
	return out
}

func kindOf(v float32) string {
	for _, k := range []battle.UnitKind{battle.Soldier, battle.Tank, battle.Mortar} {
		if battle.KindValue(k) == v {
			return k.String()
		}
	}
	return "unknown"
}

// actionIndex resolves the action of in.
func actionIndex(in BattleActInput) (int, error) {
	if in.Index != nil {
		return *in.Index, nil
	}
	var kind battle.IntentKind
	switch strings.ToLower(strings.TrimSpace(in.Kind)) {
	case "move":
		kind = battle.IntentMove
	case "attack":
		kind = battle.IntentAttack
	default:
		return 0, fmt.Errorf("kind must be move or attack, got %q", in.Kind)
	}
	return battle.EncodeAction(in.Slot, kind, battle.Cell{Row: in.Row, Col: in.Col})
}

func (t *tools) battleAct(ctx context.Context, _ *mcp.CallToolRequest, in BattleActInput) (*mcp.CallToolResult, BattleActResult, error) {
	action, err := actionIndex(in)
	if err != nil {
		return nil, BattleActResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	reply, err := t.client.SubmitAction(ctx, in.BattleID, in.Player, action)
	if err != nil {
		return nil, BattleActResult{}, fmt.Errorf("action %d: %w", action, err)
	}

	out := BattleActResult{
		Action:   action,
		Reward:   reply.Reward,
		Events:   describe(reply.Result),
		Replies:  len(reply.Auto),
		Outcome:  reply.Outcome.String(),
		Active:   reply.Active,
		Position: reply.Position,
	}
	for _, r := range reply.Auto {
		out.Events = append(out.Events, describe(r)...)
	}
	return nil, out, nil
}

// describe renders a step as short sentences.
func describe(r battle.StepResult) []string {
	out := []string{fmt.Sprintf("turn %d: %s", r.Turn, r.Intent.Describe())}
	for _, h := range r.Hits {
		out = append(out, describeHit(h))
	}
	if r.Queued != nil {
		out = append(out, fmt.Sprintf("attack on %s lands at turn %d", r.Queued.Anchor, r.Queued.ResolveTurn))
	}
	for _, imp := range r.Impacts {
		out = append(out, fmt.Sprintf("delayed attack landed on %s", imp.Attack.Anchor))
		for _, h := range imp.Hits {
			out = append(out, describeHit(h))
		}
	}
	if r.Outcome.Done() {
		out = append(out, fmt.Sprintf("battle over: %s (%s)", r.Outcome, r.Outcome.Reason))
	}
	return out
}

func describeHit(h battle.Hit) string {
	s := fmt.Sprintf("%s unit %d at %s took %d damage", h.Owner, h.UnitID, h.Cell, h.Damage)
	if h.Absorbed > 0 {
		s += fmt.Sprintf(" (%d absorbed)", h.Absorbed)
	}
	if h.Lethal {
		s += " and was destroyed"
	}
	return s
}

func (t *tools) battleResign(ctx context.Context, _ *mcp.CallToolRequest, in BattleResignInput) (*mcp.CallToolResult, BattleResignResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := t.client.Resign(ctx, in.BattleID, in.Player); err != nil {
		return nil, BattleResignResult{}, fmt.Errorf("resign: %w", err)
	}
	return nil, BattleResignResult{Resigned: true}, nil
}

func (t *tools) battleTurns(ctx context.Context, _ *mcp.CallToolRequest, in BattleTurnsInput) (*mcp.CallToolResult, BattleTurnsResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	turns, err := t.client.Turns(ctx, in.BattleID, in.Since)
	if err != nil {
		return nil, BattleTurnsResult{}, fmt.Errorf("turns: %w", err)
	}
	out := BattleTurnsResult{Turns: make([]TurnView, 0, len(turns))}
	for _, tr := range turns {
		out.Turns = append(out.Turns, TurnView{Turn: tr.Turn, Player: tr.Player, Action: tr.Action, Reward: tr.Reward})
	}
	return nil, out, nil
}
