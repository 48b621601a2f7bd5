package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/freeeve/kriegsim/internal/agent"
	"github.com/freeeve/kriegsim/internal/model"
	"github.com/freeeve/kriegsim/internal/repository"
	"github.com/freeeve/kriegsim/internal/scenario"
	"github.com/freeeve/kriegsim/internal/telemetry"
	"github.com/freeeve/kriegsim/pkg/battle"
)

var (
	ErrBattleNotFound = errors.New("battle not found")
	ErrBattleFinished = errors.New("battle is over")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrAgentSeat      = errors.New("seat is played by an agent")
	ErrBattleBusy     = errors.New("battle is busy, retry")
	ErrInvalidSeats   = errors.New("invalid seats")
	ErrInvalidPlayer  = errors.New("player must be 0 or 1")
	ErrInvalidRules   = errors.New("invalid rules")
)

// lockTTL bounds how long one request may hold a battle.
const lockTTL = 2 * time.Minute

// agentDecideTimeout caps a single agent decision on the server.
const agentDecideTimeout = 30 * time.Second

// AgentFactory builds the agent for an agent seat.
type AgentFactory func(kind string, seed int64) (agent.Agent, error)

// SeatInput describes one seat of a new battle.
type SeatInput struct {
	Player int    `json:"player"`
	Kind   string `json:"kind"`            // human, agent
	Agent  string `json:"agent,omitempty"` // agent kind for agent seats
}

// CreateBattleInput is the request to start a hosted battle. Rule fields
// override the scenario when set.
type CreateBattleInput struct {
	Name       string      `json:"name"`
	Scenario   string      `json:"scenario,omitempty"`
	Seats      []SeatInput `json:"seats,omitempty"`
	MaxTurns   int         `json:"max_turns,omitempty"`
	MoveMetric string      `json:"move_metric,omitempty"`
	Ceiling    string      `json:"ceiling,omitempty"`
	Mutual     string      `json:"mutual,omitempty"`
}

// BattleView is a battle record joined with its live position.
type BattleView struct {
	model.Battle
	Position string     `json:"position"`
	Active   int        `json:"active"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// ActionResult is the feedback for one submitted action, followed by the
// replies of any agent seats that played after it.
type ActionResult struct {
	Result   battle.StepResult   `json:"result"`
	Reward   float64             `json:"reward"`
	Auto     []battle.StepResult `json:"auto,omitempty"`
	Outcome  battle.Outcome      `json:"outcome"`
	Active   int                 `json:"active"`
	Position string              `json:"position"`
}

// TurnEvent is broadcast for every accepted action.
type TurnEvent struct {
	Turn     int               `json:"turn"`
	Player   int               `json:"player"`
	Action   int               `json:"action"`
	Reward   float64           `json:"reward"`
	Result   battle.StepResult `json:"result"`
	Position string            `json:"position"`
	Active   int               `json:"active"`
}

// FinishedEvent is broadcast when a battle ends.
type FinishedEvent struct {
	Outcome battle.Outcome `json:"outcome"`
	Turns   int            `json:"turns"`
}

// BattleService hosts battles: it creates them, applies seat actions, plays
// agent seats and keeps Postgres, Redis and subscribers in step.
type BattleService struct {
	battles     repository.BattleRepository
	turns       repository.TurnRepository
	cache       repository.BattleCache
	broadcaster Broadcaster
	library     *scenario.Library
	newAgent    AgentFactory

	turnTimeout time.Duration
	maxTurns    int

	// agents holds the live agent of each agent seat, keyed battleID/player.
	agents sync.Map
}

// NewBattleService creates a BattleService.
func NewBattleService(
	battles repository.BattleRepository,
	turns repository.TurnRepository,
	cache repository.BattleCache,
	broadcaster Broadcaster,
	library *scenario.Library,
) *BattleService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	if library == nil {
		library = scenario.NewLibrary()
	}
	return &BattleService{
		battles:     battles,
		turns:       turns,
		cache:       cache,
		broadcaster: broadcaster,
		library:     library,
		newAgent:    agent.ForKind,
	}
}

// SetTurnTimeout sets how long a human seat may take before the server
// plays for it. Zero disables deadlines.
func (s *BattleService) SetTurnTimeout(d time.Duration) { s.turnTimeout = d }

// SetDefaultMaxTurns sets the ceiling for scenarios that do not set one.
func (s *BattleService) SetDefaultMaxTurns(n int) { s.maxTurns = n }

// SetAgentFactory replaces agent.ForKind.
func (s *BattleService) SetAgentFactory(f AgentFactory) { s.newAgent = f }

// Scenarios lists the scenario names battles can be created from.
func (s *BattleService) Scenarios() []string { return s.library.Names() }

var tracer = otel.Tracer("github.com/freeeve/kriegsim/internal/service")

// live is a battle record with its engine state.
type live struct {
	rec *model.Battle
	b   *battle.Battle
}

// CreateBattle sets up a battle from a scenario. Agent seats to act first
// play before it returns; battles with no human seat play out in the
// background.
func (s *BattleService) CreateBattle(ctx context.Context, in CreateBattleInput) (_ *BattleView, err error) {
	ctx, span := tracer.Start(ctx, "battle.create", trace.WithAttributes(attribute.String("scenario", in.Scenario)))
	defer func() { telemetry.End(span, err) }()

	seats, err := s.checkSeats(in.Seats)
	if err != nil {
		return nil, err
	}
	sc, err := s.library.Get(in.Scenario)
	if err != nil {
		return nil, err
	}
	d, rules, err := sc.Build()
	if err != nil {
		return nil, err
	}
	if err := s.overrideRules(&rules, sc, in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	b, err := battle.New(d, rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	rulesJSON, err := json.Marshal(b.Rules())
	if err != nil {
		return nil, fmt.Errorf("marshal rules: %w", err)
	}
	name := in.Name
	if name == "" {
		name = sc.Name
	}
	rec, err := s.battles.Create(ctx, &model.Battle{
		Name:     name,
		Scenario: sc.Name,
		Rules:    rulesJSON,
		Opening:  battle.EncodeBFEN(b),
		Seats:    seats,
	})
	if err != nil {
		return nil, err
	}
	l := &live{rec: rec, b: b}
	span.SetAttributes(attribute.String("battle.id", rec.ID))
	if err := s.cache.SetPosition(ctx, rec.ID, rec.Opening); err != nil {
		log.Warn().Err(err).Str("battleId", rec.ID).Msg("Failed to cache opening position")
	}
	log.Info().Str("battleId", rec.ID).Str("scenario", sc.Name).Str("name", rec.Name).Msg("Battle created")
	s.broadcaster.BroadcastBattleEvent(rec.ID, EventBattleCreated, s.view(ctx, l))

	switch {
	case b.Outcome().Done():
		s.finish(ctx, l)
	case !hasHuman(seats):
		go s.playOut(context.WithoutCancel(ctx), rec.ID)
	default:
		if _, err := s.autoPlay(ctx, l); err != nil {
			return nil, err
		}
		s.resetDeadline(ctx, l)
	}
	return s.view(ctx, l), nil
}

func (s *BattleService) checkSeats(in []SeatInput) ([]model.Seat, error) {
	if len(in) == 0 {
		in = []SeatInput{{Player: 0, Kind: model.SeatHuman}, {Player: 1, Kind: model.SeatAgent}}
	}
	if len(in) != 2 {
		return nil, fmt.Errorf("%w: need exactly 2 seats, got %d", ErrInvalidSeats, len(in))
	}
	seats := make([]model.Seat, 2)
	var seen [2]bool
	for _, si := range in {
		if si.Player != 0 && si.Player != 1 {
			return nil, fmt.Errorf("%w: player %d", ErrInvalidSeats, si.Player)
		}
		if seen[si.Player] {
			return nil, fmt.Errorf("%w: player %d given twice", ErrInvalidSeats, si.Player)
		}
		seen[si.Player] = true
		seat := model.Seat{Player: si.Player, Kind: si.Kind}
		switch si.Kind {
		case model.SeatHuman:
		case model.SeatAgent:
			seat.Agent = si.Agent
			if seat.Agent == "" {
				seat.Agent = agent.KindGreedy
			}
			a, err := s.newAgent(seat.Agent, 0)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSeats, err)
			}
			agent.Close(a)
		default:
			return nil, fmt.Errorf("%w: unknown seat kind %q", ErrInvalidSeats, si.Kind)
		}
		seats[si.Player] = seat
	}
	return seats, nil
}

func (s *BattleService) overrideRules(rules *battle.Rules, sc *scenario.Scenario, in CreateBattleInput) error {
	if sc.Rules.MaxTurns == 0 && s.maxTurns > 0 {
		rules.MaxTurns = s.maxTurns
	}
	if in.MaxTurns > 0 {
		rules.MaxTurns = in.MaxTurns
	}
	var err error
	if in.MoveMetric != "" {
		if rules.MoveMetric, err = battle.ParseMetric(in.MoveMetric); err != nil {
			return err
		}
	}
	if in.Ceiling != "" {
		if rules.Ceiling, err = battle.ParseCeiling(in.Ceiling); err != nil {
			return err
		}
	}
	if in.Mutual != "" {
		if rules.Mutual, err = battle.ParseMutual(in.Mutual); err != nil {
			return err
		}
	}
	return nil
}

func hasHuman(seats []model.Seat) bool {
	for _, seat := range seats {
		if seat.Kind == model.SeatHuman {
			return true
		}
	}
	return false
}

// GetBattle returns a battle with its live position.
func (s *BattleService) GetBattle(ctx context.Context, battleID string) (*BattleView, error) {
	l, err := s.load(ctx, battleID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, l), nil
}

// ListBattles lists battles, newest first. An empty status lists all.
func (s *BattleService) ListBattles(ctx context.Context, status string, limit int) ([]model.Battle, error) {
	return s.battles.List(ctx, status, limit)
}

// Snapshot returns the observation of player. Legal is only filled in for
// the side to act.
func (s *BattleService) Snapshot(ctx context.Context, battleID string, player int) (*battle.Snapshot, error) {
	if player != 0 && player != 1 {
		return nil, ErrInvalidPlayer
	}
	l, err := s.load(ctx, battleID)
	if err != nil {
		return nil, err
	}
	return l.b.SnapshotFor(battle.Player(player)), nil
}

// Turns returns the recorded turns from since on.
func (s *BattleService) Turns(ctx context.Context, battleID string, since int) ([]model.Turn, error) {
	rec, err := s.battles.FindByID(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrBattleNotFound
	}
	return s.turns.ListTurns(ctx, battleID, since)
}

// SubmitAction applies an action for player, then lets agent seats reply
// until a human seat is to act or the battle ends. A rejected action
// returns the engine's rejection error and changes nothing.
func (s *BattleService) SubmitAction(ctx context.Context, battleID string, player, action int) (_ *ActionResult, err error) {
	ctx, span := tracer.Start(ctx, "battle.submit_action", trace.WithAttributes(
		attribute.String("battle.id", battleID),
		attribute.Int("player", player),
		attribute.Int("action", action),
	))
	defer func() { telemetry.End(span, err) }()

	var out *ActionResult
	err = s.withLock(ctx, battleID, func() error {
		l, err := s.load(ctx, battleID)
		if err != nil {
			return err
		}
		if l.rec.Status != model.StatusActive || l.b.Outcome().Done() {
			return ErrBattleFinished
		}
		seat := l.rec.SeatFor(player)
		if seat == nil {
			return ErrInvalidPlayer
		}
		if seat.Kind == model.SeatAgent {
			return ErrAgentSeat
		}
		if int(l.b.Active()) != player {
			return ErrNotYourTurn
		}

		res, reward, err := s.apply(ctx, l, action)
		if err != nil {
			return err
		}
		out = &ActionResult{Result: *res, Reward: reward}
		out.Auto, err = s.autoPlay(ctx, l)
		s.resetDeadline(ctx, l)
		out.Outcome = l.b.Outcome()
		out.Active = int(l.b.Active())
		out.Position = battle.EncodeBFEN(l.b)
		return err
	})
	return out, err
}

// Resign ends the battle as a win for player's opponent.
func (s *BattleService) Resign(ctx context.Context, battleID string, player int) (err error) {
	ctx, span := tracer.Start(ctx, "battle.resign", trace.WithAttributes(
		attribute.String("battle.id", battleID),
		attribute.Int("player", player),
	))
	defer func() { telemetry.End(span, err) }()

	if player != 0 && player != 1 {
		return ErrInvalidPlayer
	}
	return s.withLock(ctx, battleID, func() error {
		l, err := s.load(ctx, battleID)
		if err != nil {
			return err
		}
		if l.rec.Status != model.StatusActive || l.b.Outcome().Done() {
			return ErrBattleFinished
		}
		if err := l.b.Resign(battle.Player(player)); err != nil {
			return err
		}
		s.finishWith(ctx, l, l.b.Outcome())
		return nil
	})
}

// ForceTurn plays for a human seat whose deadline has passed. Battles that
// moved on in the meantime are left alone.
func (s *BattleService) ForceTurn(ctx context.Context, battleID string) (err error) {
	ctx, span := tracer.Start(ctx, "battle.force_turn", trace.WithAttributes(attribute.String("battle.id", battleID)))
	defer func() { telemetry.End(span, err) }()

	return s.withLock(ctx, battleID, func() error {
		l, err := s.load(ctx, battleID)
		if err != nil {
			return err
		}
		if l.rec.Status != model.StatusActive || l.b.Outcome().Done() {
			return nil
		}
		seat := l.rec.SeatFor(int(l.b.Active()))
		if seat == nil || seat.Kind != model.SeatHuman {
			return nil
		}
		deadline, err := s.cache.GetDeadline(ctx, battleID)
		if err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().Before(deadline) {
			log.Debug().Str("battleId", battleID).Time("deadline", deadline).Msg("Deadline not yet reached, skipping")
			return nil
		}

		snap := l.b.Snapshot()
		action, err := agent.NewGreedyAgent().Decide(ctx, snap)
		if err != nil {
			return err
		}
		log.Info().Str("battleId", battleID).Int("player", seat.Player).Int("turn", l.b.Turn()).Msg("Turn deadline passed, playing for seat")
		if _, _, err := s.apply(ctx, l, action); err != nil {
			return err
		}
		if _, err := s.autoPlay(ctx, l); err != nil {
			return err
		}
		s.resetDeadline(ctx, l)
		return nil
	})
}

// CheckDeadlines forces the turn of every active battle whose human seat
// is past its deadline. It backs up the keyspace listener.
func (s *BattleService) CheckDeadlines(ctx context.Context) {
	if s.turnTimeout <= 0 {
		return
	}
	active, err := s.battles.List(ctx, model.StatusActive, 0)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active battles")
		return
	}
	for _, rec := range active {
		l, err := s.load(ctx, rec.ID)
		if err != nil {
			log.Error().Err(err).Str("battleId", rec.ID).Msg("Failed to load battle for deadline check")
			continue
		}
		seat := l.rec.SeatFor(int(l.b.Active()))
		if seat == nil || seat.Kind != model.SeatHuman || l.b.Outcome().Done() {
			continue
		}
		deadline, err := s.cache.GetDeadline(ctx, rec.ID)
		if err != nil || (!deadline.IsZero() && time.Now().Before(deadline)) {
			continue
		}
		log.Info().Str("battleId", rec.ID).Msg("Poller forcing expired turn")
		if err := s.ForceTurn(ctx, rec.ID); err != nil && !errors.Is(err, ErrBattleBusy) {
			log.Error().Err(err).Str("battleId", rec.ID).Msg("Forced turn failed from poller")
		}
	}
}

// RecoverActiveBattles rehydrates Redis from Postgres after a restart and
// resumes agent play.
func (s *BattleService) RecoverActiveBattles(ctx context.Context) error {
	active, err := s.battles.List(ctx, model.StatusActive, 0)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		log.Info().Msg("No active battles to recover")
		return nil
	}
	log.Info().Int("count", len(active)).Msg("Recovering active battles after restart")

	for _, rec := range active {
		l, err := s.load(ctx, rec.ID)
		if err != nil {
			log.Error().Err(err).Str("battleId", rec.ID).Msg("Failed to load battle during recovery")
			continue
		}
		if err := s.cache.SetPosition(ctx, rec.ID, battle.EncodeBFEN(l.b)); err != nil {
			log.Error().Err(err).Str("battleId", rec.ID).Msg("Failed to restore position")
			continue
		}
		if l.b.Outcome().Done() {
			s.finish(ctx, l)
			continue
		}
		if !hasHuman(l.rec.Seats) {
			go s.playOut(context.WithoutCancel(ctx), rec.ID)
			continue
		}
		err = s.withLock(ctx, rec.ID, func() error {
			if _, err := s.autoPlay(ctx, l); err != nil {
				return err
			}
			s.resetDeadline(ctx, l)
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("battleId", rec.ID).Msg("Failed to resume battle")
			continue
		}
		log.Info().Str("battleId", rec.ID).Int("turn", l.b.Turn()).Msg("Battle recovered")
	}
	return nil
}

// load reads a battle record and rebuilds its engine state from the cached
// position, falling back to the last recorded turn and then the opening.
func (s *BattleService) load(ctx context.Context, battleID string) (*live, error) {
	rec, err := s.battles.FindByID(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrBattleNotFound
	}
	var rules battle.Rules
	if err := json.Unmarshal(rec.Rules, &rules); err != nil {
		return nil, fmt.Errorf("decode rules of battle %s: %w", battleID, err)
	}

	pos, err := s.cache.GetPosition(ctx, battleID)
	if err != nil {
		log.Warn().Err(err).Str("battleId", battleID).Msg("Position cache unavailable, reading history")
		pos = ""
	}
	if pos == "" {
		last, err := s.turns.LastTurn(ctx, battleID)
		if err != nil {
			return nil, err
		}
		pos = rec.Opening
		if last != nil {
			pos = last.Position
		}
	}
	b, err := battle.DecodeBFEN(pos, rules)
	if err != nil {
		return nil, fmt.Errorf("decode position of battle %s: %w", battleID, err)
	}
	// A resignation ends the battle without a turn, so history holds the
	// position before it.
	if rec.Status == model.StatusFinished && rec.Reason == battle.ReasonResignation && rec.Winner != nil && !b.Outcome().Done() {
		if err := b.Resign(battle.Player(*rec.Winner).Other()); err != nil {
			return nil, fmt.Errorf("replay resignation of battle %s: %w", battleID, err)
		}
	}
	return &live{rec: rec, b: b}, nil
}

func (s *BattleService) view(ctx context.Context, l *live) *BattleView {
	v := &BattleView{Battle: *l.rec, Position: battle.EncodeBFEN(l.b), Active: int(l.b.Active())}
	if l.rec.Status == model.StatusActive {
		if d, err := s.cache.GetDeadline(ctx, l.rec.ID); err == nil && !d.IsZero() {
			v.Deadline = &d
		}
	}
	return v
}

// withLock runs fn holding the battle's Redis lock.
func (s *BattleService) withLock(ctx context.Context, battleID string, fn func() error) error {
	token := newLockToken()
	ok, err := s.cache.Lock(ctx, battleID, token, lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBattleBusy
	}
	defer func() {
		if err := s.cache.Unlock(context.WithoutCancel(ctx), battleID, token); err != nil {
			log.Warn().Err(err).Str("battleId", battleID).Msg("Failed to release battle lock")
		}
	}()
	return fn()
}

func newLockToken() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("lock-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// apply steps action for the side to act and records the turn. The cached
// position only moves once the turn is stored.
func (s *BattleService) apply(ctx context.Context, l *live, action int) (*battle.StepResult, float64, error) {
	before := l.b.Snapshot()
	res, err := l.b.Step(action)
	if err != nil {
		return nil, 0, err
	}
	reward := agent.Reward(before, &res)

	data, err := json.Marshal(res)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal step: %w", err)
	}
	pos := battle.EncodeBFEN(l.b)
	t := &model.Turn{
		BattleID: l.rec.ID,
		Turn:     res.Turn,
		Player:   int(res.Player),
		Action:   res.Action,
		Result:   data,
		Reward:   reward,
		Position: pos,
	}
	if err := s.turns.SaveTurn(ctx, t); err != nil {
		return nil, 0, fmt.Errorf("save turn %d: %w", res.Turn, err)
	}
	if err := s.battles.UpdateTurn(ctx, l.rec.ID, l.b.Turn()); err != nil {
		return nil, 0, fmt.Errorf("update turn: %w", err)
	}
	l.rec.Turn = l.b.Turn()
	if err := s.cache.SetPosition(ctx, l.rec.ID, pos); err != nil {
		log.Warn().Err(err).Str("battleId", l.rec.ID).Msg("Failed to cache position")
	}

	s.broadcaster.BroadcastBattleEvent(l.rec.ID, EventTurn, TurnEvent{
		Turn:     res.Turn,
		Player:   int(res.Player),
		Action:   res.Action,
		Reward:   reward,
		Result:   res,
		Position: pos,
		Active:   int(l.b.Active()),
	})
	if res.Terminal() {
		s.finish(ctx, l)
	}
	return &res, reward, nil
}

// autoPlay lets agent seats act until a human seat is to act or the battle
// ends.
func (s *BattleService) autoPlay(ctx context.Context, l *live) ([]battle.StepResult, error) {
	var out []battle.StepResult
	for {
		res, err := s.autoStep(ctx, l)
		if err != nil || res == nil {
			return out, err
		}
		out = append(out, *res)
	}
}

// autoStep plays one action for an agent seat. It returns nil when no
// agent seat is to act. An agent that fails or answers with an illegal
// action is replaced by greedy play for that turn.
func (s *BattleService) autoStep(ctx context.Context, l *live) (*battle.StepResult, error) {
	if l.rec.Status != model.StatusActive || l.b.Outcome().Done() {
		return nil, nil
	}
	seat := l.rec.SeatFor(int(l.b.Active()))
	if seat == nil || seat.Kind != model.SeatAgent {
		return nil, nil
	}

	snap := l.b.Snapshot()
	a, err := s.seatAgent(l.rec.ID, seat)
	action := -1
	if err == nil {
		dctx, span := tracer.Start(ctx, "agent.decide", trace.WithAttributes(
			attribute.String("battle.id", l.rec.ID),
			attribute.String("agent", seat.Agent),
			attribute.Int("turn", l.b.Turn()),
		))
		dctx, cancel := context.WithTimeout(dctx, agentDecideTimeout)
		action, err = a.Decide(dctx, snap)
		cancel()
		span.SetAttributes(attribute.Int("action", action))
		telemetry.End(span, err)
	}
	if err != nil || !snap.IsLegal(action) {
		log.Warn().Err(err).Str("battleId", l.rec.ID).Int("player", seat.Player).Int("action", action).
			Msg("Agent failed to produce a legal action, playing greedy")
		if action, err = agent.NewGreedyAgent().Decide(ctx, snap); err != nil {
			return nil, err
		}
	}
	res, _, err := s.apply(ctx, l, action)
	return res, err
}

// playOut runs a battle with no human seat to the end, one locked step at
// a time so readers and the deadline poller are never starved.
func (s *BattleService) playOut(ctx context.Context, battleID string) {
	for {
		done := false
		err := s.withLock(ctx, battleID, func() error {
			l, err := s.load(ctx, battleID)
			if err != nil {
				return err
			}
			res, err := s.autoStep(ctx, l)
			done = res == nil || l.b.Outcome().Done()
			return err
		})
		switch {
		case errors.Is(err, ErrBattleBusy):
			time.Sleep(50 * time.Millisecond)
		case err != nil:
			log.Error().Err(err).Str("battleId", battleID).Msg("Agent battle stopped")
			s.abort(ctx, battleID, err.Error())
			return
		case done:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *BattleService) seatAgent(battleID string, seat *model.Seat) (agent.Agent, error) {
	key := fmt.Sprintf("%s/%d", battleID, seat.Player)
	if v, ok := s.agents.Load(key); ok {
		return v.(agent.Agent), nil
	}
	a, err := s.newAgent(seat.Agent, 0)
	if err != nil {
		return nil, err
	}
	if v, loaded := s.agents.LoadOrStore(key, a); loaded {
		agent.Close(a)
		return v.(agent.Agent), nil
	}
	return a, nil
}

func (s *BattleService) releaseAgents(battleID string) {
	for p := 0; p < 2; p++ {
		if v, ok := s.agents.LoadAndDelete(fmt.Sprintf("%s/%d", battleID, p)); ok {
			agent.Close(v.(agent.Agent))
		}
	}
}

// resetDeadline starts the clock for a human seat to act and clears it
// otherwise.
func (s *BattleService) resetDeadline(ctx context.Context, l *live) {
	if l.b.Outcome().Done() || l.rec.Status != model.StatusActive {
		return
	}
	seat := l.rec.SeatFor(int(l.b.Active()))
	var err error
	if s.turnTimeout > 0 && seat != nil && seat.Kind == model.SeatHuman {
		err = s.cache.SetDeadline(ctx, l.rec.ID, time.Now().Add(s.turnTimeout))
	} else {
		err = s.cache.ClearDeadline(ctx, l.rec.ID)
	}
	if err != nil {
		log.Warn().Err(err).Str("battleId", l.rec.ID).Msg("Failed to update turn deadline")
	}
}

func (s *BattleService) finish(ctx context.Context, l *live) {
	s.finishWith(ctx, l, l.b.Outcome())
}

func (s *BattleService) finishWith(ctx context.Context, l *live, o battle.Outcome) {
	winner := agent.WinnerOf(o)
	if err := s.battles.SetFinished(ctx, l.rec.ID, winner, o.Kind.String(), o.Reason); err != nil {
		log.Error().Err(err).Str("battleId", l.rec.ID).Msg("Failed to mark battle finished")
	}
	l.rec.Status = model.StatusFinished
	l.rec.Winner = winner
	l.rec.Outcome = o.Kind.String()
	l.rec.Reason = o.Reason
	if err := s.cache.DeleteBattleData(context.WithoutCancel(ctx), l.rec.ID); err != nil {
		log.Warn().Err(err).Str("battleId", l.rec.ID).Msg("Failed to clear live battle data")
	}
	s.releaseAgents(l.rec.ID)

	log.Info().Str("battleId", l.rec.ID).Str("outcome", o.String()).Str("reason", o.Reason).
		Int("turns", l.b.Turn()).Msg("Battle finished")
	s.broadcaster.BroadcastBattleEvent(l.rec.ID, EventBattleFinished, FinishedEvent{Outcome: o, Turns: l.b.Turn()})
}

func (s *BattleService) abort(ctx context.Context, battleID, reason string) {
	if err := s.battles.SetAborted(ctx, battleID, reason); err != nil {
		log.Error().Err(err).Str("battleId", battleID).Msg("Failed to mark battle aborted")
	}
	if err := s.cache.DeleteBattleData(ctx, battleID); err != nil {
		log.Warn().Err(err).Str("battleId", battleID).Msg("Failed to clear live battle data")
	}
	s.releaseAgents(battleID)
	s.broadcaster.BroadcastBattleEvent(battleID, EventBattleFinished, FinishedEvent{
		Outcome: battle.Outcome{Kind: battle.Ongoing, Winner: battle.NoPlayer, Reason: reason},
	})
}
