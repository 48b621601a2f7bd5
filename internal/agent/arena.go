package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/model"
	"github.com/freeeve/kriegsim/internal/repository"
	"github.com/freeeve/kriegsim/pkg/battle"
)

// DefaultMaxRejects is the number of consecutive failed decisions after
// which an arena battle is abandoned.
const DefaultMaxRejects = 16

// ErrRejectBudget is returned when an agent keeps failing to produce an
// accepted action.
var ErrRejectBudget = errors.New("arena: rejection budget exhausted")

// ArenaConfig configures a single agent-vs-agent battle.
type ArenaConfig struct {
	Name     string
	Scenario string    // recorded on the saved battle
	Seats    [2]string // agent kind per player
	// Agents overrides Seats for players whose entry is non-nil.
	Agents     [2]Agent
	Rules      battle.Rules
	Deployment battle.Deployment // empty means battle.DefaultDeployment
	// RandomTerrain replaces the deployment's terrain with a generated
	// layout drawn from Seed.
	RandomTerrain bool
	Seed          int64 // 0 = random
	MaxRejects    int   // 0 = DefaultMaxRejects
	DecideTimeout time.Duration
	DryRun        bool // skip DB writes
}

// ArenaResult describes the outcome of a completed arena battle.
type ArenaResult struct {
	BattleID   string         `json:"battleId,omitempty"`
	Agents     [2]string      `json:"agents"`
	Outcome    battle.Outcome `json:"outcome"`
	Turns      int            `json:"turns"`
	Rejections int            `json:"rejections"`
	Rewards    [2]float64     `json:"rewards"`
	Duration   time.Duration  `json:"duration"`
}

// RunBattle plays one battle to a terminal outcome, saving the battle and
// every accepted turn. Pass nil repos for dry-run mode.
func RunBattle(
	ctx context.Context,
	cfg ArenaConfig,
	battleRepo repository.BattleRepository,
	turnRepo repository.TurnRepository,
) (*ArenaResult, error) {
	if cfg.MaxRejects <= 0 {
		cfg.MaxRejects = DefaultMaxRejects
	}
	if cfg.DecideTimeout <= 0 {
		cfg.DecideTimeout = 30 * time.Second
	}
	persist := !cfg.DryRun && battleRepo != nil && turnRepo != nil
	start := time.Now()

	agents, err := seatAgents(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		for p, a := range agents {
			if cfg.Agents[p] == nil {
				Close(a)
			}
		}
	}()

	d := cfg.Deployment
	if len(d.Units) == 0 {
		d = battle.DefaultDeployment()
	}
	if cfg.RandomTerrain {
		d.Terrain = battle.GenerateTerrain(rand.New(rand.NewSource(cfg.Seed)))
	}
	b, err := battle.New(d, cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("setup battle: %w", err)
	}

	result := &ArenaResult{Agents: [2]string{agents[0].Name(), agents[1].Name()}}
	if persist {
		result.BattleID, err = createArenaBattle(ctx, cfg, b, agents, battleRepo)
		if err != nil {
			return nil, fmt.Errorf("create arena battle: %w", err)
		}
	}
	logger := log.With().Str("battleId", result.BattleID).Logger()

	rejects := 0
	for !b.Outcome().Done() {
		if err := ctx.Err(); err != nil {
			abort(ctx, persist, battleRepo, result.BattleID, "cancelled")
			return nil, err
		}

		p := b.Active()
		snap := b.Snapshot()
		dctx, cancel := context.WithTimeout(ctx, cfg.DecideTimeout)
		action, err := agents[p].Decide(dctx, snap)
		cancel()

		var res battle.StepResult
		if err == nil {
			res, err = b.Step(action)
		}
		if err != nil {
			rejects++
			result.Rejections++
			result.Rewards[p] += RewardRejected
			logger.Debug().Err(err).Int("turn", b.Turn()).Stringer("player", p).Int("action", action).Msg("Arena action rejected")
			if rejects >= cfg.MaxRejects {
				abort(ctx, persist, battleRepo, result.BattleID, ErrRejectBudget.Error())
				return nil, fmt.Errorf("%w: %s failed %d times in a row at turn %d: %v",
					ErrRejectBudget, agents[p].Name(), rejects, b.Turn(), err)
			}
			continue
		}
		rejects = 0

		reward := Reward(snap, &res)
		result.Rewards[p] += reward
		if persist {
			if err := saveTurn(ctx, turnRepo, battleRepo, result.BattleID, b, &res, reward); err != nil {
				return nil, err
			}
		}
	}

	result.Outcome = b.Outcome()
	result.Turns = b.Turn()
	result.Duration = time.Since(start)
	if persist {
		if err := battleRepo.SetFinished(ctx, result.BattleID, WinnerOf(result.Outcome), result.Outcome.Kind.String(), result.Outcome.Reason); err != nil {
			return nil, fmt.Errorf("set finished: %w", err)
		}
	}
	logger.Info().Str("outcome", result.Outcome.String()).Str("reason", result.Outcome.Reason).
		Int("turns", result.Turns).Msg("Arena battle finished")
	return result, nil
}

// WinnerOf returns the winning player, or nil for a draw or an ongoing
// battle.
func WinnerOf(o battle.Outcome) *int {
	if o.Kind != battle.Win {
		return nil
	}
	w := int(o.Winner)
	return &w
}

func seatAgents(cfg ArenaConfig) ([2]Agent, error) {
	var agents [2]Agent
	for p := range agents {
		if cfg.Agents[p] != nil {
			agents[p] = cfg.Agents[p]
			continue
		}
		seed := cfg.Seed
		if seed != 0 {
			seed += int64(p) + 1
		}
		a, err := ForKind(cfg.Seats[p], seed)
		if err != nil {
			return agents, fmt.Errorf("seat %d: %w", p, err)
		}
		agents[p] = a
	}
	return agents, nil
}

func createArenaBattle(ctx context.Context, cfg ArenaConfig, b *battle.Battle, agents [2]Agent, repo repository.BattleRepository) (string, error) {
	rules, err := json.Marshal(b.Rules())
	if err != nil {
		return "", fmt.Errorf("marshal rules: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = "arena"
	}
	created, err := repo.Create(ctx, &model.Battle{
		Name:     name,
		Scenario: cfg.Scenario,
		Rules:    rules,
		Opening:  battle.EncodeBFEN(b),
		Seats: []model.Seat{
			{Player: 0, Kind: model.SeatAgent, Agent: agents[0].Name()},
			{Player: 1, Kind: model.SeatAgent, Agent: agents[1].Name()},
		},
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func saveTurn(ctx context.Context, turns repository.TurnRepository, battles repository.BattleRepository, battleID string, b *battle.Battle, res *battle.StepResult, reward float64) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal step: %w", err)
	}
	t := &model.Turn{
		BattleID: battleID,
		Turn:     res.Turn,
		Player:   int(res.Player),
		Action:   res.Action,
		Result:   data,
		Reward:   reward,
		Position: battle.EncodeBFEN(b),
	}
	if err := turns.SaveTurn(ctx, t); err != nil {
		return fmt.Errorf("save turn %d: %w", res.Turn, err)
	}
	if err := battles.UpdateTurn(ctx, battleID, b.Turn()); err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	return nil
}

func abort(ctx context.Context, persist bool, repo repository.BattleRepository, battleID, reason string) {
	if !persist {
		return
	}
	// the battle's own context may be the one that was cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := repo.SetAborted(ctx, battleID, reason); err != nil {
		log.Error().Err(err).Str("battleId", battleID).Msg("Failed to mark arena battle aborted")
	}
}
