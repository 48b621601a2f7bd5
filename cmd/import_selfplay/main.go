// Command import_selfplay reads self-play JSONL battle records, replays
// them through the engine and stores them in Postgres or SQLite so they can
// be browsed through the API like hosted battles.
//
// Usage:
//
//	go run ./cmd/import_selfplay/ --input battles.jsonl --db postgres://...
//	go run ./cmd/import_selfplay/ --input battles.jsonl --sqlite kriegsim.db
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/agent"
	"github.com/freeeve/kriegsim/internal/logger"
	"github.com/freeeve/kriegsim/internal/model"
	"github.com/freeeve/kriegsim/internal/repository"
	"github.com/freeeve/kriegsim/internal/repository/postgres"
	"github.com/freeeve/kriegsim/internal/repository/sqlite"
	"github.com/freeeve/kriegsim/pkg/battle"
)

// battleRecord is one line of self-play output.
type battleRecord struct {
	BattleID int           `json:"battle_id"`
	Opening  string        `json:"opening,omitempty"` // BFEN; empty means the default deployment
	Rules    *battle.Rules `json:"rules,omitempty"`
	Agents   [2]string     `json:"agents"`
	Actions  []int         `json:"actions"`
	// Winner is checked against the replay when set; -1 means a draw.
	Winner *int `json:"winner,omitempty"`
}

// replayed is a record after it went through the engine.
type replayed struct {
	opening string
	rules   battle.Rules
	turns   []model.Turn
	final   int // turn counter after the last action
	outcome battle.Outcome
}

var errNotFinished = errors.New("battle did not reach an outcome")

func main() {
	inputFile := flag.String("input", "", "Path to JSONL file")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	sqlitePath := flag.String("sqlite", "", "SQLite file to import into instead of Postgres")
	namePrefix := flag.String("name-prefix", "selfplay", "Battle name prefix")
	flag.Parse()

	logger.Init(logger.Options{Out: os.Stderr})
	if *inputFile == "" {
		log.Fatal().Msg("--input is required")
	}

	var (
		battles repository.BattleRepository
		turns   repository.TurnRepository
	)
	switch {
	case *sqlitePath != "":
		store, err := sqlite.Open(*sqlitePath)
		if err != nil {
			log.Fatal().Err(err).Msg("SQLite open failed")
		}
		defer store.Close()
		battles, turns = store, store
	case *dbURL != "":
		db, err := postgres.Connect(*dbURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()
		battles, turns = postgres.NewBattleRepo(db), postgres.NewTurnRepo(db)
	default:
		log.Fatal().Msg("--db, --sqlite or DATABASE_URL is required")
	}

	f, err := os.Open(*inputFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Opening input failed")
	}
	defer f.Close()

	imported, err := importAll(context.Background(), f, battles, turns, *namePrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("Reading input failed")
	}
	log.Info().Int("imported", imported).Msg("Import done")
}

// importAll imports every record in r, skipping the ones that fail.
func importAll(ctx context.Context, r io.Reader, battles repository.BattleRepository, turns repository.TurnRepository, prefix string) (int, error) {
	scanner := bufio.NewScanner(r)
	// Self-play records can be large.
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	imported := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var rec battleRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn().Err(err).Msg("Skipping line with bad JSON")
			continue
		}

		name := fmt.Sprintf("%s-%03d", prefix, rec.BattleID)
		id, err := importBattle(ctx, battles, turns, rec, name)
		if err != nil {
			log.Error().Err(err).Int("record", rec.BattleID).Msg("Import failed")
			continue
		}
		imported++
		log.Info().Int("record", rec.BattleID).Str("name", name).Str("battleId", id).
			Int("turns", len(rec.Actions)).Msg("Imported battle")
	}
	return imported, scanner.Err()
}

// replay runs the recorded actions through the engine.
func replay(rec battleRecord) (*replayed, error) {
	rules := battle.DefaultRules()
	if rec.Rules != nil {
		rules = *rec.Rules
	}

	var (
		b   *battle.Battle
		err error
	)
	if rec.Opening != "" {
		b, err = battle.DecodeBFEN(rec.Opening, rules)
	} else {
		b, err = battle.New(battle.DefaultDeployment(), rules)
	}
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	out := &replayed{opening: battle.EncodeBFEN(b), rules: b.Rules()}
	for i, action := range rec.Actions {
		if b.Outcome().Done() {
			return nil, fmt.Errorf("action %d after the battle ended at turn %d", i, b.Turn())
		}
		snap := b.Snapshot()
		res, err := b.Step(action)
		if err != nil {
			return nil, fmt.Errorf("action %d (%d): %w", i, action, err)
		}
		data, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal step %d: %w", i, err)
		}
		out.turns = append(out.turns, model.Turn{
			Turn:     res.Turn,
			Player:   int(res.Player),
			Action:   action,
			Result:   data,
			Reward:   agent.Reward(snap, &res),
			Position: battle.EncodeBFEN(b),
		})
	}

	out.final = b.Turn()
	out.outcome = b.Outcome()
	if !out.outcome.Done() {
		return nil, errNotFinished
	}
	if rec.Winner != nil {
		got := -1
		if w := agent.WinnerOf(out.outcome); w != nil {
			got = *w
		}
		if got != *rec.Winner {
			return nil, fmt.Errorf("recorded winner %d, replay gives %s", *rec.Winner, out.outcome)
		}
	}
	return out, nil
}

// importBattle replays rec and stores the battle, its turns and outcome.
func importBattle(ctx context.Context, battles repository.BattleRepository, turns repository.TurnRepository, rec battleRecord, name string) (string, error) {
	r, err := replay(rec)
	if err != nil {
		return "", err
	}
	rules, err := json.Marshal(r.rules)
	if err != nil {
		return "", fmt.Errorf("marshal rules: %w", err)
	}

	seats := make([]model.Seat, 2)
	for p := range seats {
		kind := rec.Agents[p]
		if kind == "" {
			kind = "selfplay"
		}
		seats[p] = model.Seat{Player: p, Kind: model.SeatAgent, Agent: kind}
	}
	created, err := battles.Create(ctx, &model.Battle{
		Name:    name,
		Rules:   rules,
		Opening: r.opening,
		Seats:   seats,
	})
	if err != nil {
		return "", fmt.Errorf("create battle: %w", err)
	}

	for i := range r.turns {
		t := r.turns[i]
		t.BattleID = created.ID
		if err := turns.SaveTurn(ctx, &t); err != nil {
			return "", fmt.Errorf("save turn %d: %w", t.Turn, err)
		}
	}
	if err := battles.UpdateTurn(ctx, created.ID, r.final); err != nil {
		return "", fmt.Errorf("update turn: %w", err)
	}
	if err := battles.SetFinished(ctx, created.ID, agent.WinnerOf(r.outcome), r.outcome.Kind.String(), r.outcome.Reason); err != nil {
		return "", fmt.Errorf("set finished: %w", err)
	}
	return created.ID, nil
}
