package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/agent"
	"github.com/freeeve/kriegsim/internal/logger"
	"github.com/freeeve/kriegsim/internal/model"
)

func main() {
	url := flag.String("url", "http://localhost:8009", "server base URL")
	seatCfg := flag.String("p", "0=greedy", "locally played seats (e.g. 0=greedy,1=random)")
	serverAgent := flag.String("server-agent", agent.KindGreedy, "agent kind for seats not played locally")
	scenarioName := flag.String("scenario", "", "scenario for a new battle")
	maxTurns := flag.Int("max-turns", 0, "turn ceiling for a new battle (0 = scenario default)")
	token := flag.String("token", "", "join an existing battle with this seat token instead of creating one")
	seed := flag.Int64("seed", 0, "agent seed (0 = random)")
	poll := flag.Duration("poll", 2*time.Second, "poll interval when no event arrives")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	logger.Init(logger.Options{Level: level, Out: os.Stderr, Pretty: true})
	agent.EnginePath = os.Getenv("AGENT_ENGINE_PATH")
	agent.ModelPath = os.Getenv("ONNX_MODEL_PATH")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()

	kinds, err := agent.ParseSeatConfig(*seatCfg, "")
	if err != nil {
		log.Fatal().Err(err).Msg("Bad seat config")
	}

	client := agent.NewClient(*url)
	var battleID string
	if *token != "" {
		id, player, err := agent.SeatFromToken(*token)
		if err != nil {
			log.Fatal().Err(err).Msg("Bad seat token")
		}
		client.SetToken(player, *token)
		if kinds[player] == "" {
			kinds[player] = agent.KindGreedy
		}
		kinds[1-player] = ""
		battleID = id
	} else {
		req := agent.CreateRequest{Scenario: *scenarioName, MaxTurns: *maxTurns}
		for p, kind := range kinds {
			if kind != "" {
				req.Seats = append(req.Seats, agent.SeatRequest{Player: p, Kind: model.SeatHuman})
			} else {
				req.Seats = append(req.Seats, agent.SeatRequest{Player: p, Kind: model.SeatAgent, Agent: *serverAgent})
			}
		}
		info, err := client.CreateBattle(ctx, req)
		if err != nil {
			log.Fatal().Err(err).Msg("Creating battle failed")
		}
		battleID = info.ID
		log.Info().Str("battleId", battleID).Str("scenario", info.Scenario).Msg("Battle created")
	}

	agents := make(map[int]agent.Agent)
	for p, kind := range kinds {
		if kind == "" {
			continue
		}
		s := *seed
		if s != 0 {
			s += int64(p)
		}
		a, err := agent.ForKind(kind, s)
		if err != nil {
			log.Fatal().Err(err).Int("player", p).Msg("Creating agent failed")
		}
		defer agent.Close(a)
		agents[p] = a
	}
	if len(agents) == 0 {
		log.Fatal().Msg("No seat to play")
	}

	orch := agent.NewOrchestrator(client, battleID, agents)
	orch.PollInterval = *poll
	res, err := orch.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Bot orchestrator failed")
	}
	ev := log.Info().Str("battleId", res.BattleID).Str("status", res.Status).Str("outcome", res.Outcome).
		Str("reason", res.Reason).Int("turns", res.Turns).Int("actions", res.Actions).Int("rejects", res.Rejects)
	if res.Winner != nil {
		ev = ev.Int("winner", *res.Winner)
	}
	ev.Msg("Bot battle completed")
}
