// Command agent speaks BAI on stdin/stdout and plays with one of the
// built-in agents. Logs go to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/agent"
	"github.com/freeeve/kriegsim/internal/logger"
	"github.com/freeeve/kriegsim/pkg/bai"
	"github.com/freeeve/kriegsim/pkg/battle"
)

// switchable is a bai.Decider whose agent can be replaced by setoption.
type switchable struct {
	mu    sync.Mutex
	kind  string
	seed  int64
	agent agent.Agent
}

func (s *switchable) Decide(ctx context.Context, snap *battle.Snapshot) (int, error) {
	s.mu.Lock()
	a := s.agent
	s.mu.Unlock()
	return a.Decide(ctx, snap)
}

func (s *switchable) rebuild() error {
	a, err := agent.ForKind(s.kind, s.seed)
	if err != nil {
		return err
	}
	if s.agent != nil {
		agent.Close(s.agent)
	}
	s.agent = a
	return nil
}

func (s *switchable) setOption(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "Kind":
		if value == agent.KindProcess {
			return fmt.Errorf("kind %q cannot run inside an agent", value)
		}
		s.kind = value
	case "Seed":
		seed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		s.seed = seed
	case "Model":
		agent.ModelPath = value
	default:
		return fmt.Errorf("unknown option %q", name)
	}
	return s.rebuild()
}

func main() {
	kind := flag.String("kind", agent.KindGreedy, "agent kind (random, greedy, onnx)")
	seed := flag.Int64("seed", 0, "seed for the random agent (0 = random)")
	model := flag.String("model", os.Getenv("ONNX_MODEL_PATH"), "ONNX policy model for the onnx kind")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger.Init(logger.Options{Level: *level, Out: os.Stderr})
	agent.ModelPath = *model

	if *kind == agent.KindProcess {
		log.Fatal().Msg("The process kind cannot run inside an agent")
	}
	d := &switchable{kind: *kind, seed: *seed}
	if err := d.rebuild(); err != nil {
		log.Fatal().Err(err).Msg("Creating agent failed")
	}
	defer func() { agent.Close(d.agent) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	a := bai.Agent{
		ID: bai.AgentID{Name: "kriegsim-" + *kind, Author: "kriegsim", ProtocolVersion: 1},
		Options: []bai.Option{
			{Name: "Kind", Type: "combo", Default: *kind, Vars: []string{agent.KindRandom, agent.KindGreedy, agent.KindOnnx}},
			{Name: "Seed", Type: "spin", Default: strconv.FormatInt(*seed, 10), Min: "0", Max: "2147483647"},
			{Name: "Model", Type: "string", Default: *model},
		},
		Rules:    battle.DefaultRules(),
		Decider:  d,
		OnOption: d.setOption,
	}
	if err := bai.Serve(ctx, os.Stdin, os.Stdout, a); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("BAI session ended with an error")
		os.Exit(1)
	}
}
