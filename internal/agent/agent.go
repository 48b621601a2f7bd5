// Package agent holds the decision makers that play battles and the
// drivers that run them: the local arena and the remote orchestrator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/pkg/battle"
)

// Agent picks one action index per call for the side named in the
// snapshot. It sees nothing but the snapshot.
type Agent interface {
	Name() string
	Decide(ctx context.Context, s *battle.Snapshot) (int, error)
}

// ErrNoLegalActions is returned when a snapshot offers nothing to play,
// either because the battle is over or the side is not to act.
var ErrNoLegalActions = errors.New("agent: no legal actions")

// Agent kinds accepted by ForKind.
const (
	KindRandom  = "random"
	KindGreedy  = "greedy"
	KindProcess = "process"
	KindOnnx    = "onnx"
)

// EnginePath is the agent binary used by the "process" kind. Set it at
// startup before creating agents.
var EnginePath string

// ModelPath is the ONNX policy model used by the "onnx" kind.
var ModelPath string

// ForKind returns an agent of the given kind. Kinds that need an external
// resource fall back to greedy when it is missing, so a battle can always
// proceed.
func ForKind(kind string, seed int64) (Agent, error) {
	switch kind {
	case KindRandom:
		return NewRandomAgent(seed), nil
	case KindGreedy, "":
		return NewGreedyAgent(), nil
	case KindProcess, "external":
		if EnginePath == "" {
			log.Warn().Str("kind", kind).Msg("agent: EnginePath not set, falling back to greedy")
			return NewGreedyAgent(), nil
		}
		return NewProcessAgent(EnginePath), nil
	case KindOnnx:
		a, err := NewOnnxAgent(ModelPath)
		if err != nil {
			log.Warn().Err(err).Str("model", ModelPath).Msg("agent: onnx model load failed, falling back to greedy")
			return NewGreedyAgent(), nil
		}
		return a, nil
	}
	return nil, fmt.Errorf("agent: unknown kind %q", kind)
}

// ParseSeatConfig reads "0=greedy,1=random" into a kind per player.
// Players left out get defaultKind.
func ParseSeatConfig(s, defaultKind string) ([2]string, error) {
	seats := [2]string{defaultKind, defaultKind}
	if strings.TrimSpace(s) == "" {
		return seats, nil
	}
	for _, part := range strings.Split(s, ",") {
		player, kind, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || kind == "" {
			return seats, fmt.Errorf("invalid seat %q (want player=kind)", part)
		}
		switch player {
		case "0", "p0":
			seats[0] = kind
		case "1", "p1":
			seats[1] = kind
		default:
			return seats, fmt.Errorf("invalid player %q", player)
		}
	}
	return seats, nil
}

// closer is implemented by agents holding a process or model.
type closer interface {
	Close() error
}

// Close releases the resources of a if it holds any.
func Close(a Agent) error {
	if c, ok := a.(closer); ok {
		return c.Close()
	}
	return nil
}
