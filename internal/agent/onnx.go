package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gonnx "github.com/advancedclimatesystems/gonnx"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"

	"github.com/freeeve/kriegsim/pkg/battle"
)

// Model input and output names.
const (
	onnxInput  = "state"
	onnxOutput = "q_values"
)

// OnnxAgent runs a policy network over the snapshot planes and plays the
// legal action with the highest Q-value. The network takes a
// [1, 4, 20, 20] float32 state and returns ActionSpace values.
type OnnxAgent struct {
	path   string
	model  *gonnx.Model
	mu     sync.Mutex
	backup Agent
}

// NewOnnxAgent loads the model at path.
func NewOnnxAgent(path string) (*OnnxAgent, error) {
	if path == "" {
		return nil, errors.New("no model path")
	}
	m, err := gonnx.NewModelFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &OnnxAgent{path: path, model: m, backup: NewGreedyAgent()}, nil
}

func (*OnnxAgent) Name() string { return KindOnnx }

// Decide falls back to greedy play when inference fails.
func (a *OnnxAgent) Decide(ctx context.Context, s *battle.Snapshot) (int, error) {
	if len(s.Legal) == 0 {
		return -1, ErrNoLegalActions
	}
	q, err := a.qValues(s)
	if err != nil {
		log.Warn().Err(err).Int("turn", s.Turn).Msg("agent/onnx: inference failed, playing greedy")
		return a.backup.Decide(ctx, s)
	}
	action, ok := bestLegal(q, s.Legal)
	if !ok {
		log.Warn().Int("outputs", len(q)).Msg("agent/onnx: output does not cover the action space, playing greedy")
		return a.backup.Decide(ctx, s)
	}
	return action, nil
}

func (a *OnnxAgent) qValues(s *battle.Snapshot) ([]float32, error) {
	state := tensor.New(
		tensor.WithShape(1, battle.NumPlanes, battle.BoardSize, battle.BoardSize),
		tensor.Of(tensor.Float32),
		tensor.WithBacking(s.Flatten()),
	)

	a.mu.Lock()
	outputs, err := a.model.Run(gonnx.Tensors{onnxInput: state})
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("policy run: %w", err)
	}

	out, ok := outputs[onnxOutput]
	if !ok {
		for _, v := range outputs {
			out = v
			break
		}
	}
	if out == nil {
		return nil, errors.New("no output tensor")
	}
	switch d := out.Data().(type) {
	case []float32:
		return d, nil
	case []float64:
		f32 := make([]float32, len(d))
		for i, v := range d {
			f32[i] = float32(v)
		}
		return f32, nil
	}
	return nil, fmt.Errorf("unexpected output type %T", out.Data())
}

// bestLegal is the argmax of q over the legal actions. Ties go to the
// lower index.
func bestLegal(q []float32, legal []int) (int, bool) {
	best, found := -1, false
	var bestQ float32
	for _, a := range legal {
		if a < 0 || a >= len(q) {
			return -1, false
		}
		if !found || q[a] > bestQ {
			best, bestQ, found = a, q[a], true
		}
	}
	return best, found
}
