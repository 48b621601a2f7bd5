package agent

import (
	"context"
	"math/rand"
	"sync"

	"github.com/freeeve/kriegsim/pkg/battle"
)

// RandomAgent plays a uniformly random legal action.
type RandomAgent struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomAgent returns a random agent. Equal non-zero seeds give equal
// play.
func NewRandomAgent(seed int64) *RandomAgent {
	return &RandomAgent{rng: newRng(seed)}
}

func (*RandomAgent) Name() string { return KindRandom }

func (a *RandomAgent) Decide(_ context.Context, s *battle.Snapshot) (int, error) {
	if len(s.Legal) == 0 {
		return -1, ErrNoLegalActions
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return s.Legal[a.rng.Intn(len(s.Legal))], nil
}
