package agent

import (
	"math/rand"
	"time"
)

// newRng returns a source for one agent. Seed 0 draws a fresh seed.
func newRng(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
