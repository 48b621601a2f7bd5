package agent

import (
	"context"
	"math"

	"github.com/freeeve/kriegsim/pkg/battle"
)

// GreedyAgent takes the attack that covers the most enemy units. With no
// enemy in reach it moves whichever unit gets closest to an enemy,
// preferring better terrain on ties.
type GreedyAgent struct{}

// NewGreedyAgent returns a greedy agent. It is stateless and deterministic.
func NewGreedyAgent() *GreedyAgent { return &GreedyAgent{} }

func (*GreedyAgent) Name() string { return KindGreedy }

func (*GreedyAgent) Decide(_ context.Context, s *battle.Snapshot) (int, error) {
	if len(s.Legal) == 0 {
		return -1, ErrNoLegalActions
	}
	enemyPlane := battle.PlaneOwner1
	if s.Player == battle.Player1 {
		enemyPlane = battle.PlaneOwner0
	}
	enemies := occupiedCells(s, enemyPlane)

	bestAttack, bestHits := -1, 0
	bestMove, bestDist, bestTerrain := -1, math.MaxInt, float32(-1)
	for _, a := range s.Legal {
		slot, kind, target, err := battle.SplitAction(a)
		if err != nil || slot >= len(s.Slots) {
			continue
		}
		switch kind {
		case battle.IntentAttack:
			hits := 0
			for _, c := range battle.Footprint(s.Slots[slot].Stats.AoE, target) {
				if s.CellValue(enemyPlane, c) > 0 {
					hits++
				}
			}
			if hits > bestHits {
				bestAttack, bestHits = a, hits
			}
		case battle.IntentMove:
			d := nearest(enemies, target)
			t := s.CellValue(battle.PlaneTerrain, target)
			if d < bestDist || (d == bestDist && t > bestTerrain) {
				bestMove, bestDist, bestTerrain = a, d, t
			}
		}
	}

	switch {
	case bestAttack >= 0:
		return bestAttack, nil
	case bestMove >= 0:
		return bestMove, nil
	}
	return s.Legal[0], nil
}

func occupiedCells(s *battle.Snapshot, plane int) []battle.Cell {
	var cells []battle.Cell
	for r := 0; r < battle.BoardSize; r++ {
		for c := 0; c < battle.BoardSize; c++ {
			if s.Planes[plane][r][c] > 0 {
				cells = append(cells, battle.Cell{Row: r, Col: c})
			}
		}
	}
	return cells
}

// nearest is the Chebyshev distance from c to the closest of cells.
func nearest(cells []battle.Cell, c battle.Cell) int {
	best := math.MaxInt
	for _, e := range cells {
		if d := battle.Chebyshev.Distance(e, c); d < best {
			best = d
		}
	}
	return best
}
