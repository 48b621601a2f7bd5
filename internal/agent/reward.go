package agent

import "github.com/freeeve/kriegsim/pkg/battle"

// Reward shaping constants.
const (
	RewardDamage     = 20.0 // per point of damage dealt
	RewardKill       = 100.0
	RewardMove       = 2.0
	RewardHighGround = 8.0 // move ending on high ground
	RewardTrench     = 5.0 // move ending in a trench
	RewardApproach   = 10.0
	RewardRejected   = -1.0

	// ApproachRadius is how close to an enemy a move must end to earn
	// RewardApproach.
	ApproachRadius = 5
)

// Reward scores one step for the acting player. before is the snapshot
// the action was chosen from. Damage counts only hits landed by the
// acting player's own attacks, including its delayed attacks that resolved
// during the step.
func Reward(before *battle.Snapshot, res *battle.StepResult) float64 {
	if !res.Accepted {
		return RewardRejected
	}
	var r float64
	for _, h := range res.Hits {
		r += hitReward(h, res.Player)
	}
	for _, im := range res.Impacts {
		if im.Attack.Owner != res.Player {
			continue
		}
		for _, h := range im.Hits {
			r += hitReward(h, res.Player)
		}
	}

	if res.Intent.Kind == battle.IntentMove {
		r += RewardMove
		dest := res.Intent.Target
		switch before.CellValue(battle.PlaneTerrain, dest) {
		case battle.TerrainValue(battle.HighGround):
			r += RewardHighGround
		case battle.TerrainValue(battle.Trench):
			r += RewardTrench
		}
		enemyPlane := battle.PlaneOwner1
		if res.Player == battle.Player1 {
			enemyPlane = battle.PlaneOwner0
		}
		if nearest(occupiedCells(before, enemyPlane), dest) <= ApproachRadius {
			r += RewardApproach
		}
	}
	return r
}

func hitReward(h battle.Hit, player battle.Player) float64 {
	if h.Owner == player {
		return 0
	}
	r := RewardDamage * float64(h.Damage)
	if h.Lethal {
		r += RewardKill
	}
	return r
}
