package model

import (
	"encoding/json"
	"time"
)

// Battle statuses.
const (
	StatusActive   = "active"
	StatusFinished = "finished"
	StatusAborted  = "aborted"
)

// Seat kinds.
const (
	SeatHuman = "human"
	SeatAgent = "agent"
)

// Battle is a hosted or arena battle.
type Battle struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Scenario string          `json:"scenario,omitempty"`
	Status   string          `json:"status"` // active, finished, aborted
	Winner   *int            `json:"winner,omitempty"`
	Outcome  string          `json:"outcome,omitempty"` // win, draw
	Reason   string          `json:"reason,omitempty"`
	Rules    json.RawMessage `json:"rules"`
	// Opening is the BFEN the battle started from.
	Opening    string     `json:"opening"`
	Turn       int        `json:"turn"`
	Seats      []Seat     `json:"seats,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Seat is one side of a battle and who plays it.
type Seat struct {
	BattleID string `json:"battle_id"`
	Player   int    `json:"player"`
	Kind     string `json:"kind"` // human, agent
	Agent    string `json:"agent,omitempty"`
}

// SeatFor returns the seat of player, if any.
func (b *Battle) SeatFor(player int) *Seat {
	for i := range b.Seats {
		if b.Seats[i].Player == player {
			return &b.Seats[i]
		}
	}
	return nil
}

// Turn is the persisted feedback record of one accepted action.
type Turn struct {
	ID       string          `json:"id"`
	BattleID string          `json:"battle_id"`
	Turn     int             `json:"turn"`
	Player   int             `json:"player"`
	Action   int             `json:"action"`
	Result   json.RawMessage `json:"result"` // battle.StepResult
	Reward   float64         `json:"reward"`
	// Position is the BFEN after the action.
	Position  string    `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}
