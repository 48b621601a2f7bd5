package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/model"
)

// Orchestrator plays the seats it holds tokens for in a battle hosted by
// the server. It waits for turn events over WebSocket and falls back to
// polling when they do not arrive.
type Orchestrator struct {
	client   *Client
	battleID string
	agents   map[int]Agent

	// PollInterval bounds how long the orchestrator waits for an event
	// before asking the server again.
	PollInterval time.Duration
	// MaxRejects resigns the seat after this many refused actions in a
	// row.
	MaxRejects int

	streak int
}

// RemoteResult summarises a finished remote battle.
type RemoteResult struct {
	BattleID string
	Status   string
	Outcome  string
	Reason   string
	Winner   *int
	Turns    int
	Actions  int
	Rejects  int
}

// NewOrchestrator creates an Orchestrator playing agents[player] for each
// player key. The client must hold a seat token for every such player.
func NewOrchestrator(client *Client, battleID string, agents map[int]Agent) *Orchestrator {
	return &Orchestrator{
		client:       client,
		battleID:     battleID,
		agents:       agents,
		PollInterval: 2 * time.Second,
		MaxRejects:   DefaultMaxRejects,
	}
}

// Run plays until the battle is over or ctx ends.
func (o *Orchestrator) Run(ctx context.Context) (*RemoteResult, error) {
	for player := range o.agents {
		if o.client.Token(player) == "" {
			return nil, fmt.Errorf("no seat token for player %d", player)
		}
	}
	if err := o.client.ConnectWS(ctx, o.battleID); err != nil {
		log.Warn().Err(err).Str("battleId", o.battleID).Msg("WebSocket unavailable, polling only")
	} else {
		defer o.client.CloseWS()
	}

	res := &RemoteResult{BattleID: o.battleID}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		info, err := o.client.GetBattle(ctx, o.battleID)
		if err != nil {
			return res, fmt.Errorf("get battle: %w", err)
		}
		res.Turns = info.Turn
		if info.Status != model.StatusActive {
			res.Status, res.Outcome, res.Reason, res.Winner = info.Status, info.Outcome, info.Reason, info.Winner
			log.Info().Str("battleId", o.battleID).Str("status", info.Status).Str("outcome", info.Outcome).
				Str("reason", info.Reason).Int("turns", info.Turn).Msg("Remote battle over")
			return res, nil
		}

		a, ours := o.agents[info.Active]
		if !ours {
			if err := o.wait(ctx); err != nil {
				return res, err
			}
			continue
		}
		if err := o.play(ctx, a, info.Active, res); err != nil {
			return res, err
		}
	}
}

// play decides and submits one action for player.
func (o *Orchestrator) play(ctx context.Context, a Agent, player int, res *RemoteResult) error {
	snap, err := o.client.Snapshot(ctx, o.battleID, player)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if len(snap.Legal) == 0 {
		// state moved on between the two reads
		return nil
	}
	action, err := a.Decide(ctx, snap)
	if err != nil {
		log.Warn().Err(err).Str("agent", a.Name()).Int("player", player).Msg("Agent failed, playing greedy")
		if action, err = NewGreedyAgent().Decide(ctx, snap); err != nil {
			return err
		}
	}

	reply, err := o.client.SubmitAction(ctx, o.battleID, player, action)
	switch {
	case err == nil:
		res.Actions++
		o.streak = 0
		log.Debug().Str("battleId", o.battleID).Int("player", player).Int("action", action).
			Float64("reward", reply.Reward).Int("replies", len(reply.Auto)).Msg("Action accepted")
		return nil
	case Rejected(err):
		res.Rejects++
		o.streak++
		log.Warn().Err(err).Str("agent", a.Name()).Int("player", player).Int("streak", o.streak).Msg("Action rejected")
		if o.streak >= o.MaxRejects {
			log.Warn().Int("player", player).Msg("Too many rejected actions, resigning")
			return o.client.Resign(ctx, o.battleID, player)
		}
		return nil
	case Conflict(err):
		log.Debug().Err(err).Int("player", player).Msg("Action raced the server, retrying")
		return o.sleep(ctx, 100*time.Millisecond)
	}
	return fmt.Errorf("submit action: %w", err)
}

// wait blocks until a battle event arrives or the poll interval passes.
func (o *Orchestrator) wait(ctx context.Context) error {
	timer := time.NewTimer(o.PollInterval)
	defer timer.Stop()
	events := o.client.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch event.Type {
			case "turn", "battle_finished":
				return nil
			}
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
