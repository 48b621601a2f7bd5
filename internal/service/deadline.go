package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisrepo "github.com/freeeve/kriegsim/internal/repository/redis"
)

// DeadlineListener listens for Redis keyspace notifications on expired
// deadline keys and plays the stalled seat's turn. A poller backs it up
// when notifications are unavailable.
type DeadlineListener struct {
	rdb      *redis.Client
	svc      *BattleService
	interval time.Duration
}

// NewDeadlineListener creates a DeadlineListener. A nil rdb runs the
// poller alone.
func NewDeadlineListener(rdb *redis.Client, svc *BattleService) *DeadlineListener {
	return &DeadlineListener{rdb: rdb, svc: svc, interval: 10 * time.Second}
}

// Start begins listening for expired key events and runs the polling
// fallback until ctx ends.
func (d *DeadlineListener) Start(ctx context.Context) {
	if d.rdb != nil {
		go d.listenKeyspace(ctx)
	}
	d.pollDeadlines(ctx)
}

func (d *DeadlineListener) listenKeyspace(ctx context.Context) {
	pubsub := d.rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	defer pubsub.Close()

	log.Info().Msg("Deadline listener started, listening for expired keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			d.handleExpiry(ctx, msg.Payload)
		}
	}
}

func (d *DeadlineListener) pollDeadlines(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", d.interval).Msg("Turn deadline poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Turn deadline poller stopped")
			return
		case <-ticker.C:
			d.svc.CheckDeadlines(ctx)
		}
	}
}

// handleExpiry acts on expired deadline keys and ignores everything else.
func (d *DeadlineListener) handleExpiry(ctx context.Context, key string) {
	battleID, ok := redisrepo.DeadlineBattleID(key)
	if !ok {
		return
	}
	log.Info().Str("battleId", battleID).Msg("Turn deadline expired")
	if err := d.svc.ForceTurn(ctx, battleID); err != nil {
		log.Error().Err(err).Str("battleId", battleID).Msg("Forced turn failed after deadline expiry")
	}
}
